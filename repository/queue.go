package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	queueline "github.com/pyama86/queueline/domain"
)

const queueKey = "queueline_queue"

// QueueRepository stores the whole line as a single JSON blob under a fixed
// key. The blob is small enough that partial updates are not worth it.
type QueueRepository struct {
	redisC *redis.Client
}

func NewQueueRepository(redisC *redis.Client) *QueueRepository {
	return &QueueRepository{
		redisC: redisC,
	}
}

func (r *QueueRepository) SaveQueue(ctx context.Context, entrants []queueline.Entrant) error {
	if entrants == nil {
		entrants = []queueline.Entrant{}
	}
	data, err := json.Marshal(entrants)
	if err != nil {
		return fmt.Errorf("failed to marshal queue snapshot: %v", err)
	}
	return r.redisC.Set(ctx, queueKey, data, 0).Err()
}

func (r *QueueRepository) LoadQueue(ctx context.Context) ([]queueline.Entrant, error) {
	data, err := r.redisC.Get(ctx, queueKey).Bytes()
	if err != nil {
		// 保存済みスナップショットが無い場合は空の行列で開始する
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var entrants []queueline.Entrant
	if err := json.Unmarshal(data, &entrants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue snapshot: %v", err)
	}
	return entrants, nil
}
