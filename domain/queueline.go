package queueline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nlopes/slack"
	"github.com/pkg/errors"
)

// QueueRepositoryer persists the full line as one opaque snapshot.
type QueueRepositoryer interface {
	SaveQueue(context.Context, []Entrant) error
	LoadQueue(context.Context) ([]Entrant, error)
}

const saveRetryDelay = time.Second

// Queueline owns the waiting line and its persistence. The in-memory store is
// always authoritative, a failed save never rolls a mutation back.
type Queueline struct {
	config     *Config
	store      *QueueStore
	repository QueueRepositoryer
}

func NewQueueline(config *Config, store *QueueStore, r QueueRepositoryer) *Queueline {
	return &Queueline{
		config:     config,
		store:      store,
		repository: r,
	}
}

// Restore loads the persisted snapshot into the store. An empty store is not
// an error, the service starts with a fresh line.
func (s *Queueline) Restore(ctx context.Context) error {
	entrants, err := s.repository.LoadQueue(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load queue snapshot")
	}
	if len(entrants) > 0 {
		s.store.Reset(entrants)
		slog.Info("restored queue from snapshot", slog.Int("entrants", len(entrants)))
	}
	return nil
}

// Join validates and appends a new entrant, then persists in the background.
func (s *Queueline) Join(ctx context.Context, name string) (Entrant, error) {
	entrant, evicted, err := s.store.Join(name)
	if err != nil {
		return Entrant{}, err
	}
	if evicted != nil {
		slog.Warn("queue is full, evicted the front entrant",
			slog.String("id", evicted.ID),
			slog.String("name", evicted.Name),
		)
	}
	s.saveAsync(false)
	return entrant, nil
}

// Leave removes an entrant at their own request.
func (s *Queueline) Leave(ctx context.Context, id string) bool {
	removed := s.store.Leave(id)
	if removed {
		s.saveAsync(false)
	}
	return removed
}

// Remove is the admin removal path. On a save failure it retries once after a
// fixed delay before giving up.
func (s *Queueline) Remove(ctx context.Context, id string) bool {
	removed := s.store.Remove(id)
	s.saveAsync(true)
	return removed
}

// Move swaps an entrant with its neighbor.
func (s *Queueline) Move(ctx context.Context, id string, direction Direction) bool {
	moved := s.store.Move(id, direction)
	if moved {
		s.saveAsync(false)
	}
	return moved
}

// Clear empties the line and persists synchronously so that the admin gets an
// error reply when the snapshot could not be written.
func (s *Queueline) Clear(ctx context.Context) (int, error) {
	n := s.store.Clear()
	if err := s.repository.SaveQueue(ctx, s.store.Snapshot()); err != nil {
		return n, errors.Wrap(err, "failed to save cleared queue")
	}
	s.notifySlack(fmt.Sprintf("Queue cleared by admin (%d entrants removed)", n))
	return n, nil
}

// Save persists the current snapshot synchronously and returns its length.
func (s *Queueline) Save(ctx context.Context) (int, error) {
	snapshot := s.store.Snapshot()
	if err := s.repository.SaveQueue(ctx, snapshot); err != nil {
		return 0, errors.Wrap(err, "failed to save queue snapshot")
	}
	return len(snapshot), nil
}

// SweepStale evicts entrants that waited longer than the configured maximum
// and persists the result. Returns the evicted entrants.
func (s *Queueline) SweepStale(ctx context.Context) []Entrant {
	removed := s.store.EvictStale(time.Duration(s.config.MaxWaitSec) * time.Second)
	if len(removed) == 0 {
		return nil
	}

	slog.Info("removed stale entrants", slog.Int("count", len(removed)))
	s.saveAsync(false)
	s.notifySlack(fmt.Sprintf("Removed %d stale entrants from the queue", len(removed)))
	return removed
}

func (s *Queueline) Snapshot() []Entrant {
	return s.store.Snapshot()
}

func (s *Queueline) Len() int {
	return s.store.Len()
}

// saveAsync writes the snapshot in the background. Persistence failures are
// logged and the in-memory line keeps serving.
func (s *Queueline) saveAsync(retry bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := s.repository.SaveQueue(ctx, s.store.Snapshot())
		if err == nil {
			return
		}
		slog.Error("failed to save queue snapshot", slog.String("error", err.Error()))
		if !retry {
			return
		}

		time.Sleep(saveRetryDelay)
		if err := s.repository.SaveQueue(ctx, s.store.Snapshot()); err != nil {
			slog.Error("retrying queue snapshot save failed", slog.String("error", err.Error()))
			return
		}
		slog.Info("retrying queue snapshot save succeeded")
	}()
}

func (s *Queueline) notifySlack(message string) {
	if s.config.SlackApiToken == "" || s.config.SlackChannel == "" {
		return
	}

	c := slack.New(s.config.SlackApiToken)
	_, _, err := c.PostMessage(s.config.SlackChannel, slack.MsgOptionBlocks(
		slack.NewSectionBlock(
			&slack.TextBlockObject{Type: "mrkdwn", Text: fmt.Sprintf("*%s*", message)},
			[]*slack.TextBlockObject{
				{Type: "plain_text", Text: fmt.Sprintf("QueueLength: %d", s.store.Len())},
				{Type: "plain_text", Text: fmt.Sprintf("Time: %s", time.Now().Format("2006-01-02 15:04:05"))},
			},
			nil,
		),
	))
	if err != nil {
		slog.Error(
			"failed to notify slack",
			slog.String("error", err.Error()),
		)
	}
}
