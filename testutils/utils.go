package testutils

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/go-redis/redis/v8"
)

func TestRedisClient() *redis.Client {
	redisHost := "127.0.0.1"
	if os.Getenv("REDIS_HOST") != "" {
		redisHost = os.Getenv("REDIS_HOST")
	}
	return redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", redisHost, 6379),
	})
}

func TestRandomString(n int) string {
	var letterRunes = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

	b := make([]rune, n)
	for i := range b {
		b[i] = letterRunes[rand.Intn(len(letterRunes))]
	}
	return string(b)
}
