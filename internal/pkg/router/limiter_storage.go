package router

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"
	redisclient "github.com/redis/go-redis/v9"
)

// limiterDatabase keeps rate limit counters apart from the cache and job queue.
const limiterDatabase = 2

// NewLimiterStorage builds a Redis backed fiber.Storage on the same server as
// the cache client.
func NewLimiterStorage(cacheClient *redisclient.Client) fiber.Storage {
	host := "localhost"
	port := 6379
	password := ""
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		password = cacheClient.Options().Password
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
