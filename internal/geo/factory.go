package geo

import "github.com/redis/go-redis/v9"

// New selects a Geo-Index backend by name. "redis" requires a non-nil
// client; "h3" and anything else (including "memory") fall back to the
// in-process implementations.
func New(backend string, redisClient *redis.Client) Index {
	switch backend {
	case "redis":
		if redisClient != nil {
			return NewRedisIndex(redisClient)
		}
		return NewMemoryIndex()
	case "h3":
		return NewH3Index()
	default:
		return NewMemoryIndex()
	}
}
