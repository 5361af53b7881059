package config

import (
	"context"
	"log"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

// ConnectRedisWithRetry connects and sets the global Redis client + lock client.
// Without REDIS_ADDRESS both stay nil: snapshot reads go to the database and the
// retention sweep runs unlocked, which is only safe with a single worker.
func ConnectRedisWithRetry(ctx context.Context, settings Settings) (*redis.Client, *redislock.Client) {
	if settings.RedisAddress == "" {
		log.Printf("REDIS_ADDRESS not set; snapshot cache and sweep lock disabled")
		return nil, nil
	}

	var attempt int
	for {
		attempt++
		client := redis.NewClient(&redis.Options{
			Addr:     settings.RedisAddress,
			Password: "",
			DB:       0, // use default DB
			PoolSize: 100,
		})
		err := client.Ping(ctx).Err()
		if err == nil {
			rdb = client
			locker = redislock.New(rdb)
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, settings.RedisAddress)
			return rdb, locker
		}
		_ = client.Close()

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, settings.RedisAddress, err, sleep)
		select {
		case <-ctx.Done():
			return nil, nil
		case <-time.After(sleep):
		}
	}
}
