// Package redislock shares the one-run-per-connection rule across replicas.
package redislock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"bankrecon/internal/domain/ingestion"
)

const keyPrefix = "bankrecon:ingestion:run:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-taken by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Guard is an ingestion.RunGuard backed by Redis SET NX PX.
type Guard struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    zerolog.Logger
}

var _ ingestion.RunGuard = (*Guard)(nil)

// New returns a guard whose locks expire after ttl if a holder dies.
func New(client redis.UniversalClient, ttl time.Duration, log zerolog.Logger) *Guard {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Guard{client: client, ttl: ttl, log: log}
}

func (g *Guard) TryAcquire(ctx context.Context, connectionID string) (func(), bool, error) {
	key := keyPrefix + connectionID
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to take run lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	return func() {
		// Release must run even when the run's ctx was cancelled.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, g.client, []string{key}, token).Err(); err != nil {
			g.log.Error().Err(err).Str("connection_id", connectionID).Msg("failed to release run lock")
		}
	}, true, nil
}

// NewClient opens a Redis client and checks it answers.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}
