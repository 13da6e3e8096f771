// Package cache queues and drains invalidations for the read side's redis
// cache. Producers write keys into cache_purge inside the transaction that
// changed the data; the purger deletes them from redis later.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"trends-importer/internal/db"
	"trends-importer/internal/logger"
)

// Keys that are not per record
const (
	Matches = "matches"
	Demos   = "demos"
)

// LogKey is the cache key of one log
func LogKey(id int64) string {
	return "log:" + strconv.FormatInt(id, 10)
}

// PlayerKey is the cache key of one player's pages
func PlayerKey(steamid64 int64) string {
	return "player:" + strconv.FormatInt(steamid64, 10)
}

// Enqueue queues keys for purging
func Enqueue(ctx context.Context, q db.Querier, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, "INSERT INTO cache_purge (key) SELECT unnest($1::TEXT[])", keys)
	return db.Classify("enqueue cache purge", err)
}

// EnqueueLogs queues every staged log and the players in it
func EnqueueLogs(ctx context.Context, q db.Querier) error {
	_, err := q.Exec(ctx, `INSERT INTO cache_purge (key)
		SELECT 'log:' || logid FROM staged_log
		UNION
		SELECT 'player:' || steamid64 FROM staged_player_stats`)
	return db.Classify("enqueue log cache purge", err)
}

// Deleter is the part of a redis client the purger needs
type Deleter interface {
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Connect opens a redis client from a redis:// URL
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Purger drains the purge queue into redis
type Purger struct {
	db    db.Beginner
	redis Deleter
	batch int
	log   *logger.Logger
}

// NewPurger creates a purger that dequeues up to batch keys per transaction
func NewPurger(q db.Beginner, rdb Deleter, batch int, log *logger.Logger) *Purger {
	if log == nil {
		log = logger.Discard()
	}
	if batch <= 0 {
		batch = 100
	}
	return &Purger{db: q, redis: rdb, batch: batch, log: log.WithComponent("cache")}
}

// Drain purges until the queue is empty and returns the number of keys
// dequeued. Rows locked by another purger are skipped, not waited for.
func (p *Purger) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := p.purgeBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < p.batch {
			break
		}
	}
	if total > 0 {
		p.log.Info("Purged cache keys", "count", total)
	}
	return total, nil
}

// purgeBatch dequeues and deletes one batch. A failed redis delete rolls the
// dequeue back so the keys stay queued.
func (p *Purger) purgeBatch(ctx context.Context) (int, error) {
	n := 0
	err := db.InTx(ctx, p.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `DELETE FROM cache_purge
			WHERE id IN (
				SELECT id FROM cache_purge
				ORDER BY id
				LIMIT $1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING key`, p.batch)
		if err != nil {
			return db.Classify("dequeue cache purge", err)
		}
		keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return db.Classify("dequeue cache purge", err)
		}
		n = len(keys)
		if n == 0 {
			return nil
		}

		if err := p.redis.Del(ctx, unique(keys)...).Err(); err != nil {
			p.log.Warn("redis delete failed, keys stay queued", "count", n, "error", err)
			return fmt.Errorf("delete cache keys: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func unique(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
