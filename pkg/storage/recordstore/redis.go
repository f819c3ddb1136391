package recordstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each record as a hash at <table>:<partition>:<row> and
// indexes record keys per table in the set <table>:keys. Backslashes and
// colons inside each part are backslash-escaped.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

func openRedis(ctx context.Context, dsn string) (Store, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client), nil
}

// NewRedisStore wraps an existing client. Closing the store closes the client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

// RecordKey returns the hash key holding a record. Distinct
// (table, partition, row) triples always yield distinct keys.
func RecordKey(table, partition, row string) string {
	return keyEscaper.Replace(table) + ":" + keyEscaper.Replace(partition) + ":" + keyEscaper.Replace(row)
}

// IndexKey returns the set listing every record key of table.
func IndexKey(table string) string {
	return keyEscaper.Replace(table) + ":keys"
}

func (s *RedisStore) Upsert(ctx context.Context, table string, rec Record, mode Mode) error {
	if table == "" {
		return fmt.Errorf("table name is required")
	}
	partition, row, err := rec.Keys()
	if err != nil {
		return err
	}

	key := RecordKey(table, partition, row)
	fields := make([]any, 0, len(rec)*2)
	for k, v := range rec {
		fields = append(fields, k, v)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if mode == Replace {
			pipe.Del(ctx, key)
		}
		pipe.HSet(ctx, key, fields...)
		pipe.SAdd(ctx, IndexKey(table), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
