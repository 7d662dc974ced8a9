package sink

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/weather-sync/internal/models"
)

// RedisSink stores records as JSON strings under prefix+districtID.
type RedisSink struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisSink wraps rdb. An empty prefix defaults to "weather:".
func NewRedisSink(rdb redis.UniversalClient, prefix string) *RedisSink {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisSink{rdb: rdb, prefix: prefix}
}

func (s *RedisSink) key(districtID string) string {
	return s.prefix + districtID
}

// Upsert implements Sink.
func (s *RedisSink) Upsert(ctx context.Context, districtID string, rec models.WeatherRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return writeError(districtID, err)
	}
	if err := s.rdb.Set(ctx, s.key(districtID), raw, 0).Err(); err != nil {
		return writeError(districtID, err)
	}
	return nil
}

// Get returns the stored record. ok is false on a miss.
func (s *RedisSink) Get(ctx context.Context, districtID string) (models.WeatherRecord, bool, error) {
	raw, err := s.rdb.Get(ctx, s.key(districtID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.WeatherRecord{}, false, nil
		}
		return models.WeatherRecord{}, false, err
	}
	var rec models.WeatherRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.WeatherRecord{}, false, err
	}
	return rec, true, nil
}

// Ping checks if redis is reachable.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
