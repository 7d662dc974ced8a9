// Package sink persists the latest weather record per district.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kjstillabower/weather-sync/internal/models"
	"github.com/kjstillabower/weather-sync/internal/observability"
)

// ErrWrite wraps every failed upsert.
var ErrWrite = errors.New("sink write failed")

// Sink stores one record per district id. Upsert replaces the prior record entirely.
type Sink interface {
	Upsert(ctx context.Context, districtID string, rec models.WeatherRecord) error
}

func writeError(districtID string, err error) error {
	return fmt.Errorf("%w: district %s: %w", ErrWrite, districtID, err)
}

// MemorySink keeps records in a map. Safe for concurrent use.
type MemorySink struct {
	mu   sync.RWMutex
	data map[string]models.WeatherRecord
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{data: make(map[string]models.WeatherRecord)}
}

// Upsert implements Sink.
func (s *MemorySink) Upsert(ctx context.Context, districtID string, rec models.WeatherRecord) error {
	if err := ctx.Err(); err != nil {
		return writeError(districtID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[districtID] = rec
	return nil
}

// Get returns the stored record for districtID.
func (s *MemorySink) Get(districtID string) (models.WeatherRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[districtID]
	return rec, ok
}

// Len returns the number of stored districts.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Instrumented records sinkWritesTotal for every upsert on the wrapped sink.
type Instrumented struct {
	next    Sink
	backend string
}

// Instrument wraps s so writes are counted under backend.
func Instrument(s Sink, backend string) *Instrumented {
	return &Instrumented{next: s, backend: backend}
}

// Upsert implements Sink.
func (i *Instrumented) Upsert(ctx context.Context, districtID string, rec models.WeatherRecord) error {
	err := i.next.Upsert(ctx, districtID, rec)
	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = "timeout"
		}
	}
	observability.SinkWritesTotal.WithLabelValues(i.backend, status).Inc()
	return err
}
