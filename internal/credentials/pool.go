package credentials

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrConfiguration is returned when the pool cannot be built from the supplied keys.
var ErrConfiguration = errors.New("configuration error")

// Credential is one provider API key and its position in the pool.
type Credential struct {
	Index int
	Key   string
}

// Pool rotates through an ordered set of API keys.
// The cursor is the only mutable state; all access is under mu.
type Pool struct {
	mu     sync.Mutex
	keys   []string
	cursor int
}

// NewPool builds a pool from keys in order. Blank keys are dropped.
// Returns ErrConfiguration if no usable key remains.
func NewPool(keys []string) (*Pool, error) {
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: credential pool is empty", ErrConfiguration)
	}
	return &Pool{keys: cleaned}, nil
}

// Size returns the number of keys in the pool.
func (p *Pool) Size() int {
	return len(p.keys)
}

// Next returns the key at the cursor and advances the cursor, wrapping at the end.
func (p *Pool) Next() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := Credential{Index: p.cursor, Key: p.keys[p.cursor]}
	p.cursor = (p.cursor + 1) % len(p.keys)
	return c
}

// Penalize skips the cursor past c if it currently points at it, so the next
// caller does not reuse a key that was just rate limited or rejected.
func (p *Pool) Penalize(c Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor == c.Index {
		p.cursor = (p.cursor + 1) % len(p.keys)
	}
}

// Cursor returns the index the next call to Next will use.
func (p *Pool) Cursor() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}
