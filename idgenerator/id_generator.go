// Package idgenerator hands out process-unique uint32 ids for connections and
// game sessions.
package idgenerator

import "sync/atomic"

// IdGenerator generates monotonically increasing, non-zero uint32 ids in a
// concurrency-safe manner. Zero is reserved to mean "no id" on the wire and in
// logs, so the counter skips it when it wraps around.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first Id() returns startValue+1
// (or 1 when that would be zero).
//
// Parameters:
//   - startValue: The value to initialize the counter to
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next id. It is safe for concurrent use by multiple goroutines.
//
// Returns:
//   - The next non-zero uint32 id
func (l *IdGenerator) Id() uint32 {
	for {
		if id := l.id.Add(1); id != 0 {
			return id
		}
	}
}

// Last returns the most recently issued id, or the start value if none has
// been issued yet.
func (l *IdGenerator) Last() uint32 {
	return l.id.Load()
}
