// Package slab provides a fixed-unit byte slab: one contiguous allocation
// carved into equally sized, non-overlapping regions that are handed out
// exactly once for the lifetime of the process.
package slab

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSlabExhausted is returned by Assign once every unit has been handed out.
	ErrSlabExhausted = errors.New("slab: no free units left")

	// ErrInvalidSize is returned by New for a non-positive unit size or a total
	// that cannot hold a single unit.
	ErrInvalidSize = errors.New("slab: invalid size")
)

// Slab owns one large byte region and assigns fixed-size units from it with a
// monotonic cursor. Units are never returned: their lifetime equals the
// lifetime of the slab. Slab is safe for concurrent use.
type Slab struct {
	mu       sync.Mutex
	buf      []byte
	unitSize int
	units    int
	cursor   int
}

// New reserves a slab able to hold totalBytes/unitSize units of unitSize bytes.
// Any remainder of totalBytes that does not fill a whole unit is not allocated.
//
// Parameters:
//   - totalBytes: The total number of bytes to reserve
//   - unitSize: The size in bytes of every unit handed out by Assign
//
// Returns:
//   - The new Slab
//   - ErrInvalidSize if unitSize is not positive or totalBytes < unitSize
func New(totalBytes, unitSize int) (*Slab, error) {
	if unitSize <= 0 || totalBytes < unitSize {
		return nil, fmt.Errorf("%w: total %d, unit %d", ErrInvalidSize, totalBytes, unitSize)
	}

	units := totalBytes / unitSize
	return &Slab{
		buf:      make([]byte, units*unitSize),
		unitSize: unitSize,
		units:    units,
	}, nil
}

// Assign binds the next unused unit. The returned slice has both length and
// capacity equal to the unit size, so appending to it reallocates instead of
// spilling into the neighbouring unit.
//
// Returns:
//   - The assigned unit
//   - ErrSlabExhausted if every unit has already been assigned
func (s *Slab) Assign() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor >= s.units {
		return nil, ErrSlabExhausted
	}

	start := s.cursor * s.unitSize
	end := start + s.unitSize
	s.cursor++
	return s.buf[start:end:end], nil
}

// Units returns the total number of units the slab holds.
func (s *Slab) Units() int {
	return s.units
}

// UnitSize returns the size of one unit in bytes.
func (s *Slab) UnitSize() int {
	return s.unitSize
}

// Assigned returns how many units have been handed out so far.
func (s *Slab) Assigned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Size returns the number of bytes actually reserved.
func (s *Slab) Size() int {
	return len(s.buf)
}
