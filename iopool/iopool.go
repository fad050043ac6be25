// Package iopool provides a fixed-capacity pool of reusable I/O contexts. Each
// context is bound once, at construction, to a region of a slab.Slab and is
// recycled between connections instead of being reallocated.
package iopool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cyberinferno/gemcarry/slab"
)

var (
	// ErrPoolExhausted is returned by Acquire when every context is in use.
	ErrPoolExhausted = errors.New("iopool: no free io context")

	// ErrNotInUse is returned by Release for a context that is already free.
	ErrNotInUse = errors.New("iopool: io context is not in use")

	// ErrForeignContext is returned by Release for a context owned by another pool.
	ErrForeignContext = errors.New("iopool: io context does not belong to this pool")
)

// OpKind identifies the last socket operation performed with a context.
type OpKind int

const (
	OpNone OpKind = iota
	OpAccept
	OpReceive
	OpSend
)

// String returns a human-readable name for the operation kind.
func (k OpKind) String() string {
	switch k {
	case OpNone:
		return "none"
	case OpAccept:
		return "accept"
	case OpReceive:
		return "receive"
	case OpSend:
		return "send"
	default:
		return "unknown"
	}
}

// Owner is the connection currently holding a context.
type Owner interface {
	ID() uint32
}

// IoContext is one reusable I/O operation context. The buffer region is fixed
// for the lifetime of the pool; the owner and last operation change with every
// acquisition. An IoContext is only touched by the goroutine that acquired it.
type IoContext struct {
	id     int
	pool   *Pool
	buf    []byte
	owner  Owner
	lastOp OpKind
	inUse  bool
}

// ID returns the context's index in its pool.
func (c *IoContext) ID() int {
	return c.id
}

// Buffer returns the slab region assigned to this context.
func (c *IoContext) Buffer() []byte {
	return c.buf
}

// Owner returns the connection holding the context, or nil when unbound.
func (c *IoContext) Owner() Owner {
	return c.owner
}

// Bind associates the context with the connection that acquired it.
func (c *IoContext) Bind(o Owner) {
	c.owner = o
}

// LastOp returns the last operation recorded on the context.
func (c *IoContext) LastOp() OpKind {
	return c.lastOp
}

// SetLastOp records the operation about to be performed with the context.
func (c *IoContext) SetLastOp(k OpKind) {
	c.lastOp = k
}

// Pool is a LIFO stack of IoContexts guarded by a single mutex. Acquire never
// blocks waiting for a context: an empty pool is reported immediately so the
// caller can refuse the connection.
type Pool struct {
	mu       sync.Mutex
	free     []*IoContext
	capacity int
}

// New builds a pool of capacity contexts, binding each to the next unit of s.
//
// Parameters:
//   - capacity: The number of contexts, i.e. the maximum concurrent connections
//   - s: The slab the context buffers are assigned from
//
// Returns:
//   - The new Pool with every context free
//   - An error wrapping slab.ErrSlabExhausted if s cannot back every context
func New(capacity int, s *slab.Slab) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("iopool: capacity must be positive, got %d", capacity)
	}

	p := &Pool{
		free:     make([]*IoContext, 0, capacity),
		capacity: capacity,
	}

	for i := 0; i < capacity; i++ {
		buf, err := s.Assign()
		if err != nil {
			return nil, fmt.Errorf("iopool: binding context %d: %w", i, err)
		}

		p.free = append(p.free, &IoContext{id: i, pool: p, buf: buf})
	}

	return p, nil
}

// Acquire pops a free context.
//
// Returns:
//   - A context marked in use with no owner bound
//   - ErrPoolExhausted if no context is free
func (p *Pool) Acquire() (*IoContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		return nil, ErrPoolExhausted
	}

	c := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	c.inUse = true
	return c, nil
}

// Release returns a context to the pool and clears its owner and last
// operation. It must be called exactly once per successful Acquire.
//
// Parameters:
//   - c: The context to release
//
// Returns:
//   - ErrForeignContext if c was not created by this pool
//   - ErrNotInUse if c is already free
func (p *Pool) Release(c *IoContext) error {
	if c == nil || c.pool != p {
		return ErrForeignContext
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !c.inUse {
		return ErrNotInUse
	}

	c.inUse = false
	c.owner = nil
	c.lastOp = OpNone
	p.free = append(p.free, c)
	return nil
}

// Capacity returns the fixed number of contexts in the pool.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Free returns the number of contexts available for Acquire.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// InUse returns the number of contexts currently acquired.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity - len(p.free)
}
