package auth

import (
	"context"
	"errors"

	"github.com/cyberinferno/gemcarry/safemap"
)

var (
	// ErrNotFound is returned when no record exists for an email.
	ErrNotFound = errors.New("auth: account not found")

	// ErrExists is returned by Create when the email is already registered.
	ErrExists = errors.New("auth: account already exists")
)

// Store persists account records keyed by normalized email. Any error other
// than ErrNotFound or ErrExists means the store could not be reached.
type Store interface {
	// Get loads the record for email or returns ErrNotFound.
	Get(ctx context.Context, email string) (Record, error)

	// Create inserts rec atomically, failing with ErrExists if its email is taken.
	Create(ctx context.Context, rec Record) error

	// Update replaces an existing record, failing with ErrNotFound if it is gone.
	Update(ctx context.Context, rec Record) error

	// Delete removes the record for email, failing with ErrNotFound if absent.
	Delete(ctx context.Context, email string) error
}

// MemoryStore is a process-local Store. Records are lost on restart.
type MemoryStore struct {
	records *safemap.SafeMap[string, Record]
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: safemap.NewSafeMap[string, Record]()}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, email string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	rec, ok := s.records.Load(email)
	if !ok {
		return Record{}, ErrNotFound
	}

	return rec, nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, loaded := s.records.LoadOrStore(rec.Email, rec); loaded {
		return ErrExists
	}

	return nil
}

// Update implements Store. A concurrent delete wins over the update.
func (s *MemoryStore) Update(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for {
		cur, ok := s.records.Load(rec.Email)
		if !ok {
			return ErrNotFound
		}

		if s.records.CompareAndSwap(rec.Email, cur, rec) {
			return nil
		}
	}
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, ok := s.records.LoadAndDelete(email); !ok {
		return ErrNotFound
	}

	return nil
}

// Len returns the number of stored accounts.
func (s *MemoryStore) Len() int {
	return s.records.Len()
}
