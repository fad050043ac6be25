package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cyberinferno/gemcarry/cacher"
	"github.com/cyberinferno/gemcarry/logger"
	"github.com/cyberinferno/gemcarry/mail"
)

// DefaultTimeout bounds one Manager operation including store round trips.
const DefaultTimeout = 5 * time.Second

// Option configures a Manager.
type Option func(*Manager)

// WithCache routes record reads through c. Writes invalidate the entry.
func WithCache(c cacher.Cacher[Record]) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithMailer sets the Sender used after a successful CreateUser.
func WithMailer(s mail.Sender) Option {
	return func(m *Manager) {
		m.mailer = s
	}
}

// WithTimeout sets the per-operation deadline.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// Manager is the account service used by the message handlers. Every method
// maps its outcome onto a Status; store failures are logged here and reported
// as StoreUnavailable.
type Manager struct {
	store   Store
	hasher  *Hasher
	cache   cacher.Cacher[Record]
	mailer  mail.Sender
	log     logger.Logger
	timeout time.Duration
}

// NewManager creates a Manager.
//
// Parameters:
//   - store: Account persistence
//   - hasher: Digest scheme for new and changed passwords
//   - log: Logger for store failures and account events
//   - opts: Optional cache, mailer and timeout
//
// Returns:
//   - A ready Manager
func NewManager(store Store, hasher *Hasher, log logger.Logger, opts ...Option) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}

	m := &Manager{
		store:   store,
		hasher:  hasher,
		log:     log,
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// NormalizeUsername trims and lower-cases a username. Usernames are email
// addresses and are stored in this form.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Login checks username and password.
//
// Returns:
//   - The account id on Success, "" otherwise
//   - Success, InvalidCredentials or StoreUnavailable
func (m *Manager) Login(ctx context.Context, username, password string) (string, Status) {
	email := NormalizeUsername(username)
	if email == "" || password == "" {
		return "", InvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rec, status := m.load(ctx, email, true)
	if status != Success {
		return "", status
	}

	if status := m.verify(password, rec); status != Success {
		return "", status
	}

	m.log.Debug("account authenticated", logger.Field{Key: "email", Value: email})
	return rec.AccountID, Success
}

// CreateUser registers a new, not yet validated account and sends its
// verification mail in the background.
//
// Returns:
//   - Success, AlreadyExists, InvalidCredentials (empty input) or StoreUnavailable
func (m *Manager) CreateUser(ctx context.Context, username, password string) Status {
	email := NormalizeUsername(username)
	if email == "" || password == "" {
		return InvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	digest, err := m.hasher.Hash(password)
	if err != nil {
		m.log.Error("password hashing failed", logger.Err(err))
		return StoreUnavailable
	}

	accountID, err := newUUID()
	if err != nil {
		m.log.Error("account id generation failed", logger.Err(err))
		return StoreUnavailable
	}

	token, err := newUUID()
	if err != nil {
		m.log.Error("verification token generation failed", logger.Err(err))
		return StoreUnavailable
	}

	rec := Record{Email: email, AccountID: accountID, VerificationToken: token}.withDigest(digest)

	switch err := m.store.Create(ctx, rec); {
	case errors.Is(err, ErrExists):
		m.log.Debug("account already exists", logger.Field{Key: "email", Value: email})
		return AlreadyExists
	case err != nil:
		m.log.Error("account create failed", logger.Field{Key: "email", Value: email}, logger.Err(err))
		return StoreUnavailable
	}

	m.invalidate(ctx, email)
	m.log.Info("account created", logger.Field{Key: "email", Value: email}, logger.Field{Key: "account_id", Value: accountID})

	mail.Dispatch(ctx, m.mailer, m.log, email, token)
	return Success
}

// UpdateCredentials replaces the password of an account after checking the
// current one.
//
// Returns:
//   - Success, InvalidCredentials or StoreUnavailable
func (m *Manager) UpdateCredentials(ctx context.Context, username, oldPassword, newPassword string) Status {
	email := NormalizeUsername(username)
	if email == "" || oldPassword == "" || newPassword == "" {
		return InvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rec, status := m.load(ctx, email, false)
	if status != Success {
		return status
	}

	if status := m.verify(oldPassword, rec); status != Success {
		return status
	}

	digest, err := m.hasher.Hash(newPassword)
	if err != nil {
		m.log.Error("password hashing failed", logger.Err(err))
		return StoreUnavailable
	}

	return m.update(ctx, rec.withDigest(digest), "account credentials updated")
}

// DeleteAccount removes an account after checking its password.
//
// Returns:
//   - Success, InvalidCredentials or StoreUnavailable
func (m *Manager) DeleteAccount(ctx context.Context, username, password string) Status {
	email := NormalizeUsername(username)
	if email == "" || password == "" {
		return InvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rec, status := m.load(ctx, email, false)
	if status != Success {
		return status
	}

	if status := m.verify(password, rec); status != Success {
		return status
	}

	switch err := m.store.Delete(ctx, email); {
	case errors.Is(err, ErrNotFound):
		return InvalidCredentials
	case err != nil:
		m.log.Error("account delete failed", logger.Field{Key: "email", Value: email}, logger.Err(err))
		return StoreUnavailable
	}

	m.invalidate(ctx, email)
	m.log.Info("account deleted", logger.Field{Key: "email", Value: email})
	return Success
}

// VerifyEmail marks an account validated when token matches the pending
// verification token. Verifying an already validated account fails.
//
// Returns:
//   - Success, InvalidCredentials or StoreUnavailable
func (m *Manager) VerifyEmail(ctx context.Context, email, token string) Status {
	email = NormalizeUsername(email)
	if email == "" || token == "" {
		return InvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	rec, status := m.load(ctx, email, false)
	if status != Success {
		return status
	}

	if rec.Validated || subtle.ConstantTimeCompare([]byte(rec.VerificationToken), []byte(token)) != 1 {
		return InvalidCredentials
	}

	rec.Validated = true
	rec.VerificationToken = ""
	return m.update(ctx, rec, "account email verified")
}

// load reads the record for email, through the cache when cached is true.
func (m *Manager) load(ctx context.Context, email string, cached bool) (Record, Status) {
	var (
		rec Record
		err error
	)

	if cached && m.cache != nil {
		rec, err = m.cache.GetOrFetch(ctx, email, func(ctx context.Context) (Record, error) {
			return m.store.Get(ctx, email)
		})
	} else {
		rec, err = m.store.Get(ctx, email)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		m.log.Debug("account not found", logger.Field{Key: "email", Value: email})
		return Record{}, InvalidCredentials
	case err != nil:
		m.log.Error("account lookup failed", logger.Field{Key: "email", Value: email}, logger.Err(err))
		return Record{}, StoreUnavailable
	}

	return rec, Success
}

func (m *Manager) verify(password string, rec Record) Status {
	ok, err := m.hasher.Verify(password, rec.digest())
	if err != nil {
		m.log.Error("stored digest unusable", logger.Field{Key: "email", Value: rec.Email}, logger.Err(err))
		return StoreUnavailable
	}

	if !ok {
		m.log.Debug("password mismatch", logger.Field{Key: "email", Value: rec.Email})
		return InvalidCredentials
	}

	return Success
}

func (m *Manager) update(ctx context.Context, rec Record, event string) Status {
	switch err := m.store.Update(ctx, rec); {
	case errors.Is(err, ErrNotFound):
		return InvalidCredentials
	case err != nil:
		m.log.Error("account update failed", logger.Field{Key: "email", Value: rec.Email}, logger.Err(err))
		return StoreUnavailable
	}

	m.invalidate(ctx, rec.Email)
	m.log.Info(event, logger.Field{Key: "email", Value: rec.Email})
	return Success
}

func (m *Manager) invalidate(ctx context.Context, email string) {
	if m.cache == nil {
		return
	}

	if err := m.cache.Invalidate(context.WithoutCancel(ctx), email); err != nil {
		m.log.Warn("account cache invalidation failed", logger.Field{Key: "email", Value: email}, logger.Err(err))
	}
}

// newUUID returns a random RFC 4122 version 4 UUID string.
func newUUID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80

	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}
