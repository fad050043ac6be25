// Package mail delivers account verification links. Delivery is fire and
// forget: failures are logged and never reach the game client.
package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cyberinferno/gemcarry/logger"
)

// DispatchTimeout bounds one background delivery.
const DispatchTimeout = 30 * time.Second

// ErrBadVerificationCode is returned by ParseVerificationCode for input that
// was not produced by VerificationCode.
var ErrBadVerificationCode = errors.New("mail: malformed verification code")

// Sender sends the verification mail of a freshly created account.
type Sender interface {
	SendVerification(ctx context.Context, email, token string) error
}

// VerificationCode encodes email and token into the opaque string placed in
// the verification link: base64url("email:token").
func VerificationCode(email, token string) string {
	return base64.URLEncoding.EncodeToString([]byte(email + ":" + token))
}

// ParseVerificationCode reverses VerificationCode.
//
// Returns:
//   - The email and token carried by code
//   - ErrBadVerificationCode if code is not valid
func ParseVerificationCode(code string) (email, token string, err error) {
	raw, err := base64.URLEncoding.DecodeString(strings.TrimSpace(code))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBadVerificationCode, err)
	}

	i := strings.LastIndexByte(string(raw), ':')
	if i <= 0 || i == len(raw)-1 {
		return "", "", ErrBadVerificationCode
	}

	return string(raw[:i]), string(raw[i+1:]), nil
}

// VerificationLink appends the verification code for email and token to baseURL.
func VerificationLink(baseURL, email, token string) string {
	return baseURL + VerificationCode(email, token)
}

// Dispatch sends the verification mail on its own goroutine and returns
// immediately. The send is detached from ctx cancellation and bounded by
// DispatchTimeout.
//
// Parameters:
//   - ctx: Parent context; only its values are inherited
//   - s: The Sender to use; a nil Sender makes Dispatch a no-op
//   - log: Logger for the outcome
//   - email: Recipient address
//   - token: Verification token stored on the account
//
// Returns:
//   - A channel closed when the attempt finished, for callers that need to wait
func Dispatch(ctx context.Context, s Sender, log logger.Logger, email, token string) <-chan struct{} {
	done := make(chan struct{})
	if s == nil {
		close(done)
		return done
	}

	go func() {
		defer close(done)

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DispatchTimeout)
		defer cancel()

		if err := s.SendVerification(sendCtx, email, token); err != nil {
			log.Error("verification mail failed", logger.Field{Key: "email", Value: email}, logger.Err(err))
			return
		}

		log.Debug("verification mail sent", logger.Field{Key: "email", Value: email})
	}()

	return done
}

// LogSender writes the verification link to the log instead of sending mail.
// It is the default for local runs.
type LogSender struct {
	log     logger.Logger
	baseURL string
}

// NewLogSender returns a LogSender that logs links built on baseURL.
func NewLogSender(log logger.Logger, baseURL string) *LogSender {
	return &LogSender{log: log, baseURL: baseURL}
}

// SendVerification implements Sender.
func (s *LogSender) SendVerification(_ context.Context, email, token string) error {
	s.log.Info("verification link",
		logger.Field{Key: "email", Value: email},
		logger.Field{Key: "link", Value: VerificationLink(s.baseURL, email, token)})
	return nil
}
