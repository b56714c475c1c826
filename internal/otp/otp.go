// Package otp generates and checks the numeric one-time passcodes that gate
// email verification and every login.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"
)

const (
	// Length is the number of decimal digits in a code.
	Length = 6
	// TTL is how long an issued code stays valid.
	TTL = 10 * time.Minute

	minCode = 100000
	maxCode = 999999
)

// Purpose tells the verification entry point which flow a code belongs to.
type Purpose string

const (
	PurposeRegister Purpose = "register"
	PurposeLogin    Purpose = "login"
)

// ErrUnknownPurpose is returned by ParsePurpose for anything but register/login.
var ErrUnknownPurpose = errors.New("unknown otp purpose")

// ParsePurpose maps caller input to a Purpose. Empty input means register.
func ParsePurpose(raw string) (Purpose, error) {
	switch Purpose(raw) {
	case "", PurposeRegister:
		return PurposeRegister, nil
	case PurposeLogin:
		return PurposeLogin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPurpose, raw)
	}
}

// Outcome is the result of checking a submitted code.
type Outcome int

const (
	Valid Outcome = iota
	Mismatch
	Expired
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Mismatch:
		return "mismatch"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Challenge is a single outstanding code and the instant it stops being accepted.
type Challenge struct {
	Code      string
	ExpiresAt time.Time
}

// Policy issues challenges. The zero value is not usable; call NewPolicy.
type Policy struct {
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
}

// Option customises a Policy.
type Option func(*Policy)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRandom overrides the entropy source.
func WithRandom(r io.Reader) Option {
	return func(p *Policy) {
		if r != nil {
			p.random = r
		}
	}
}

// NewPolicy returns a policy issuing 6-digit codes valid for TTL.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{ttl: TTL, now: time.Now, random: rand.Reader}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Now exposes the policy clock so callers judge expiry against the same time source.
func (p *Policy) Now() time.Time {
	return p.now()
}

// Generate returns a uniformly distributed code in [100000, 999999] expiring TTL from now.
func (p *Policy) Generate() (Challenge, error) {
	n, err := rand.Int(p.random, big.NewInt(maxCode-minCode+1))
	if err != nil {
		return Challenge{}, fmt.Errorf("generate otp: %w", err)
	}
	return Challenge{
		Code:      fmt.Sprintf("%0*d", Length, n.Int64()+minCode),
		ExpiresAt: p.now().Add(p.ttl),
	}, nil
}

// Check judges a submitted code against the stored challenge.
//
// Freshness is evaluated first and independently of the code: once now >= expiresAt
// every submission is Expired, correct or not. Before that, only an exact match is
// Valid. A missing stored code is always a Mismatch.
func Check(submitted, stored string, expiresAt, now time.Time) Outcome {
	if stored == "" || expiresAt.IsZero() {
		return Mismatch
	}
	if !now.Before(expiresAt) {
		return Expired
	}
	if len(submitted) != len(stored) || subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) != 1 {
		return Mismatch
	}
	return Valid
}
