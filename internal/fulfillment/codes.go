package fulfillment

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	maxCodeAttempts = 8
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// CodeGenerator issues opaque codes from a cryptographic source.
type CodeGenerator struct {
	Rand               io.Reader
	PickupDigits       int
	ConfirmationDigits int
}

func NewCodeGenerator(pickupDigits, confirmationDigits int) *CodeGenerator {
	if pickupDigits <= 0 {
		pickupDigits = 6
	}
	if confirmationDigits <= 0 {
		confirmationDigits = 6
	}
	return &CodeGenerator{Rand: rand.Reader, PickupDigits: pickupDigits, ConfirmationDigits: confirmationDigits}
}

func (g *CodeGenerator) source() io.Reader {
	if g.Rand == nil {
		return rand.Reader
	}
	return g.Rand
}

// Numeric returns a zero-padded decimal code with the given number of digits.
func (g *CodeGenerator) Numeric(digits int) (string, error) {
	var sb strings.Builder
	sb.Grow(digits)
	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(g.source(), ten)
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}

// Token returns a url-safe token carrying n random bytes.
func (g *CodeGenerator) Token(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(g.source(), buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (g *CodeGenerator) alphabet(prefix string, n int) (string, error) {
	var sb strings.Builder
	sb.WriteString(prefix)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(g.source(), max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}

func (g *CodeGenerator) QueueCode() (string, error) {
	return g.alphabet("Q-", 6)
}

func (g *CodeGenerator) TrackingNumber() (string, error) {
	return g.alphabet("TRK", 12)
}

func (g *CodeGenerator) PickupCode() (string, error) {
	return g.Numeric(g.PickupDigits)
}

func (g *CodeGenerator) ConfirmationCode() (string, error) {
	return g.Numeric(g.ConfirmationDigits)
}

// issueUnique draws codes until one is not taken.
func issueUnique(ctx context.Context, draw func() (string, error), taken func(context.Context, string) (bool, error)) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := draw()
		if err != nil {
			return "", err
		}
		exists, err := taken(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", Conflict(ErrCodeSpaceExhausted, "Could not issue a unique code")
}

// CodeHasher stores confirmation codes one-way.
type CodeHasher interface {
	Hash(code string) (string, error)
	Matches(hash string, code string) bool
}

type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(code string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	out, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (h BcryptHasher) Matches(hash string, code string) bool {
	if hash == "" || code == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}
