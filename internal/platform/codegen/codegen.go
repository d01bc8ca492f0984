// Package codegen produces short numeric codes (verification codes, reader
// card codes) from an injectable random source.
package codegen

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrExhausted is returned when every attempt produced a taken code.
var ErrExhausted = errors.New("codegen: no free code after max attempts")

// MaxAttempts bounds retry-until-unique loops.
const MaxAttempts = 10

type Generator struct {
	rand io.Reader
}

// New returns a Generator reading from r, or crypto/rand when r is nil.
func New(r io.Reader) *Generator {
	if r == nil {
		r = rand.Reader
	}
	return &Generator{rand: r}
}

// Digits returns n uniformly distributed ASCII digits.
func (g *Generator) Digits(n int) (string, error) {
	out := make([]byte, 0, n)
	var b [1]byte
	for len(out) < n {
		if _, err := io.ReadFull(g.rand, b[:]); err != nil {
			return "", fmt.Errorf("codegen: read random: %w", err)
		}
		if b[0] >= 250 { // 250..255 would bias toward 0..5
			continue
		}
		out = append(out, '0'+b[0]%10)
	}
	return string(out), nil
}

// VerificationCode returns a 6-digit code.
func (g *Generator) VerificationCode() (string, error) {
	return g.Digits(6)
}

// CardCode returns "RC" followed by 6 digits.
func (g *Generator) CardCode() (string, error) {
	d, err := g.Digits(6)
	if err != nil {
		return "", err
	}
	return "RC" + d, nil
}

// Unique draws codes from next until taken reports a free one, giving up
// after attempts tries.
func Unique(ctx context.Context, attempts int, next func() (string, error), taken func(ctx context.Context, code string) (bool, error)) (string, error) {
	for i := 0; i < attempts; i++ {
		code, err := next()
		if err != nil {
			return "", err
		}
		used, err := taken(ctx, code)
		if err != nil {
			return "", err
		}
		if !used {
			return code, nil
		}
	}
	return "", ErrExhausted
}
