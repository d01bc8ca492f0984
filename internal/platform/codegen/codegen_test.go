package codegen

import (
	"bytes"
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDigitsFormat(t *testing.T) {
	g := New(nil)
	re := regexp.MustCompile(`^[0-9]{6}$`)
	for i := 0; i < 50; i++ {
		code, err := g.VerificationCode()
		require.NoError(t, err)
		assert.Regexp(t, re, code)
	}
	card, err := g.CardCode()
	require.NoError(t, err)
	assert.Regexp(t, `^RC[0-9]{6}$`, card)
}

func TestDigitsDeterministicSource(t *testing.T) {
	// 255 is rejected, then 0..5 map to their digits.
	g := New(bytes.NewReader([]byte{255, 0, 1, 2, 13, 4, 25}))
	code, err := g.Digits(6)
	require.NoError(t, err)
	assert.Equal(t, "012345", code)
}

func TestDigitsShortSource(t *testing.T) {
	g := New(bytes.NewReader([]byte{1, 2}))
	_, err := g.Digits(6)
	assert.Error(t, err)
}

func TestDigitsAlwaysDigits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		src := rapid.SliceOfN(rapid.Byte(), 64, 64).Draw(t, "src")
		g := New(bytes.NewReader(src))
		code, err := g.Digits(6)
		if err != nil {
			return // source had too many rejected bytes
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit %q in %q", c, code)
			}
		}
	})
}

func TestUniqueRetriesThenFailsClosed(t *testing.T) {
	ctx := context.Background()
	calls := 0
	next := func() (string, error) { calls++; return "RC000000", nil }
	alwaysTaken := func(context.Context, string) (bool, error) { return true, nil }

	_, err := Unique(ctx, MaxAttempts, next, alwaysTaken)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, MaxAttempts, calls)
}

func TestUniqueReturnsFirstFree(t *testing.T) {
	ctx := context.Background()
	codes := []string{"A", "B", "C"}
	i := 0
	next := func() (string, error) { c := codes[i]; i++; return c, nil }
	taken := func(_ context.Context, c string) (bool, error) { return c != "C", nil }

	got, err := Unique(ctx, MaxAttempts, next, taken)
	require.NoError(t, err)
	assert.Equal(t, "C", got)
}
