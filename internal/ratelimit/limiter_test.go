package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBurstThenDenied(t *testing.T) {
	l := NewLimiter(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewLimiter(1, 1)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	assert.True(t, l.Allow("10.0.0.2"))
}

func TestTokensDecrease(t *testing.T) {
	l := NewLimiter(60, 10)

	before := l.Tokens("10.0.0.1")
	l.Allow("10.0.0.1")
	after := l.Tokens("10.0.0.1")

	assert.Less(t, after, before)
}
