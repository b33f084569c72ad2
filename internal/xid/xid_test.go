package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesPrefixAndUUID(t *testing.T) {
	id := New("req")
	require.True(t, strings.HasPrefix(id, "req-"))
	_, err := uuid.Parse(strings.TrimPrefix(id, "req-"))
	assert.NoError(t, err)
}

func TestDigitsReturnsOnlyDigits(t *testing.T) {
	code, err := Digits(12)
	require.NoError(t, err)
	require.Len(t, code, 12)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9', "unexpected rune %q", r)
	}
}
