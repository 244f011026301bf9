package privacy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoredIdentity(t *testing.T) {
	ps := NewService("pepper")

	assert.Equal(t, "user:42", ps.StoredIdentity("user:42"))

	anon := ps.StoredIdentity("ip:203.0.113.9")
	assert.True(t, IsAnonymous(anon))
	assert.Len(t, anon, len("anon:")+16)
	assert.NotContains(t, anon, "203.0.113.9")
	assert.Equal(t, anon, ps.StoredIdentity("ip:203.0.113.9"))
	assert.NotEqual(t, anon, ps.StoredIdentity("ip:203.0.113.10"))
}

func TestIsReserved(t *testing.T) {
	tests := []struct {
		name     string
		reserved bool
	}{
		{"user:42", true},
		{"anon:0123456789abcdef", true},
		{" ANON:x", true},
		{"User:someone", true},
		{"kim", false},
		{"anonymous", false},
		{"username", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.reserved, IsReserved(tt.name))
		})
	}
}

func TestSaltChangesPseudonyms(t *testing.T) {
	a := NewService("one").StoredIdentity("ip:10.0.0.1")
	b := NewService("two").StoredIdentity("ip:10.0.0.1")
	assert.NotEqual(t, a, b)

	random := NewService("")
	assert.True(t, strings.HasPrefix(random.StoredIdentity("ip:10.0.0.1"), "anon:"))
}

func TestRetentionInfo(t *testing.T) {
	info := NewService("x").GetDataRetentionInfo()
	assert.Equal(t, false, info["ip_addresses_stored"])
}
