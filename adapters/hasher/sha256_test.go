package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash_Unsalted(t *testing.T) {
	sum := sha256.Sum256([]byte("203.0.113.7"))
	assert.Equal(t, hex.EncodeToString(sum[:]), New("").Hash([]byte("203.0.113.7")))
}

func TestHash_SaltChangesDigest(t *testing.T) {
	ip := []byte("203.0.113.7")
	a := New("one").Hash(ip)
	b := New("two").Hash(ip)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, New("one").Hash(ip))
}
