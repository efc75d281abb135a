package hasher

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/waqar741/EchoAI/domain"
)

// New returns a domain.Hasher backed by SHA-256. A non-empty salt is mixed
// into every digest so stored keys cannot be matched against plain IP hashes.
func New(salt string) domain.Hasher { return sha256Hasher{salt: []byte(salt)} }

type sha256Hasher struct {
	salt []byte
}

func (h sha256Hasher) Hash(data []byte) string {
	d := sha256.New()
	d.Write(h.salt)
	d.Write(data)
	return hex.EncodeToString(d.Sum(nil))
}
