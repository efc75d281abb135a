package domain

// Hasher turns raw identifiers (client IPs, API keys) into opaque keys that
// are safe to store or log.
type Hasher interface {
	Hash(data []byte) string
}
