package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Canonicalize renders body as deterministic JSON: sorted object keys, UTF-8,
// no insignificant whitespace. encoding/json already sorts map[string]any
// keys lexicographically when marshaling, so building body as nested
// map[string]any / []any / scalars (as Project does) is sufficient; this
// function exists as the single choke point so every caller canonicalizes
// the same way and identical records always hash identically by construction.
func Canonicalize(body map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, err
	}
	// json.Encoder.Encode appends a trailing newline; canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ContentHash returns the hex-encoded SHA-256 digest of canonical JSON bytes.
func ContentHash(canonicalJSON []byte) string {
	sum := sha256.Sum256(canonicalJSON)
	return hex.EncodeToString(sum[:])
}

// ContentHashBytes returns the raw 32-byte SHA-256 digest, as stored in the dedup index.
func ContentHashBytes(canonicalJSON []byte) [32]byte {
	return sha256.Sum256(canonicalJSON)
}
