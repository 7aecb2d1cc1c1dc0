// Package hash computes the digest algorithms an MSO may use for its
// value digests: SHA-256, SHA-384 and SHA-512.
package hash

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"

	"github.com/oshikawatkm/mdl/internal/mdlerr"
)

// Digest hashes message with the named algorithm. alg must be one of
// "SHA-256", "SHA-384" or "SHA-512" (the digestAlgorithm strings ISO/IEC
// 18013-5 defines); anything else is rejected rather than silently
// producing a zero-length digest.
func Digest(message []byte, alg string) ([]byte, error) {
	var hasher hash.Hash
	switch alg {
	case "SHA-256":
		hasher = sha256.New()
	case "SHA-384":
		hasher = sha512.New384()
	case "SHA-512":
		hasher = sha512.New()
	default:
		return nil, mdlerr.ErrUnsupportedDigestAlg{Alg: alg}
	}
	if _, err := hasher.Write(message); err != nil {
		return nil, fmt.Errorf("hash: failed to write message: %w", err)
	}
	return hasher.Sum(nil), nil
}
