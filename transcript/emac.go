package transcript

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/oshikawatkm/mdl/internal/mdlerr"
)

const emacKeySize = 32

// DeriveEMacKey derives the symmetric key a reader and device share for
// DeviceMac0 per ISO/IEC 18013-5 §9.1.3.5: HKDF-SHA256 over the ECDH shared
// secret between the reader's ephemeral private key and the device's public
// key (the MSO's deviceKey), salted with SHA-256(SessionTranscriptBytes) and
// bound to the info string "EMacKey".
func DeriveEMacKey(readerEphemeral *ecdh.PrivateKey, devicePublicKey crypto.PublicKey, sessionTranscriptBytes []byte) ([]byte, error) {
	if readerEphemeral == nil {
		return nil, mdlerr.ErrMissingEphemeralKey{}
	}

	peer, err := toECDHPublicKey(devicePublicKey)
	if err != nil {
		return nil, mdlerr.ErrInvalidPeerKey{Err: err}
	}

	sharedSecret, err := readerEphemeral.ECDH(peer)
	if err != nil {
		return nil, mdlerr.ErrInvalidPeerKey{Err: fmt.Errorf("ECDH agreement failed: %w", err)}
	}

	salt := sha256.Sum256(sessionTranscriptBytes)

	kdf := hkdf.New(sha256.New, sharedSecret, salt[:], []byte("EMacKey"))
	key := make([]byte, emacKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("transcript: HKDF expansion failed: %w", err)
	}
	return key, nil
}

func toECDHPublicKey(pub crypto.PublicKey) (*ecdh.PublicKey, error) {
	switch k := pub.(type) {
	case *ecdh.PublicKey:
		return k, nil
	case *ecdsa.PublicKey:
		return k.ECDH()
	default:
		return nil, fmt.Errorf("unsupported device public key type for ECDH: %T", pub)
	}
}
