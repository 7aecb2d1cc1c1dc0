package mdoc

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/oshikawatkm/mdl/internal/cborcodec"
	"github.com/oshikawatkm/mdl/internal/mdlerr"
)

// algHMAC256 is the COSE algorithm identifier for HMAC-256/256 (RFC 8152
// Table 7), the only MAC algorithm a device may use for deviceMac.
const algHMAC256 = 5

// CoseMac0 is a hand-rolled COSE_Mac0 (RFC 8152 §6.2). go-cose has no public
// Mac0 type, so this mirrors its own four-element array wire shape directly
// via cbor's positional "toarray" struct tag, the same technique used for
// DeviceAuthentication.
type CoseMac0 struct {
	_          struct{} `cbor:",toarray"`
	Protected  []byte
	Unprotected cbor.RawMessage
	Payload    cbor.RawMessage
	Tag        []byte
}

type mac0ProtectedHeader struct {
	Alg int64 `cbor:"1,keyasint"`
}

// Algorithm returns the COSE algorithm identifier carried in the protected
// header bstr.
func (m *CoseMac0) Algorithm() (int64, error) {
	var hdr mac0ProtectedHeader
	if err := cborcodec.Unmarshal(m.Protected, &hdr); err != nil {
		return 0, fmt.Errorf("failed to unmarshal Mac0 protected header: %w", err)
	}
	return hdr.Alg, nil
}

// macStructure builds the RFC 8152 §6.3 MAC_structure: ["MAC0", protected,
// external_aad, payload]. mdoc device MACs always carry an empty external_aad
// and a detached payload, so the caller supplies the externally-computed
// DeviceAuthenticationBytes as payload.
func macStructure(protected []byte, payload []byte) ([]byte, error) {
	s := []interface{}{
		"MAC0",
		protected,
		[]byte{},
		payload,
	}
	return cborcodec.Marshal(s)
}

// Verify recomputes HMAC-256/256 over the MAC_structure built from the
// supplied detached payload (DeviceAuthenticationBytes) and compares it
// against Tag in constant time.
func (m *CoseMac0) Verify(key []byte, payload []byte) error {
	alg, err := m.Algorithm()
	if err != nil {
		return err
	}
	if alg != algHMAC256 {
		return mdlerr.ErrUnsupportedMacAlg{Alg: alg}
	}

	toMac, err := macStructure(m.Protected, payload)
	if err != nil {
		return fmt.Errorf("failed to build MAC_structure: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(toMac)
	expected := mac.Sum(nil)

	if !hmac.Equal(expected, m.Tag) {
		return fmt.Errorf("MAC tag mismatch")
	}
	return nil
}
