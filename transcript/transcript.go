// Package transcript builds the byte strings a device authenticates over:
// DeviceAuthenticationBytes, and the EReaderKey-derived MAC key it takes to
// verify a DeviceMac0 instead of a DeviceSignature.
package transcript

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/oshikawatkm/mdl/internal/cborcodec"
	"github.com/oshikawatkm/mdl/mdoc"
)

// DeviceAuthenticationBytes builds the tag-24 wrapped DeviceAuthentication
// structure a device signs or MACs: ["DeviceAuthentication",
// SessionTranscript, DocType, DeviceNameSpacesBytes]. sessionTranscript is
// the caller-supplied CBOR encoding of SessionTranscript, embedded as-is
// without further wrapping — this module treats it as opaque, since
// constructing it requires the device engagement and handover data this
// module does not model.
func DeviceAuthenticationBytes(sessionTranscript []byte, docType mdoc.DocType, deviceNameSpacesBytes mdoc.DeviceNameSpacesBytes) ([]byte, error) {
	if len(sessionTranscript) == 0 {
		return nil, fmt.Errorf("transcript: session transcript is empty")
	}
	if len(deviceNameSpacesBytes) == 0 {
		return nil, fmt.Errorf("transcript: device nameSpaces bytes is empty")
	}

	deviceAuthentication := []interface{}{
		"DeviceAuthentication",
		cbor.RawMessage(sessionTranscript),
		string(docType),
		cbor.RawMessage(deviceNameSpacesBytes),
	}

	encoded, err := cborcodec.Marshal(deviceAuthentication)
	if err != nil {
		return nil, fmt.Errorf("transcript: failed to marshal DeviceAuthentication: %w", err)
	}

	wrapped, err := cborcodec.Tag24Wrap(encoded)
	if err != nil {
		return nil, fmt.Errorf("transcript: failed to wrap DeviceAuthenticationBytes: %w", err)
	}
	return wrapped, nil
}
