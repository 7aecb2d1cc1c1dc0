// Package cborcodec wraps github.com/fxamacker/cbor/v2 with the deterministic
// encoding rules ISO/IEC 18013-5 requires: sorted map keys, shortest-form
// integers, definite-length containers, and tag-24 ("embedded CBOR") framing
// for the structures that carry their own encoding (IssuerSignedItemBytes,
// MobileSecurityObjectBytes, DeviceNameSpacesBytes, SessionTranscriptBytes,
// DeviceAuthenticationBytes).
package cborcodec

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	tagDateTime = 0
	tagFullDate = 1004
	tagEmbedded = 24
)

// encMode and decMode are shared across the module so every component
// encodes/decodes CBOR the same deterministic way.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOpts := cbor.CanonicalEncOptions()
	encOpts.Time = cbor.TimeRFC3339
	m, err := encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cborcodec: failed to build canonical encoder: %v", err))
	}
	encMode = m

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
		TagsMd:      cbor.TagsAllowed,
	}
	d, err := decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cborcodec: failed to build strict decoder: %v", err))
	}
	decMode = d
}

// Marshal encodes v using the module-wide deterministic encoding options.
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v, rejecting indefinite-length items and
// duplicate map keys along the way.
func Unmarshal(data []byte, v interface{}) error {
	return decMode.Unmarshal(data, v)
}

// Tag24Wrap wraps already-encoded CBOR bytes in a tag-24 "embedded CBOR"
// envelope, as required for DeviceNameSpacesBytes, MobileSecurityObjectBytes
// and DeviceAuthenticationBytes.
func Tag24Wrap(encoded []byte) ([]byte, error) {
	b, err := Marshal(cbor.Tag{Number: tagEmbedded, Content: encoded})
	if err != nil {
		return nil, fmt.Errorf("cborcodec: failed to wrap tag 24: %w", err)
	}
	return b, nil
}

// Tag24Unwrap extracts the inner byte slice from a tag-24 envelope, returning
// it verbatim (no re-encoding) so digest computation over the original bytes
// remains exact.
func Tag24Unwrap(wrapped []byte) ([]byte, error) {
	var tag cbor.Tag
	if err := Unmarshal(wrapped, &tag); err != nil {
		return nil, fmt.Errorf("cborcodec: failed to unwrap tag 24: %w", err)
	}
	if tag.Number != tagEmbedded {
		return nil, fmt.Errorf("cborcodec: expected tag 24, got tag %d", tag.Number)
	}
	inner, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("cborcodec: tag 24 content has unexpected type %T", tag.Content)
	}
	return inner, nil
}

// DecodeDateTime decodes a tag-0 RFC 3339 date-time (no fractional seconds,
// trailing 'Z').
func DecodeDateTime(data []byte) (time.Time, error) {
	var tag cbor.Tag
	if err := Unmarshal(data, &tag); err != nil {
		return time.Time{}, err
	}
	if tag.Number != tagDateTime {
		return time.Time{}, fmt.Errorf("cborcodec: expected tag 0, got tag %d", tag.Number)
	}
	s, ok := tag.Content.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("cborcodec: tag 0 content has unexpected type %T", tag.Content)
	}
	return time.Parse(time.RFC3339, s)
}

// DecodeFullDate decodes a tag-1004 full-date ("YYYY-MM-DD").
func DecodeFullDate(data []byte) (time.Time, error) {
	var tag cbor.Tag
	if err := Unmarshal(data, &tag); err != nil {
		return time.Time{}, err
	}
	if tag.Number != tagFullDate {
		return time.Time{}, fmt.Errorf("cborcodec: expected tag 1004, got tag %d", tag.Number)
	}
	s, ok := tag.Content.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("cborcodec: tag 1004 content has unexpected type %T", tag.Content)
	}
	return time.Parse("2006-01-02", s)
}

// RawMessage re-exports cbor.RawMessage so callers that need to capture
// original encoded bytes don't need to import fxamacker/cbor directly.
type RawMessage = cbor.RawMessage

// Tag re-exports cbor.Tag for the same reason.
type Tag = cbor.Tag
