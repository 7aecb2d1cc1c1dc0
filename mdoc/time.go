package mdoc

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// cborTime decodes a tag-0 (RFC 3339 date-time) CBOR item into a time.Time.
// ValidityInfo's four fields are all tag-0, unlike issuing dates
// elsewhere which use tag-1004 full-date.
type cborTime time.Time

func (t cborTime) Time() time.Time { return time.Time(t) }

func (t *cborTime) UnmarshalCBOR(data []byte) error {
	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Number != 0 {
		return fmt.Errorf("mdoc: expected tag 0 date-time, got tag %d", tag.Number)
	}
	s, ok := tag.Content.(string)
	if !ok {
		return fmt.Errorf("mdoc: tag 0 content has unexpected type %T", tag.Content)
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("mdoc: invalid date-time %q: %w", s, err)
	}
	*t = cborTime(parsed)
	return nil
}

func (t cborTime) MarshalCBOR() ([]byte, error) {
	s := time.Time(t).UTC().Format("2006-01-02T15:04:05Z")
	return cbor.Marshal(cbor.Tag{Number: 0, Content: s})
}

// NewValidityInfo builds a ValidityInfo from plain time.Time values. It's
// the only way to construct one outside this package, since cborTime isn't
// exported; issuer-side tooling and tests both go through it.
func NewValidityInfo(signed, validFrom, validUntil time.Time) ValidityInfo {
	return ValidityInfo{
		Signed:     cborTime(signed),
		ValidFrom:  cborTime(validFrom),
		ValidUntil: cborTime(validUntil),
	}
}

// WithExpectedUpdate sets the optional expectedUpdate field and returns the
// same ValidityInfo for chaining.
func (v ValidityInfo) WithExpectedUpdate(t time.Time) ValidityInfo {
	v.ExpectedUpdate = cborTime(t)
	return v
}
