// Package verifier orchestrates the checks ISO/IEC 18013-5 §9 requires of a
// relying party: issuer data authentication, mdoc (device) authentication,
// and validity-period checks, each reported as an Assessment rather than
// aborting on the first failure so a caller can decide how to react.
package verifier

import (
	"bytes"
	"crypto/ecdh"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"github.com/veraison/go-cose"

	"github.com/oshikawatkm/mdl/internal/certchain"
	"github.com/oshikawatkm/mdl/internal/mdlerr"
	"github.com/oshikawatkm/mdl/mdoc"
	"github.com/oshikawatkm/mdl/transcript"
)

// VerifierOption configures a Verifier, following the functional-options
// pattern used throughout this module.
type VerifierOption func(*Verifier)

// WithSink overrides the default FailFast sink. Supply a *Collect to get a
// full report instead of a single verdict.
func WithSink(sink Sink) VerifierOption {
	return func(v *Verifier) { v.sink = sink }
}

// WithClock overrides time.Now, for deterministic tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithReaderEphemeralKey supplies the reader's ephemeral ECDH private key,
// required only when a document proves device authentication with
// DeviceMac0 instead of DeviceSignature.
func WithReaderEphemeralKey(key *ecdh.PrivateKey) VerifierOption {
	return func(v *Verifier) { v.readerEphemeral = key }
}

// Verifier runs the ISO/IEC 18013-5 §9 checks against a trust anchor pool.
type Verifier struct {
	roots           *x509.CertPool
	sink            Sink
	now             func() time.Time
	readerEphemeral *ecdh.PrivateKey
}

// NewVerifier builds a Verifier trusting roots. Without WithSink, failures
// short-circuit the run and Verify returns the first one.
func NewVerifier(roots *x509.CertPool, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		roots: roots,
		sink:  &FailFast{},
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Sink returns the Sink this Verifier was configured with (or created by
// default), so a caller can read back a *Collect's Assessments after Verify
// returns.
func (v *Verifier) Sink() Sink { return v.sink }

// Verify runs every check against doc, reporting each to the configured
// Sink in the fixed order ISO/IEC 18013-5 §9.3.1 lays out: certificate
// chain, issuer signature, validity period, docType, issuing_country
// consistency, issuing_jurisdiction consistency, device authentication,
// then per-element digest integrity. It stops as soon as the Sink's Record
// returns false and returns the error that caused the stop (nil for a sink
// other than FailFast), or nil once every check has run. If the MSO in
// issuerAuth cannot be decoded (e.g. there is no payload at all), it returns
// that error before recording any assessment.
func (v *Verifier) Verify(doc *mdoc.Document, sessionTranscriptBytes []byte) error {
	mso, err := doc.IssuerSigned.MobileSecurityObject()
	if err != nil {
		return fmt.Errorf("failed to decode MobileSecurityObject: %w", err)
	}

	if !v.record(v.checkCertificateChain(doc.IssuerSigned)) {
		return v.abortErr()
	}
	if !v.record(v.checkIssuerSignature(doc.IssuerSigned)) {
		return v.abortErr()
	}
	if !v.record(v.checkValidityPeriod(mso, doc.IssuerSigned)) {
		return v.abortErr()
	}
	if !v.record(v.checkDocType(doc, mso)) {
		return v.abortErr()
	}
	if !v.record(v.checkCountryConsistency(doc.IssuerSigned, mso)) {
		return v.abortErr()
	}
	v.record(v.checkIssuerGeography(doc.IssuerSigned, mso))

	if !v.record(v.checkDeviceAuthentication(doc, mso, sessionTranscriptBytes)) {
		return v.abortErr()
	}

	for _, a := range v.checkDigests(doc.IssuerSigned, mso) {
		if !v.record(a) {
			return v.abortErr()
		}
	}
	return nil
}

func (v *Verifier) record(a Assessment) bool {
	return v.sink.Record(a)
}

func (v *Verifier) abortErr() error {
	if ff, ok := v.sink.(*FailFast); ok {
		return ff.Err()
	}
	return nil
}

func (v *Verifier) checkCertificateChain(issuerSigned mdoc.IssuerSigned) Assessment {
	chain, err := issuerSigned.X5Chain()
	if err != nil {
		return failed(mdlerr.CategoryIssuerAuth, "certificate_chain", err)
	}
	if err := certchain.Validate(chain, v.roots, v.now()); err != nil {
		return failed(mdlerr.CategoryIssuerAuth, "certificate_chain", err)
	}
	return passed(mdlerr.CategoryIssuerAuth, "certificate_chain")
}

func (v *Verifier) checkIssuerSignature(issuerSigned mdoc.IssuerSigned) Assessment {
	alg, err := issuerSigned.Alg()
	if err != nil {
		return failed(mdlerr.CategoryIssuerAuth, "issuer_signature", err)
	}
	leaf, err := issuerSigned.Leaf()
	if err != nil {
		return failed(mdlerr.CategoryIssuerAuth, "issuer_signature", err)
	}
	if _, err := certchain.CountryName(leaf); err != nil {
		return failed(mdlerr.CategoryIssuerAuth, "issuer_signature", err)
	}
	cv, err := cose.NewVerifier(alg, leaf.PublicKey)
	if err != nil {
		return failed(mdlerr.CategoryIssuerAuth, "issuer_signature", mdlerr.ErrUnsupportedAlg{Alg: int64(alg)})
	}
	if err := issuerSigned.IssuerAuth.Verify(nil, cv); err != nil {
		return failed(mdlerr.CategoryIssuerAuth, "issuer_signature", mdlerr.ErrSignatureInvalid{Err: err})
	}
	return passed(mdlerr.CategoryIssuerAuth, "issuer_signature")
}

func (v *Verifier) checkValidityPeriod(mso *mdoc.MobileSecurityObject, issuerSigned mdoc.IssuerSigned) Assessment {
	leaf, err := issuerSigned.Leaf()
	if err != nil {
		return failed(mdlerr.CategoryIssuerAuth, "validity_period", err)
	}

	signed := mso.ValidityInfo.Signed.Time()
	if signed.Before(leaf.NotBefore) || signed.After(leaf.NotAfter) {
		return failed(mdlerr.CategoryIssuerAuth, "validity_period", mdlerr.ErrSignedOutsideCertValidity{})
	}

	now := v.now()
	validFrom := mso.ValidityInfo.ValidFrom.Time()
	validUntil := mso.ValidityInfo.ValidUntil.Time()
	if now.Before(validFrom) || now.After(validUntil) {
		return failed(mdlerr.CategoryIssuerAuth, "validity_period", mdlerr.ErrMSONotCurrentlyValid{})
	}
	return passed(mdlerr.CategoryIssuerAuth, "validity_period")
}

func (v *Verifier) checkDocType(doc *mdoc.Document, mso *mdoc.MobileSecurityObject) Assessment {
	if doc.DocType != mso.DocType {
		return failed(mdlerr.CategoryDocumentFormat, "doctype_match",
			fmt.Errorf("document docType %q does not match MSO docType %q", doc.DocType, mso.DocType))
	}
	return passed(mdlerr.CategoryDocumentFormat, "doctype_match")
}

// checkIssuerGeography cross-checks the disclosed issuing_jurisdiction
// element against the document signer certificate's stateOrProvinceName,
// resolving Open Question of whether a mismatch should be fatal as a
// WARNING rather than a skip: the credential can still be cryptographically
// valid while flagging a policy concern. A disclosed issuing_jurisdiction
// with no stateOrProvinceName on the certificate is also a WARNING; when no
// issuing_jurisdiction is disclosed the check passes. issuing_country is handled
// separately by checkCountryConsistency, since a mismatch there is a data
// integrity failure rather than a warning.
func (v *Verifier) checkIssuerGeography(issuerSigned mdoc.IssuerSigned, mso *mdoc.MobileSecurityObject) Assessment {
	leaf, err := issuerSigned.Leaf()
	if err != nil {
		return warned(mdlerr.CategoryIssuerAuth, "issuer_geography", err)
	}

	_, disclosedJurisdiction := disclosedGeography(issuerSigned)

	certProvince, ok := certchain.StateOrProvinceName(leaf)
	if disclosedJurisdiction != "" && (!ok || disclosedJurisdiction != certProvince) {
		return warned(mdlerr.CategoryIssuerAuth, "issuer_geography",
			mdlerr.ErrJurisdictionMismatch{Disclosed: disclosedJurisdiction, Certificate: certProvince})
	}

	return passed(mdlerr.CategoryIssuerAuth, "issuer_geography")
}

// checkCountryConsistency cross-checks the disclosed issuing_country
// element against the document signer certificate's subject countryName.
// The certificate carrying a countryName at all is an ISSUER_AUTH
// precondition enforced in checkIssuerSignature; once that holds, a
// disclosed issuing_country that contradicts it is a DATA_INTEGRITY
// failure, not a policy warning.
func (v *Verifier) checkCountryConsistency(issuerSigned mdoc.IssuerSigned, mso *mdoc.MobileSecurityObject) Assessment {
	leaf, err := issuerSigned.Leaf()
	if err != nil {
		return failed(mdlerr.CategoryDataIntegrity, "country_consistency", err)
	}

	disclosedCountry, _ := disclosedGeography(issuerSigned)
	if disclosedCountry == "" {
		return passed(mdlerr.CategoryDataIntegrity, "country_consistency")
	}

	certCountry, err := certchain.CountryName(leaf)
	if err != nil {
		return passed(mdlerr.CategoryDataIntegrity, "country_consistency")
	}
	if disclosedCountry != certCountry {
		return failed(mdlerr.CategoryDataIntegrity, "country_consistency",
			mdlerr.ErrCountryMismatch{Disclosed: disclosedCountry, Certificate: certCountry})
	}

	return passed(mdlerr.CategoryDataIntegrity, "country_consistency")
}

func disclosedGeography(issuerSigned mdoc.IssuerSigned) (country, jurisdiction string) {
	for _, ns := range issuerSigned.GetNameSpaces() {
		items, err := issuerSigned.GetIssuerSignedItems(ns)
		if err != nil {
			continue
		}
		for _, item := range items {
			switch item.ElementIdentifier {
			case mdoc.IsoIssuingCountry:
				if s, ok := item.UnwrappedValue().(string); ok {
					country = s
				}
			case mdoc.IsoIssuingJurisdiction:
				if s, ok := item.UnwrappedValue().(string); ok {
					jurisdiction = s
				}
			}
		}
	}
	return country, jurisdiction
}

func (v *Verifier) checkDeviceAuthentication(doc *mdoc.Document, mso *mdoc.MobileSecurityObject, sessionTranscriptBytes []byte) Assessment {
	if doc.DeviceSigned == nil {
		return failed(mdlerr.CategoryDeviceAuth, "device_authentication", mdlerr.ErrNotDeviceSigned{})
	}
	if len(sessionTranscriptBytes) == 0 {
		return failed(mdlerr.CategoryDeviceAuth, "device_authentication", mdlerr.ErrMissingSessionTranscript{})
	}

	sig := doc.DeviceSigned.DeviceAuth.DeviceSignature
	mac := doc.DeviceSigned.DeviceAuth.DeviceMac
	if sig == nil && mac == nil {
		return failed(mdlerr.CategoryDeviceAuth, "device_authentication", mdlerr.ErrNoProofOfPossession{})
	}
	if sig != nil && mac != nil {
		return failed(mdlerr.CategoryDeviceAuth, "device_authentication", mdlerr.ErrBothProofsPresent{})
	}

	deviceAuthBytes, err := transcript.DeviceAuthenticationBytes(sessionTranscriptBytes, doc.DocType, doc.DeviceSigned.NameSpaces)
	if err != nil {
		return failed(mdlerr.CategoryDeviceAuth, "device_authentication", err)
	}

	deviceKey, err := mso.DeviceKey()
	if err != nil {
		return failed(mdlerr.CategoryDeviceAuth, "device_authentication", err)
	}

	if sig != nil {
		alg, err := sig.Headers.Protected.Algorithm()
		if err != nil {
			return failed(mdlerr.CategoryDeviceAuth, "device_authentication", err)
		}
		cv, err := cose.NewVerifier(alg, deviceKey)
		if err != nil {
			return failed(mdlerr.CategoryDeviceAuth, "device_authentication", mdlerr.ErrUnsupportedAlg{Alg: int64(alg)})
		}
		sig.Payload = deviceAuthBytes
		if err := sig.Verify(nil, cv); err != nil {
			return failed(mdlerr.CategoryDeviceAuth, "device_authentication", mdlerr.ErrDeviceProofInvalid{Err: err})
		}
		return passed(mdlerr.CategoryDeviceAuth, "device_authentication")
	}

	if v.readerEphemeral == nil {
		return failed(mdlerr.CategoryDeviceAuth, "device_authentication", mdlerr.ErrMissingEphemeralKey{})
	}
	key, err := transcript.DeriveEMacKey(v.readerEphemeral, deviceKey, sessionTranscriptBytes)
	if err != nil {
		return failed(mdlerr.CategoryDeviceAuth, "device_authentication", err)
	}
	if err := mac.Verify(key, deviceAuthBytes); err != nil {
		return failed(mdlerr.CategoryDeviceAuth, "device_authentication", mdlerr.ErrDeviceProofInvalid{Err: err})
	}
	return passed(mdlerr.CategoryDeviceAuth, "device_authentication")
}

func (v *Verifier) checkDigests(issuerSigned mdoc.IssuerSigned, mso *mdoc.MobileSecurityObject) []Assessment {
	var assessments []Assessment
	for _, ns := range issuerSigned.GetNameSpaces() {
		items, err := issuerSigned.GetIssuerSignedItems(ns)
		if err != nil {
			assessments = append(assessments, failed(mdlerr.CategoryDataIntegrity, "digest_integrity", err))
			continue
		}
		assessments = append(assessments, checkNamespaceDigests(ns, items, mso)...)
	}
	return assessments
}

func checkNamespaceDigests(ns mdoc.NameSpace, items []mdoc.IssuerSignedItem, mso *mdoc.MobileSecurityObject) []Assessment {
	assessments := make([]Assessment, len(items))
	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := items[i]
			expected, err := mso.GetDigest(ns, item.DigestID)
			if err != nil {
				assessments[i] = failed(mdlerr.CategoryDataIntegrity, "digest_integrity", err)
				return
			}
			actual, err := item.Digest(mso.DigestAlgorithm)
			if err != nil {
				assessments[i] = failed(mdlerr.CategoryDataIntegrity, "digest_integrity", err)
				return
			}
			if !bytes.Equal([]byte(expected), actual) {
				assessments[i] = failed(mdlerr.CategoryDataIntegrity, "digest_integrity", mdlerr.ErrDigestMismatch{
					Namespace:         string(ns),
					ElementIdentifier: string(item.ElementIdentifier),
					DigestID:          uint64(item.DigestID),
				})
				return
			}
			assessments[i] = passed(mdlerr.CategoryDataIntegrity, "digest_integrity")
		}(i)
	}
	wg.Wait()
	return assessments
}
