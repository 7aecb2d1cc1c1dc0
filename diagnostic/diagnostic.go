// Package diagnostic turns a single verifier run into a structured Report:
// a stable identifier, the document's claimed type, every Assessment the
// verifier produced, and a best-effort JWK rendering of the disclosed
// device key for callers that want to inspect it without depending on
// mdoc's internal COSE_Key representation.
package diagnostic

import (
	"bytes"
	"crypto/ecdh"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/veraison/go-cose"

	"github.com/oshikawatkm/mdl/internal/cborcodec"
	"github.com/oshikawatkm/mdl/internal/certchain"
	"github.com/oshikawatkm/mdl/internal/mdlerr"
	"github.com/oshikawatkm/mdl/mdoc"
	"github.com/oshikawatkm/mdl/verifier"
)

// Report is the result of diagnosing one DeviceResponse document: the raw
// Assessments a Verify run produced, plus a handful of sections derived from
// them and from the document itself for callers that would rather read a
// summary than walk the assessment list.
type Report struct {
	ID          string
	DocType     mdoc.DocType
	GeneratedAt time.Time
	Assessments []verifier.Assessment

	IssuerSignature   IssuerSignature
	DeviceSignature   *DeviceSignature
	DataIntegrity     DataIntegrity
	Attributes        []Attribute
	DeviceAttributes  []DeviceAttribute
	IssuerCertificate *IssuerCertificate
	DeviceKey         *JWK
}

// IssuerSignature summarizes the ISSUER_AUTH assessments: the algorithm the
// issuer signed with, whether every ISSUER_AUTH check passed, the reasons
// for any that didn't, and how many digests the MSO commits to per
// namespace.
type IssuerSignature struct {
	Alg     string
	IsValid bool
	Reasons []string
	Digests map[string]int
}

// DeviceSignature summarizes the DEVICE_AUTH assessments. It is nil for a
// document parsed without a DeviceSigned block (issuer-only).
type DeviceSignature struct {
	Alg     string
	IsValid bool
	Reasons []string
}

// DataIntegrity summarizes the DATA_INTEGRITY assessments: digest binding
// plus the issuing_country/issuing_jurisdiction cross-checks.
type DataIntegrity struct {
	DisclosedAttributes string
	IsValid             bool
	Reasons             []string
}

// Attribute is one disclosed IssuerSignedItem with its digest-validity
// outcome and, for the two geography elements, whether it matches the
// issuer certificate's subject.
type Attribute struct {
	Namespace         string
	ElementIdentifier string
	Value             mdoc.ElementValue
	IsValid           bool
	MatchCertificate  bool
}

// DeviceAttribute is one device-signed element, flattened out of the
// per-namespace map DeviceSigned.DeviceNameSpacesMap returns.
type DeviceAttribute struct {
	Namespace         string
	ElementIdentifier string
	Value             mdoc.ElementValue
}

// IssuerCertificate is a caller-friendly rendering of the document signer
// leaf certificate backing issuerAuth.
type IssuerCertificate struct {
	SubjectName  string
	PEM          string
	NotBefore    time.Time
	NotAfter     time.Time
	SerialNumber string
	Thumbprint   string
}

// JWK is a minimal JSON Web Key (RFC 7517) rendering of a disclosed
// COSE_Key device key, for callers that would rather work with the more
// widely supported JWK field names than mdoc.COSEKey's COSE labels.
type JWK struct {
	Kty string `mapstructure:"kty"`
	Crv string `mapstructure:"crv,omitempty"`
	X   string `mapstructure:"x,omitempty"`
	Y   string `mapstructure:"y,omitempty"`
}

// Passed reports whether every Assessment in the report succeeded; WARNING
// assessments do not count as failures.
func (r *Report) Passed() bool {
	for _, a := range r.Assessments {
		if a.Status == verifier.StatusFailed {
			return false
		}
	}
	return true
}

// Failures returns only the FAILED assessments, in the order they ran.
func (r *Report) Failures() []verifier.Assessment {
	var out []verifier.Assessment
	for _, a := range r.Assessments {
		if a.Status == verifier.StatusFailed {
			out = append(out, a)
		}
	}
	return out
}

// Options configures a Diagnose run.
type Options struct {
	Roots                  *x509.CertPool
	SessionTranscriptBytes []byte
	ReaderEphemeralKey     *ecdh.PrivateKey
	Clock                  func() time.Time
	DocType                mdoc.DocType
}

// Diagnose decodes an encoded DeviceResponse, locates the requested
// document (or the sole document if DocType is empty and exactly one is
// present), and runs the full verification state machine against it with a
// Collect sink, returning every assessment rather than stopping at the
// first failure.
func Diagnose(encodedDeviceResponse []byte, opts Options) (*Report, error) {
	resp, err := mdoc.ParseDeviceResponse(encodedDeviceResponse)
	if err != nil {
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}

	doc, err := selectDocument(resp, opts.DocType)
	if err != nil {
		return nil, err
	}

	voptions := []verifier.VerifierOption{}
	collect := &verifier.Collect{}
	voptions = append(voptions, verifier.WithSink(collect))
	if opts.Clock != nil {
		voptions = append(voptions, verifier.WithClock(opts.Clock))
	}
	if opts.ReaderEphemeralKey != nil {
		voptions = append(voptions, verifier.WithReaderEphemeralKey(opts.ReaderEphemeralKey))
	}

	v := verifier.NewVerifier(opts.Roots, voptions...)
	// Verify only returns an error for structural failures that precede any
	// assessment (e.g. an undecodable MSO); the Collect sink never aborts,
	// so a returned error here means the report below would be empty.
	if err := v.Verify(doc, opts.SessionTranscriptBytes); err != nil {
		return nil, err
	}

	assessments := collect.Assessments()
	mso, err := doc.IssuerSigned.MobileSecurityObject()
	if err != nil {
		return nil, err
	}

	dataIntegrity, attrs := dataIntegritySummary(doc, mso, assessments)

	report := &Report{
		ID:                uuid.NewString(),
		DocType:           doc.DocType,
		GeneratedAt:       time.Now(),
		Assessments:       assessments,
		IssuerSignature:   issuerSignatureSummary(doc, mso, assessments),
		DeviceSignature:   deviceSignatureSummary(doc, assessments),
		DataIntegrity:     dataIntegrity,
		Attributes:        attrs,
		DeviceAttributes:  deviceAttributes(doc),
		IssuerCertificate: issuerCertificateSummary(doc),
	}

	if jwk, err := deviceKeyJWK(doc); err == nil {
		report.DeviceKey = jwk
	}

	return report, nil
}

func failureReasons(assessments []verifier.Assessment, category mdlerr.Category) (isValid bool, reasons []string) {
	isValid = true
	for _, a := range assessments {
		if a.Category != category || a.Status != verifier.StatusFailed {
			continue
		}
		isValid = false
		if a.Err != nil {
			reasons = append(reasons, a.Err.Error())
		}
	}
	return isValid, reasons
}

var algNames = map[int64]string{
	int64(cose.AlgorithmES256): "ES256",
	int64(cose.AlgorithmES384): "ES384",
	int64(cose.AlgorithmES512): "ES512",
	int64(cose.AlgorithmEd25519): "EdDSA",
	5:                          "HMAC-256/256",
}

func algName(alg int64) string {
	if name, ok := algNames[alg]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", alg)
}

func issuerSignatureSummary(doc *mdoc.Document, mso *mdoc.MobileSecurityObject, assessments []verifier.Assessment) IssuerSignature {
	summary := IssuerSignature{Digests: map[string]int{}}
	if alg, err := doc.IssuerSigned.Alg(); err == nil {
		summary.Alg = algName(int64(alg))
	}
	for ns, digests := range mso.ValueDigests {
		summary.Digests[string(ns)] = len(digests)
	}
	summary.IsValid, summary.Reasons = failureReasons(assessments, mdlerr.CategoryIssuerAuth)
	return summary
}

// deviceSignatureSummary is nil for a document parsed without DeviceSigned,
// i.e. one carrying no device proof of possession at all.
func deviceSignatureSummary(doc *mdoc.Document, assessments []verifier.Assessment) *DeviceSignature {
	if doc.DeviceSigned == nil {
		return nil
	}
	summary := &DeviceSignature{}
	switch {
	case doc.DeviceSigned.DeviceAuth.DeviceSignature != nil:
		if alg, err := doc.DeviceSigned.DeviceAuth.DeviceSignature.Headers.Protected.Algorithm(); err == nil {
			summary.Alg = algName(int64(alg))
		}
	case doc.DeviceSigned.DeviceAuth.DeviceMac != nil:
		if alg, err := doc.DeviceSigned.DeviceAuth.DeviceMac.Algorithm(); err == nil {
			summary.Alg = algName(alg)
		}
	}
	summary.IsValid, summary.Reasons = failureReasons(assessments, mdlerr.CategoryDeviceAuth)
	return summary
}

// dataIntegritySummary recomputes each disclosed element's digest and, for
// the two geography elements, its consistency with the issuer leaf
// certificate, independently of the Assessment list so the per-attribute
// breakdown survives even under a sink that stops recording early.
func dataIntegritySummary(doc *mdoc.Document, mso *mdoc.MobileSecurityObject, assessments []verifier.Assessment) (DataIntegrity, []Attribute) {
	leaf, leafErr := doc.IssuerSigned.Leaf()
	var certCountry, certProvince string
	var haveProvince bool
	if leafErr == nil {
		certCountry, _ = certchain.CountryName(leaf)
		certProvince, haveProvince = certchain.StateOrProvinceName(leaf)
	}

	var attrs []Attribute
	valid, total := 0, 0
	for _, ns := range doc.IssuerSigned.GetNameSpaces() {
		items, err := doc.IssuerSigned.GetIssuerSignedItems(ns)
		if err != nil {
			continue
		}
		for _, item := range items {
			total++

			isValid := false
			if expected, err := mso.GetDigest(ns, item.DigestID); err == nil {
				if actual, err := item.Digest(mso.DigestAlgorithm); err == nil {
					isValid = bytes.Equal([]byte(expected), actual)
				}
			}
			if isValid {
				valid++
			}

			matchCertificate := true
			switch item.ElementIdentifier {
			case mdoc.IsoIssuingCountry:
				if s, ok := item.UnwrappedValue().(string); ok && certCountry != "" {
					matchCertificate = s == certCountry
				}
			case mdoc.IsoIssuingJurisdiction:
				if s, ok := item.UnwrappedValue().(string); ok && haveProvince {
					matchCertificate = s == certProvince
				}
			}

			attrs = append(attrs, Attribute{
				Namespace:         string(ns),
				ElementIdentifier: string(item.ElementIdentifier),
				Value:             item.UnwrappedValue(),
				IsValid:           isValid,
				MatchCertificate:  matchCertificate,
			})
		}
	}

	di := DataIntegrity{DisclosedAttributes: fmt.Sprintf("%d of %d", valid, total)}
	di.IsValid, di.Reasons = failureReasons(assessments, mdlerr.CategoryDataIntegrity)
	return di, attrs
}

// deviceAttributes flattens DeviceSigned's per-namespace element map into a
// single list, mirroring Attributes' shape.
func deviceAttributes(doc *mdoc.Document) []DeviceAttribute {
	if doc.DeviceSigned == nil {
		return nil
	}
	nsMap, err := doc.DeviceSigned.DeviceNameSpacesMap()
	if err != nil {
		return nil
	}
	var out []DeviceAttribute
	for ns, items := range nsMap {
		for id, value := range items {
			out = append(out, DeviceAttribute{Namespace: string(ns), ElementIdentifier: string(id), Value: value})
		}
	}
	return out
}

func issuerCertificateSummary(doc *mdoc.Document) *IssuerCertificate {
	leaf, err := doc.IssuerSigned.Leaf()
	if err != nil {
		return nil
	}
	sum := sha256.Sum256(leaf.Raw)
	return &IssuerCertificate{
		SubjectName:  leaf.Subject.String(),
		PEM:          string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw})),
		NotBefore:    leaf.NotBefore,
		NotAfter:     leaf.NotAfter,
		SerialNumber: leaf.SerialNumber.String(),
		Thumbprint:   hex.EncodeToString(sum[:]),
	}
}

func selectDocument(resp *mdoc.DeviceResponse, docType mdoc.DocType) (*mdoc.Document, error) {
	if docType != "" {
		return resp.GetDocument(docType)
	}
	if len(resp.Documents) != 1 {
		return nil, fmt.Errorf("DeviceResponse carries %d documents; specify Options.DocType", len(resp.Documents))
	}
	return &resp.Documents[0], nil
}

var crvNames = map[int]string{
	mdoc.CrvP256:    "P-256",
	mdoc.CrvP384:    "P-384",
	mdoc.CrvP521:    "P-521",
	mdoc.CrvEd25519: "Ed25519",
}

// deviceKeyJWK decodes the document's COSE_Key device key into a generic
// field map and reshapes it into a JWK via mapstructure, rather than
// hand-writing per-kty struct literals.
func deviceKeyJWK(doc *mdoc.Document) (*JWK, error) {
	mso, err := doc.IssuerSigned.MobileSecurityObject()
	if err != nil {
		return nil, err
	}
	key := mso.DeviceKeyInfo.DeviceKey
	if key == nil {
		return nil, mdlerr.ErrMissingDeviceKey{}
	}

	raw := map[string]interface{}{}
	switch key.Kty {
	case mdoc.KtyEC2:
		raw["kty"] = "EC"
	case mdoc.KtyOKP:
		raw["kty"] = "OKP"
	default:
		raw["kty"] = fmt.Sprintf("unknown(%d)", key.Kty)
	}

	var crv int
	if err := cborcodec.Unmarshal(key.CrvOrNOrK, &crv); err == nil {
		if name, ok := crvNames[crv]; ok {
			raw["crv"] = name
		}
	}
	var x, y []byte
	if err := cborcodec.Unmarshal(key.XOrE, &x); err == nil {
		raw["x"] = base64.RawURLEncoding.EncodeToString(x)
	}
	if err := cborcodec.Unmarshal(key.Y, &y); err == nil && len(y) > 0 {
		raw["y"] = base64.RawURLEncoding.EncodeToString(y)
	}

	var jwk JWK
	if err := mapstructure.Decode(raw, &jwk); err != nil {
		return nil, fmt.Errorf("failed to decode device key into JWK shape: %w", err)
	}
	return &jwk, nil
}
