// Package mdoc decodes the ISO/IEC 18013-5 DeviceResponse wire structure into
// typed Go values: DeviceResponse, Document, IssuerSigned, DeviceSigned and
// the MobileSecurityObject they commit to. It intentionally knows nothing
// about trust anchors, session transcripts or verification policy — those
// live in internal/certchain, transcript and verifier respectively — it only
// decodes bytes and hands back the exact sub-slices later components need to
// re-hash or re-verify.
package mdoc

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/x509"
	"fmt"
	"math/big"

	"github.com/veraison/go-cose"

	"github.com/oshikawatkm/mdl/internal/cborcodec"
	"github.com/oshikawatkm/mdl/internal/mdlerr"
	"github.com/oshikawatkm/mdl/pkg/hash"
)

type DocType string

type NameSpace string

type ElementIdentifier string

type ElementValue interface{}

type DigestID uint64

type Digest []byte

// DeviceResponse is the top-level structure a holder's wallet returns.
type DeviceResponse struct {
	Version        string          `cbor:"version"`
	Documents      []Document      `cbor:"documents,omitempty"`
	DocumentErrors []DocumentError `cbor:"documentErrors,omitempty"`
	Status         uint            `cbor:"status"`
}

// ParseDeviceResponse decodes the deterministic CBOR wire bytes produced by
// a wallet. It performs no verification and does not check the structural
// invariants (version, non-empty documents); call Validate for those.
func ParseDeviceResponse(data []byte) (*DeviceResponse, error) {
	var resp DeviceResponse
	if err := cborcodec.Unmarshal(data, &resp); err != nil {
		return nil, mdlerr.ErrMalformedCBOR{Err: err}
	}
	return &resp, nil
}

// Validate checks the DOCUMENT_FORMAT invariants.
func (d *DeviceResponse) Validate() error {
	if d.Version < "1.0" {
		return mdlerr.ErrUnsupportedVersion{Version: d.Version}
	}
	if len(d.Documents) == 0 {
		return mdlerr.ErrNoDocuments{}
	}
	return nil
}

func (d *DeviceResponse) GetDocument(docType DocType) (*Document, error) {
	for i := range d.Documents {
		if d.Documents[i].DocType == docType {
			return &d.Documents[i], nil
		}
	}
	return nil, fmt.Errorf("failed to find document: docType=%s", docType)
}

// Document is one disclosed credential within a DeviceResponse.
type Document struct {
	DocType      DocType       `cbor:"docType"`
	IssuerSigned IssuerSigned  `cbor:"issuerSigned"`
	DeviceSigned *DeviceSigned `cbor:"deviceSigned,omitempty"`
	Errors       Errors        `cbor:"errors,omitempty"`
}

// IssuerSigned is the issuer-produced half of a Document: the disclosed
// namespaces and the COSE_Sign1 envelope (issuerAuth) over the MSO.
type IssuerSigned struct {
	NameSpaces IssuerNameSpaces          `cbor:"nameSpaces,omitempty"`
	IssuerAuth cose.UntaggedSign1Message `cbor:"issuerAuth"`
}

func (i *IssuerSigned) GetNameSpaces() []NameSpace {
	nss := make([]NameSpace, 0, len(i.NameSpaces))
	for ns := range i.NameSpaces {
		nss = append(nss, ns)
	}
	return nss
}

func (i *IssuerSigned) GetIssuerSignedItems(ns NameSpace) ([]IssuerSignedItem, error) {
	raws, ok := i.NameSpaces[ns]
	if !ok || len(raws) == 0 {
		return nil, fmt.Errorf("no such namespace: %s", ns)
	}
	items := make([]IssuerSignedItem, 0, len(raws))
	for _, raw := range raws {
		item, err := raw.IssuerSignedItem()
		if err != nil {
			return nil, fmt.Errorf("failed to parse issuerSignedItem: %w", err)
		}
		items = append(items, *item)
	}
	return items, nil
}

func (i *IssuerSigned) Alg() (cose.Algorithm, error) {
	if i.IssuerAuth.Headers.Protected == nil {
		return 0, fmt.Errorf("issuerAuth protected header is nil")
	}
	return i.IssuerAuth.Headers.Protected.Algorithm()
}

// X5Chain returns the parsed certificate chain carried in issuerAuth's
// unprotected headers, leaf first.
func (i *IssuerSigned) X5Chain() ([]*x509.Certificate, error) {
	if i.IssuerAuth.Headers.Unprotected == nil {
		return nil, mdlerr.ErrMissingIssuerCertificate{}
	}
	raw, ok := i.IssuerAuth.Headers.Unprotected[cose.HeaderLabelX5Chain]
	if !ok {
		return nil, mdlerr.ErrMissingIssuerCertificate{}
	}

	var rawChain [][]byte
	switch v := raw.(type) {
	case [][]byte:
		rawChain = v
	case []byte:
		rawChain = [][]byte{v}
	case []interface{}:
		rawChain = make([][]byte, 0, len(v))
		for _, elem := range v {
			der, ok := elem.([]byte)
			if !ok {
				return nil, fmt.Errorf("unexpected x5chain element type: %T", elem)
			}
			rawChain = append(rawChain, der)
		}
	default:
		return nil, fmt.Errorf("unexpected x5chain type: %T", raw)
	}
	if len(rawChain) == 0 {
		return nil, mdlerr.ErrMissingIssuerCertificate{}
	}

	certs := make([]*x509.Certificate, 0, len(rawChain))
	for _, der := range rawChain {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// Leaf returns the document signing certificate (first entry of x5chain).
func (i *IssuerSigned) Leaf() (*x509.Certificate, error) {
	certs, err := i.X5Chain()
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

// MobileSecurityObject decodes and returns the MSO embedded (tag-24 wrapped)
// in issuerAuth's payload.
func (i *IssuerSigned) MobileSecurityObject() (*MobileSecurityObject, error) {
	if i.IssuerAuth.Payload == nil {
		return nil, fmt.Errorf("issuerAuth has no payload")
	}
	inner, err := cborcodec.Tag24Unwrap(i.IssuerAuth.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap MobileSecurityObjectBytes: %w", err)
	}
	var mso MobileSecurityObject
	if err := cborcodec.Unmarshal(inner, &mso); err != nil {
		return nil, fmt.Errorf("failed to unmarshal MSO: %w", err)
	}
	return &mso, nil
}

type IssuerNameSpaces map[NameSpace][]IssuerSignedItemBytes

// IssuerSignedItemBytes is the tag-24 inner byte slice for a single disclosed
// element, preserved verbatim so its digest can be recomputed exactly.
type IssuerSignedItemBytes cborcodec.RawMessage

// NewIssuerSignedItemBytes encodes a disclosed element the way an issuer
// would. random is the per-element salt; its length is not checked here.
// Real credentials carry at least 16 fresh crypto/rand bytes rather than a
// fixed value.
func NewIssuerSignedItemBytes(digestID DigestID, random []byte, id ElementIdentifier, value ElementValue) (IssuerSignedItemBytes, error) {
	encoded, err := cborcodec.Marshal(IssuerSignedItem{
		DigestID:          digestID,
		Random:            random,
		ElementIdentifier: id,
		ElementValue:      value,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode issuerSignedItem: %w", err)
	}
	return IssuerSignedItemBytes(encoded), nil
}

func (b IssuerSignedItemBytes) IssuerSignedItem() (*IssuerSignedItem, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty issuerSignedItem bytes")
	}
	var item IssuerSignedItem
	if err := cborcodec.Unmarshal(b, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal issuerSignedItem: %w", err)
	}
	item.rawBytes = b
	return &item, nil
}

// IssuerSignedItem is one disclosed attribute. ElementValue is the decoded
// value; rawBytes is the exact tag-24 inner bytes the issuer signed, needed
// to recompute the committed digest.
type IssuerSignedItem struct {
	DigestID          DigestID          `cbor:"digestID"`
	Random            []byte            `cbor:"random"`
	ElementIdentifier ElementIdentifier `cbor:"elementIdentifier"`
	ElementValue      ElementValue      `cbor:"elementValue"`
	rawBytes          IssuerSignedItemBytes
}

// Digest computes H(alg, tag24(rawBytes)), the digest an MSO's valueDigests
// entry for this element must match.
func (i *IssuerSignedItem) Digest(alg string) ([]byte, error) {
	if i == nil {
		return nil, fmt.Errorf("issuerSignedItem is nil")
	}
	wrapped, err := cborcodec.Tag24Wrap(i.rawBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap issuerSignedItem bytes: %w", err)
	}
	return hash.Digest(wrapped, alg)
}

// UnwrappedValue returns ElementValue with any enclosing CBOR tag stripped
// (a tag-1004 full-date decodes into cbor.Tag{Content: string}; a tag-0
// date-time already decodes into time.Time and is returned unchanged).
func (i *IssuerSignedItem) UnwrappedValue() ElementValue {
	if tag, ok := i.ElementValue.(cborcodec.Tag); ok {
		return tag.Content
	}
	return i.ElementValue
}

// MobileSecurityObject is the issuer-signed digest commitment and device key
// declaration.
type MobileSecurityObject struct {
	Version         string        `cbor:"version"`
	DigestAlgorithm string        `cbor:"digestAlgorithm"`
	ValueDigests    ValueDigests  `cbor:"valueDigests"`
	DeviceKeyInfo   DeviceKeyInfo `cbor:"deviceKeyInfo"`
	DocType         DocType       `cbor:"docType"`
	ValidityInfo    ValidityInfo  `cbor:"validityInfo"`
}

func (m *MobileSecurityObject) GetDigest(ns NameSpace, digestID DigestID) (Digest, error) {
	digests, ok := m.ValueDigests[ns]
	if !ok {
		return nil, mdlerr.ErrNamespaceNotDigested{Namespace: string(ns)}
	}
	digest, ok := digests[digestID]
	if !ok {
		return nil, fmt.Errorf("digest not found: namespace=%s digestID=%d", ns, digestID)
	}
	return digest, nil
}

// DeviceKey returns the device's public key in whatever form its COSE_Key
// kty declares (EC2: ECDSA P-256/384/521; OKP: Ed25519).
func (m *MobileSecurityObject) DeviceKey() (crypto.PublicKey, error) {
	if m == nil || m.DeviceKeyInfo.DeviceKey == nil {
		return nil, mdlerr.ErrMissingDeviceKey{}
	}
	return m.DeviceKeyInfo.DeviceKey.PublicKey()
}

type DeviceKeyInfo struct {
	DeviceKey         *COSEKey           `cbor:"deviceKey"`
	KeyAuthorizations *KeyAuthorizations `cbor:"keyAuthorizations,omitempty"`
	KeyInfo           KeyInfo            `cbor:"keyInfo,omitempty"`
}

type KeyAuthorizations struct {
	NameSpaces   []NameSpace                       `cbor:"nameSpaces,omitempty"`
	DataElements map[NameSpace][]ElementIdentifier `cbor:"dataElements,omitempty"`
}

type KeyInfo map[int]interface{}

type ValueDigests map[NameSpace]DigestIDs

type DigestIDs map[DigestID]Digest

type ValidityInfo struct {
	Signed         cborTime `cbor:"signed"`
	ValidFrom      cborTime `cbor:"validFrom"`
	ValidUntil     cborTime `cbor:"validUntil"`
	ExpectedUpdate cborTime `cbor:"expectedUpdate,omitempty"`
}

// COSE kty values (RFC 8152 Table 18/21).
const (
	KtyOKP       = 1
	KtyEC2       = 2
	KtySymmetric = 4
)

// COSE EC2/OKP crv values (RFC 8152 Table 21/22).
const (
	CrvP256          = 1
	CrvP384          = 2
	CrvP521          = 3
	CrvEd25519       = 6
	CrvBrainpoolP256 = 8
	CrvBrainpoolP384 = 9
	CrvBrainpoolP512 = 10
)

// COSEKey is a generic COSE_Key map (RFC 8152 §7). Not every label is
// meaningful for every kty; DeviceKeyInfo's key only ever uses kty EC2 or
// OKP in practice.
type COSEKey struct {
	Kty       int                  `cbor:"1,keyasint,omitempty"`
	Kid       []byte               `cbor:"2,keyasint,omitempty"`
	Alg       int                  `cbor:"3,keyasint,omitempty"`
	KeyOps    []int                `cbor:"4,keyasint,omitempty"`
	IV        []byte               `cbor:"5,keyasint,omitempty"`
	CrvOrNOrK cborcodec.RawMessage `cbor:"-1,keyasint,omitempty"`
	XOrE      cborcodec.RawMessage `cbor:"-2,keyasint,omitempty"`
	Y         cborcodec.RawMessage `cbor:"-3,keyasint,omitempty"`
	D         []byte               `cbor:"-4,keyasint,omitempty"`
}

// PublicKey converts the COSE_Key into a crypto.PublicKey usable by
// crypto/ecdsa or crypto/ed25519.
func (k *COSEKey) PublicKey() (crypto.PublicKey, error) {
	if k == nil {
		return nil, fmt.Errorf("cose key is nil")
	}
	switch k.Kty {
	case KtyEC2:
		return k.ecdsaPublicKey()
	case KtyOKP:
		return k.ed25519PublicKey()
	default:
		return nil, fmt.Errorf("unsupported COSE kty: %d", k.Kty)
	}
}

// NewCOSEKeyFromECDSA builds a COSE_Key (kty EC2) from an ECDSA public key,
// the inverse of ecdsaPublicKey. Issuer-side tooling uses this to populate
// DeviceKeyInfo.DeviceKey from the device key it received out of band.
func NewCOSEKeyFromECDSA(pub *ecdsa.PublicKey) (*COSEKey, error) {
	var crv int
	switch pub.Curve {
	case elliptic.P256():
		crv = CrvP256
	case elliptic.P384():
		crv = CrvP384
	case elliptic.P521():
		crv = CrvP521
	default:
		return nil, fmt.Errorf("unsupported curve: %v", pub.Curve)
	}

	crvBytes, err := cborcodec.Marshal(crv)
	if err != nil {
		return nil, err
	}
	xBytes, err := cborcodec.Marshal(pub.X.Bytes())
	if err != nil {
		return nil, err
	}
	yBytes, err := cborcodec.Marshal(pub.Y.Bytes())
	if err != nil {
		return nil, err
	}

	return &COSEKey{
		Kty:       KtyEC2,
		CrvOrNOrK: crvBytes,
		XOrE:      xBytes,
		Y:         yBytes,
	}, nil
}

func (k *COSEKey) ecdsaPublicKey() (*ecdsa.PublicKey, error) {
	var crv int
	if err := cborcodec.Unmarshal(k.CrvOrNOrK, &crv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal curve: %w", err)
	}

	var xBytes, yBytes []byte
	if err := cborcodec.Unmarshal(k.XOrE, &xBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal X coordinate: %w", err)
	}
	if err := cborcodec.Unmarshal(k.Y, &yBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Y coordinate: %w", err)
	}
	if len(xBytes) == 0 || len(yBytes) == 0 {
		return nil, fmt.Errorf("invalid EC2 coordinates")
	}

	var curve elliptic.Curve
	switch crv {
	case CrvP256:
		curve = elliptic.P256()
	case CrvP384:
		curve = elliptic.P384()
	case CrvP521:
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve: %d", crv)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

func (k *COSEKey) ed25519PublicKey() (ed25519.PublicKey, error) {
	var crv int
	if err := cborcodec.Unmarshal(k.CrvOrNOrK, &crv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal curve: %w", err)
	}
	if crv != CrvEd25519 {
		return nil, fmt.Errorf("unsupported OKP curve: %d", crv)
	}
	var xBytes []byte
	if err := cborcodec.Unmarshal(k.XOrE, &xBytes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal X: %w", err)
	}
	if len(xBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid Ed25519 public key length: %d", len(xBytes))
	}
	return ed25519.PublicKey(xBytes), nil
}

// DeviceSigned is the device-produced half of a Document.
type DeviceSigned struct {
	NameSpaces DeviceNameSpacesBytes `cbor:"nameSpaces"`
	DeviceAuth DeviceAuth            `cbor:"deviceAuth"`
}

// DeviceNameSpacesBytes is the tag-24 wrapped, CBOR-encoded device namespace
// map, kept verbatim since it participates in DeviceAuthenticationBytes.
type DeviceNameSpacesBytes cborcodec.RawMessage

type DeviceNameSpaces map[NameSpace]DeviceSignedItems

type DeviceSignedItems map[ElementIdentifier]ElementValue

func (d *DeviceSigned) DeviceNameSpacesMap() (DeviceNameSpaces, error) {
	inner, err := cborcodec.Tag24Unwrap(d.NameSpaces)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap device nameSpaces: %w", err)
	}
	var ns DeviceNameSpaces
	if err := cborcodec.Unmarshal(inner, &ns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device nameSpaces: %w", err)
	}
	return ns, nil
}

// DeviceAuth holds exactly one of the two proof-of-possession kinds a
// device may present.
type DeviceAuth struct {
	DeviceSignature *cose.UntaggedSign1Message `cbor:"deviceSignature,omitempty"`
	DeviceMac       *CoseMac0                  `cbor:"deviceMac,omitempty"`
}

type DocumentError map[DocType]ErrorCode

type Errors map[NameSpace]ErrorItems

type ErrorItems map[ElementIdentifier]ErrorCode

type ErrorCode int
