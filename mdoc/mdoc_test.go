package mdoc

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"

	"github.com/oshikawatkm/mdl/internal/cborcodec"
)

// buildIssuerSignedItem encodes a single disclosed element the way an
// issuer would, returning both the encoded bytes and the digest an MSO
// would need to carry for it.
func buildIssuerSignedItem(t *testing.T, digestID DigestID, id ElementIdentifier, value interface{}) (IssuerSignedItemBytes, []byte) {
	t.Helper()
	encoded, err := NewIssuerSignedItemBytes(digestID, []byte{0x01, 0x02, 0x03, 0x04}, id, value)
	require.NoError(t, err)

	wrapped, err := cborcodec.Tag24Wrap(encoded)
	require.NoError(t, err)
	sum := sha256.Sum256(wrapped)

	return encoded, sum[:]
}

func TestIssuerSignedItemDigest(t *testing.T) {
	raw, wantDigest := buildIssuerSignedItem(t, 1, "given_name", "ERIKA")

	item, err := raw.IssuerSignedItem()
	require.NoError(t, err)
	assert.Equal(t, ElementIdentifier("given_name"), item.ElementIdentifier)
	assert.Equal(t, "ERIKA", item.UnwrappedValue())

	got, err := item.Digest("SHA-256")
	require.NoError(t, err)
	assert.Equal(t, wantDigest, got)

	spew.Fdump(devNull{}, item)
}

type devNull struct{}

func (devNull) Write(p []byte) (int, error) { return len(p), nil }

func TestCOSEKeyPublicKeyEC2(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	xBytes, err := cborcodec.Marshal(priv.X.Bytes())
	require.NoError(t, err)
	yBytes, err := cborcodec.Marshal(priv.Y.Bytes())
	require.NoError(t, err)
	crvBytes, err := cborcodec.Marshal(CrvP256)
	require.NoError(t, err)

	key := &COSEKey{
		Kty:       KtyEC2,
		CrvOrNOrK: crvBytes,
		XOrE:      xBytes,
		Y:         yBytes,
	}

	pub, err := key.PublicKey()
	require.NoError(t, err)
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.True(t, priv.PublicKey.Equal(ecdsaPub))
}

func TestCOSEKeyPublicKeyOKP(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	xBytes, err := cborcodec.Marshal([]byte(pub))
	require.NoError(t, err)
	crvBytes, err := cborcodec.Marshal(CrvEd25519)
	require.NoError(t, err)

	key := &COSEKey{
		Kty:       KtyOKP,
		CrvOrNOrK: crvBytes,
		XOrE:      xBytes,
	}

	got, err := key.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, pub, got)
}

func TestParseDeviceResponseRejectsUnsupportedVersion(t *testing.T) {
	data, err := cborcodec.Marshal(map[string]interface{}{
		"version":   "0.9",
		"documents": []interface{}{},
		"status":    0,
	})
	require.NoError(t, err)

	resp, err := ParseDeviceResponse(data)
	require.NoError(t, err)
	require.Error(t, resp.Validate())
}

func TestParseDeviceResponseRejectsNoDocuments(t *testing.T) {
	data, err := cborcodec.Marshal(map[string]interface{}{
		"version": "1.0",
		"status":  0,
	})
	require.NoError(t, err)

	resp, err := ParseDeviceResponse(data)
	require.NoError(t, err)
	require.Error(t, resp.Validate())
}

// TestDeviceResponseRoundTrip builds a full DeviceResponse by hand (one
// document, one namespace, one disclosed element, a COSE_Sign1 issuerAuth
// over a matching MSO) and checks that decoding it back recovers everything
// needed to verify it, without actually running the verifier state machine.
func TestDeviceResponseRoundTrip(t *testing.T) {
	dsKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	itemBytes, digest := buildIssuerSignedItem(t, 1, "family_name", "MUSTERMANN")

	deviceKeyPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	xBytes, err := cborcodec.Marshal(deviceKeyPriv.X.Bytes())
	require.NoError(t, err)
	yBytes, err := cborcodec.Marshal(deviceKeyPriv.Y.Bytes())
	require.NoError(t, err)
	crvBytes, err := cborcodec.Marshal(CrvP256)
	require.NoError(t, err)

	mso := MobileSecurityObject{
		Version:         "1.0",
		DigestAlgorithm: "SHA-256",
		ValueDigests: ValueDigests{
			IsoNameSpace: DigestIDs{1: Digest(digest)},
		},
		DeviceKeyInfo: DeviceKeyInfo{
			DeviceKey: &COSEKey{Kty: KtyEC2, CrvOrNOrK: crvBytes, XOrE: xBytes, Y: yBytes},
		},
		DocType: IsoMDL,
		ValidityInfo: ValidityInfo{
			Signed:     cborTime(time.Now().Add(-time.Hour)),
			ValidFrom:  cborTime(time.Now().Add(-time.Hour)),
			ValidUntil: cborTime(time.Now().Add(24 * time.Hour)),
		},
	}
	msoEncoded, err := cborcodec.Marshal(mso)
	require.NoError(t, err)
	msoWrapped, err := cborcodec.Tag24Wrap(msoEncoded)
	require.NoError(t, err)

	signer, err := cose.NewSigner(cose.AlgorithmES256, dsKey)
	require.NoError(t, err)
	issuerAuth := cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: cose.AlgorithmES256,
			},
			Unprotected: cose.UnprotectedHeader{
				cose.HeaderLabelX5Chain: [][]byte{{0x30, 0x00}},
			},
		},
		Payload: msoWrapped,
	}
	require.NoError(t, issuerAuth.Sign(rand.Reader, nil, signer))

	doc := Document{
		DocType: IsoMDL,
		IssuerSigned: IssuerSigned{
			NameSpaces: IssuerNameSpaces{
				IsoNameSpace: []IssuerSignedItemBytes{itemBytes},
			},
			IssuerAuth: issuerAuth,
		},
	}
	resp := DeviceResponse{
		Version:   "1.0",
		Documents: []Document{doc},
		Status:    0,
	}

	encoded, err := cborcodec.Marshal(resp)
	require.NoError(t, err)

	decoded, err := ParseDeviceResponse(encoded)
	require.NoError(t, err)
	require.NoError(t, decoded.Validate())

	got, err := decoded.GetDocument(IsoMDL)
	require.NoError(t, err)

	items, err := got.IssuerSigned.GetIssuerSignedItems(IsoNameSpace)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "MUSTERMANN", items[0].UnwrappedValue())

	gotMSO, err := got.IssuerSigned.MobileSecurityObject()
	require.NoError(t, err)
	assert.Equal(t, IsoMDL, gotMSO.DocType)

	calcDigest, err := items[0].Digest(gotMSO.DigestAlgorithm)
	require.NoError(t, err)
	wantDigest, err := gotMSO.GetDigest(IsoNameSpace, items[0].DigestID)
	require.NoError(t, err)
	assert.Equal(t, []byte(wantDigest), calcDigest)

	alg, err := got.IssuerSigned.Alg()
	require.NoError(t, err)
	assert.Equal(t, cose.AlgorithmES256, alg)

	verifier, err := cose.NewVerifier(alg, &dsKey.PublicKey)
	require.NoError(t, err)
	assert.NoError(t, got.IssuerSigned.IssuerAuth.Verify(nil, verifier))

	_, err = got.IssuerSigned.X5Chain()
	require.Error(t, err) // {0x30, 0x00} is not a parseable certificate; confirms the chain is at least read back
}
