package diagnostic

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"

	"github.com/oshikawatkm/mdl/internal/cborcodec"
	"github.com/oshikawatkm/mdl/internal/cryptoroot"
	"github.com/oshikawatkm/mdl/mdoc"
	"github.com/oshikawatkm/mdl/pkg/pki"
	"github.com/oshikawatkm/mdl/transcript"
)

const testDocType = mdoc.IsoMDL
const testNameSpace = mdoc.IsoNameSpace

// buildEncodedResponse assembles a full, signed DeviceResponse the way
// verifier's own fixtures do, but returns it already CBOR-encoded since
// Diagnose works from raw bytes rather than a decoded mdoc.Document.
func buildEncodedResponse(t *testing.T) ([]byte, *x509.CertPool, []byte) {
	t.Helper()

	chain, err := cryptoroot.Generate(cryptoroot.ChainOptions{Country: "US", Province: "CA"})
	require.NoError(t, err)
	roots := pki.NewCertPool([]*x509.Certificate{chain.RootCert})

	itemBytes, err := mdoc.NewIssuerSignedItemBytes(1, []byte{0xaa, 0xbb, 0xcc, 0xdd}, mdoc.IsoAgeOver18, true)
	require.NoError(t, err)
	item, err := itemBytes.IssuerSignedItem()
	require.NoError(t, err)
	digest, err := item.Digest("SHA-256")
	require.NoError(t, err)

	deviceKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	deviceCOSEKey, err := mdoc.NewCOSEKeyFromECDSA(&deviceKey.PublicKey)
	require.NoError(t, err)

	mso := mdoc.MobileSecurityObject{
		Version:         "1.0",
		DigestAlgorithm: "SHA-256",
		ValueDigests: mdoc.ValueDigests{
			testNameSpace: mdoc.DigestIDs{1: mdoc.Digest(digest)},
		},
		DeviceKeyInfo: mdoc.DeviceKeyInfo{DeviceKey: deviceCOSEKey},
		DocType:       testDocType,
		ValidityInfo: mdoc.NewValidityInfo(
			time.Now().Add(-time.Hour),
			time.Now().Add(-time.Minute),
			time.Now().Add(24*time.Hour),
		),
	}
	msoEncoded, err := cborcodec.Marshal(mso)
	require.NoError(t, err)
	msoWrapped, err := cborcodec.Tag24Wrap(msoEncoded)
	require.NoError(t, err)

	issuerSigner, err := cose.NewSigner(cose.AlgorithmES256, chain.DSKey)
	require.NoError(t, err)
	issuerAuth := cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{cose.HeaderLabelAlgorithm: cose.AlgorithmES256},
			Unprotected: cose.UnprotectedHeader{
				cose.HeaderLabelX5Chain: chain.X5Chain(),
			},
		},
		Payload: msoWrapped,
	}
	require.NoError(t, issuerAuth.Sign(rand.Reader, nil, issuerSigner))

	deviceNSEncoded, err := cborcodec.Marshal(map[mdoc.NameSpace]map[mdoc.ElementIdentifier]interface{}{})
	require.NoError(t, err)
	deviceNSWrapped, err := cborcodec.Tag24Wrap(deviceNSEncoded)
	require.NoError(t, err)

	sessionTranscriptBytes, err := cborcodec.Marshal([]interface{}{nil, nil, nil})
	require.NoError(t, err)

	deviceAuthBytes, err := transcript.DeviceAuthenticationBytes(sessionTranscriptBytes, testDocType, mdoc.DeviceNameSpacesBytes(deviceNSWrapped))
	require.NoError(t, err)

	deviceSigner, err := cose.NewSigner(cose.AlgorithmES256, deviceKey)
	require.NoError(t, err)
	deviceSig := &cose.UntaggedSign1Message{
		Headers: cose.Headers{Protected: cose.ProtectedHeader{cose.HeaderLabelAlgorithm: cose.AlgorithmES256}},
		Payload: deviceAuthBytes,
	}
	require.NoError(t, deviceSig.Sign(rand.Reader, nil, deviceSigner))

	doc := mdoc.Document{
		DocType: testDocType,
		IssuerSigned: mdoc.IssuerSigned{
			NameSpaces: mdoc.IssuerNameSpaces{
				testNameSpace: []mdoc.IssuerSignedItemBytes{itemBytes},
			},
			IssuerAuth: issuerAuth,
		},
		DeviceSigned: &mdoc.DeviceSigned{
			NameSpaces: mdoc.DeviceNameSpacesBytes(deviceNSWrapped),
			DeviceAuth: mdoc.DeviceAuth{DeviceSignature: deviceSig},
		},
	}

	resp := mdoc.DeviceResponse{
		Version:   "1.0",
		Documents: []mdoc.Document{doc},
		Status:    0,
	}
	encoded, err := cborcodec.Marshal(resp)
	require.NoError(t, err)

	return encoded, roots, sessionTranscriptBytes
}

func TestDiagnoseSuccess(t *testing.T) {
	encoded, roots, sessionTranscriptBytes := buildEncodedResponse(t)

	report, err := Diagnose(encoded, Options{
		Roots:                  roots,
		SessionTranscriptBytes: sessionTranscriptBytes,
	})
	require.NoError(t, err)

	assert.True(t, report.Passed())
	assert.Empty(t, report.Failures())
	assert.Equal(t, testDocType, report.DocType)
	assert.NotEmpty(t, report.ID)
	require.NotNil(t, report.DeviceKey)
	assert.Equal(t, "EC", report.DeviceKey.Kty)
	assert.Equal(t, "P-256", report.DeviceKey.Crv)
	assert.NotEmpty(t, report.DeviceKey.X)
	assert.NotEmpty(t, report.DeviceKey.Y)

	assert.Equal(t, "ES256", report.IssuerSignature.Alg)
	assert.True(t, report.IssuerSignature.IsValid)
	assert.Empty(t, report.IssuerSignature.Reasons)
	assert.Equal(t, 1, report.IssuerSignature.Digests[string(testNameSpace)])

	require.NotNil(t, report.DeviceSignature)
	assert.Equal(t, "ES256", report.DeviceSignature.Alg)
	assert.True(t, report.DeviceSignature.IsValid)

	assert.Equal(t, "1 of 1", report.DataIntegrity.DisclosedAttributes)
	assert.True(t, report.DataIntegrity.IsValid)
	require.Len(t, report.Attributes, 1)
	assert.Equal(t, string(mdoc.IsoAgeOver18), report.Attributes[0].ElementIdentifier)
	assert.True(t, report.Attributes[0].IsValid)
	assert.True(t, report.Attributes[0].MatchCertificate)

	require.NotNil(t, report.IssuerCertificate)
	assert.NotEmpty(t, report.IssuerCertificate.PEM)
	assert.NotEmpty(t, report.IssuerCertificate.SerialNumber)
	assert.NotEmpty(t, report.IssuerCertificate.Thumbprint)
}

func TestDiagnoseReportsCountryMismatchInDataIntegrity(t *testing.T) {
	chain, err := cryptoroot.Generate(cryptoroot.ChainOptions{Country: "US"})
	require.NoError(t, err)
	roots := pki.NewCertPool([]*x509.Certificate{chain.RootCert})

	itemBytes, err := mdoc.NewIssuerSignedItemBytes(1, []byte{0xaa}, mdoc.IsoIssuingCountry, "DE")
	require.NoError(t, err)
	item, err := itemBytes.IssuerSignedItem()
	require.NoError(t, err)
	digest, err := item.Digest("SHA-256")
	require.NoError(t, err)

	deviceKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	deviceCOSEKey, err := mdoc.NewCOSEKeyFromECDSA(&deviceKey.PublicKey)
	require.NoError(t, err)

	mso := mdoc.MobileSecurityObject{
		Version:         "1.0",
		DigestAlgorithm: "SHA-256",
		ValueDigests: mdoc.ValueDigests{
			testNameSpace: mdoc.DigestIDs{1: mdoc.Digest(digest)},
		},
		DeviceKeyInfo: mdoc.DeviceKeyInfo{DeviceKey: deviceCOSEKey},
		DocType:       testDocType,
		ValidityInfo: mdoc.NewValidityInfo(
			time.Now().Add(-time.Hour),
			time.Now().Add(-time.Minute),
			time.Now().Add(24*time.Hour),
		),
	}
	msoEncoded, err := cborcodec.Marshal(mso)
	require.NoError(t, err)
	msoWrapped, err := cborcodec.Tag24Wrap(msoEncoded)
	require.NoError(t, err)

	issuerSigner, err := cose.NewSigner(cose.AlgorithmES256, chain.DSKey)
	require.NoError(t, err)
	issuerAuth := cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{cose.HeaderLabelAlgorithm: cose.AlgorithmES256},
			Unprotected: cose.UnprotectedHeader{
				cose.HeaderLabelX5Chain: chain.X5Chain(),
			},
		},
		Payload: msoWrapped,
	}
	require.NoError(t, issuerAuth.Sign(rand.Reader, nil, issuerSigner))

	deviceNSEncoded, err := cborcodec.Marshal(map[mdoc.NameSpace]map[mdoc.ElementIdentifier]interface{}{})
	require.NoError(t, err)
	deviceNSWrapped, err := cborcodec.Tag24Wrap(deviceNSEncoded)
	require.NoError(t, err)

	sessionTranscriptBytes, err := cborcodec.Marshal([]interface{}{nil, nil, nil})
	require.NoError(t, err)

	deviceAuthBytes, err := transcript.DeviceAuthenticationBytes(sessionTranscriptBytes, testDocType, mdoc.DeviceNameSpacesBytes(deviceNSWrapped))
	require.NoError(t, err)

	deviceSigner, err := cose.NewSigner(cose.AlgorithmES256, deviceKey)
	require.NoError(t, err)
	deviceSig := &cose.UntaggedSign1Message{
		Headers: cose.Headers{Protected: cose.ProtectedHeader{cose.HeaderLabelAlgorithm: cose.AlgorithmES256}},
		Payload: deviceAuthBytes,
	}
	require.NoError(t, deviceSig.Sign(rand.Reader, nil, deviceSigner))

	doc := mdoc.Document{
		DocType: testDocType,
		IssuerSigned: mdoc.IssuerSigned{
			NameSpaces: mdoc.IssuerNameSpaces{
				testNameSpace: []mdoc.IssuerSignedItemBytes{itemBytes},
			},
			IssuerAuth: issuerAuth,
		},
		DeviceSigned: &mdoc.DeviceSigned{
			NameSpaces: mdoc.DeviceNameSpacesBytes(deviceNSWrapped),
			DeviceAuth: mdoc.DeviceAuth{DeviceSignature: deviceSig},
		},
	}

	resp := mdoc.DeviceResponse{Version: "1.0", Documents: []mdoc.Document{doc}, Status: 0}
	encoded, err := cborcodec.Marshal(resp)
	require.NoError(t, err)

	report, err := Diagnose(encoded, Options{
		Roots:                  roots,
		SessionTranscriptBytes: sessionTranscriptBytes,
	})
	require.NoError(t, err)

	assert.False(t, report.DataIntegrity.IsValid)
	require.NotEmpty(t, report.DataIntegrity.Reasons)
	require.Len(t, report.Attributes, 1)
	assert.False(t, report.Attributes[0].MatchCertificate)
	assert.False(t, report.Passed())
}

func TestDiagnoseSelectsSoleDocumentWithoutDocType(t *testing.T) {
	encoded, roots, sessionTranscriptBytes := buildEncodedResponse(t)

	report, err := Diagnose(encoded, Options{
		Roots:                  roots,
		SessionTranscriptBytes: sessionTranscriptBytes,
	})
	require.NoError(t, err)
	assert.Equal(t, testDocType, report.DocType)
}

func TestDiagnoseRejectsUnknownDocType(t *testing.T) {
	encoded, roots, sessionTranscriptBytes := buildEncodedResponse(t)

	_, err := Diagnose(encoded, Options{
		Roots:                  roots,
		SessionTranscriptBytes: sessionTranscriptBytes,
		DocType:                "org.iso.18013.5.1.unknown",
	})
	require.Error(t, err)
}

func TestDiagnoseRejectsMalformedCBOR(t *testing.T) {
	_, err := Diagnose([]byte{0xff, 0xff, 0xff}, Options{})
	require.Error(t, err)
}

func TestDiagnoseSurfacesFailureWithUntrustedRoot(t *testing.T) {
	encoded, _, sessionTranscriptBytes := buildEncodedResponse(t)

	other, err := cryptoroot.Generate(cryptoroot.ChainOptions{Country: "US"})
	require.NoError(t, err)
	otherRoots := pki.NewCertPool([]*x509.Certificate{other.RootCert})

	report, err := Diagnose(encoded, Options{
		Roots:                  otherRoots,
		SessionTranscriptBytes: sessionTranscriptBytes,
	})
	// A FailFast-style structural abort never happens here since Diagnose
	// always runs with a Collect sink; the untrusted root instead shows up
	// as a FAILED assessment in the report.
	require.NoError(t, err)
	assert.False(t, report.Passed())
	require.NotEmpty(t, report.Failures())
}
