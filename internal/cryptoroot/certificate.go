package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"
)

func createRootCertificate(key *ecdsa.PrivateKey, opts ChainOptions) (*x509.Certificate, []byte, error) {
	cn := opts.CommonName
	if cn == "" {
		cn = "Test IACA Root"
	}
	subject := pkix.Name{CommonName: cn + " Root"}
	if opts.Country != "" {
		subject.Country = []string{opts.Country}
	}
	if opts.Province != "" {
		subject.Province = []string{opts.Province}
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               subject,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
		SubjectKeyId:          CalcKID(&key.PublicKey, "sha1"),
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, nil, err
	}
	return cert, derBytes, nil
}

// createDocumentSignerCertificate builds the issuer's document-signer leaf,
// the certificate whose key verifies issuerAuth. It carries the same
// countryName/stateOrProvinceName RDNs as its parent: ISO/IEC 18013-5 Annex B
// requires them to match the IACA, and the verifier cross-checks them (read
// through the certchain package) against the disclosed
// issuing_country/issuing_jurisdiction elements.
func createDocumentSignerCertificate(key *ecdsa.PrivateKey, parent *x509.Certificate, parentKey *ecdsa.PrivateKey, opts ChainOptions) (*x509.Certificate, []byte, error) {
	cn := opts.CommonName
	if cn == "" {
		cn = "Test IACA Root"
	}
	subject := pkix.Name{CommonName: cn + " Document Signer"}
	if opts.Country != "" {
		subject.Country = []string{opts.Country}
	}
	if opts.Province != "" {
		subject.Province = []string{opts.Province}
	}

	template := x509.Certificate{
		SerialNumber:   big.NewInt(2),
		Subject:        subject,
		NotBefore:      time.Now().Add(-time.Hour),
		NotAfter:       time.Now().AddDate(0, 6, 0),
		KeyUsage:       x509.KeyUsageDigitalSignature,
		IsCA:           false,
		SubjectKeyId:   CalcKID(&key.PublicKey, "sha1"),
		AuthorityKeyId: CalcKID(&parentKey.PublicKey, "sha1"),
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, parent, &key.PublicKey, parentKey)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, nil, err
	}
	return cert, derBytes, nil
}
