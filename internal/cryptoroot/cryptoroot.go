// Package cryptoroot builds IACA-root / document-signer certificate chains
// for tests and demos: an ECDSA P-256 self-signed root plus a leaf signed by
// it, carrying the countryName/stateOrProvinceName RDNs a real mDL issuer
// certificate declares per ISO/IEC 18013-5 Annex B.
package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"hash"
)

// ChainOptions parameterizes a generated test chain. Every real mDL issuer
// certificate carries a Country, but an empty Country is accepted and simply
// leaves countryName out of both subjects, which is how tests build a
// certificate without one; Province is optional, mirroring ISO/IEC 18013-5's
// stateOrProvinceName being present only for issuers below national level.
type ChainOptions struct {
	Country  string
	Province string
	// CommonName overrides the default root/DS common names, mostly useful
	// when a test wants two distinguishable chains.
	CommonName string
}

// Chain is a freshly minted, in-memory IACA root plus document signer leaf.
type Chain struct {
	RootKey  *ecdsa.PrivateKey
	RootCert *x509.Certificate
	RootDER  []byte

	DSKey  *ecdsa.PrivateKey
	DSCert *x509.Certificate
	DSDER  []byte
}

// X5Chain returns the DER chain in x5chain order: leaf first, root last.
func (c *Chain) X5Chain() [][]byte {
	return [][]byte{c.DSDER, c.RootDER}
}

// Generate builds a new root and leaf pair. Each call produces independent
// key material; nothing is cached to disk, so chains are safe to generate
// concurrently across parallel tests.
func Generate(opts ChainOptions) (*Chain, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	rootCert, rootDER, err := createRootCertificate(rootKey, opts)
	if err != nil {
		return nil, err
	}

	dsKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	dsCert, dsDER, err := createDocumentSignerCertificate(dsKey, rootCert, rootKey, opts)
	if err != nil {
		return nil, err
	}

	return &Chain{
		RootKey:  rootKey,
		RootCert: rootCert,
		RootDER:  rootDER,
		DSKey:    dsKey,
		DSCert:   dsCert,
		DSDER:    dsDER,
	}, nil
}

// CalcKID computes a subject/authority key identifier from an EC public key,
// following RFC 5280 §4.2.1.2 method (1): the SHA-1 hash of the encoded
// public key bit string. hashAlgo "sha256" selects SHA-256 instead; any other
// value falls back to SHA-1.
func CalcKID(pub *ecdsa.PublicKey, hashAlgo string) []byte {
	b := elliptic.Marshal(pub.Curve, pub.X, pub.Y)

	var h hash.Hash
	switch hashAlgo {
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	default:
		h = sha1.New()
	}

	h.Write(b)
	return h.Sum(nil)
}
