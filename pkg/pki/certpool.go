package pki

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadTrustAnchors reads one or more PEM files, each holding one or more
// CERTIFICATE blocks, and returns them as an *x509.CertPool. Callers that
// already hold parsed certificates should build a pool directly with
// NewCertPool instead; this exists for the common case of IACA root PEM
// files on disk. Each path must name a file; directories are not read.
func LoadTrustAnchors(paths ...string) (*x509.CertPool, error) {
	var certs []*x509.Certificate
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read trust anchor %s: %w", path, err)
		}
		for {
			var block *pem.Block
			block, data = pem.Decode(data)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate in %s: %w", path, err)
			}
			certs = append(certs, cert)
		}
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates found in %v", paths)
	}
	return NewCertPool(certs), nil
}

// NewCertPool builds an *x509.CertPool from already-parsed certificates.
func NewCertPool(certs []*x509.Certificate) *x509.CertPool {
	pool := x509.NewCertPool()
	for _, cert := range certs {
		pool.AddCert(cert)
	}
	return pool
}
