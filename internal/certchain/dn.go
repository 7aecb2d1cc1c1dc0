package certchain

import (
	"crypto/x509"

	"github.com/oshikawatkm/mdl/internal/mdlerr"
)

// CountryName returns the certificate subject's countryName (RFC 5280
// id-at-countryName, OID 2.5.4.6), read from the parsed RDN sequence rather
// than the formatted subject string so a CommonName that happens to contain
// "C=" can't be mistaken for it.
func CountryName(cert *x509.Certificate) (string, error) {
	if len(cert.Subject.Country) == 0 {
		return "", mdlerr.ErrMissingCountry{}
	}
	return cert.Subject.Country[0], nil
}

// StateOrProvinceName returns the certificate subject's stateOrProvinceName
// (OID 2.5.4.8), or ok=false if the RDN is absent. Callers treat its absence
// as a WARNING rather than a hard mismatch when the disclosed
// issuing_jurisdiction is present but the certificate carries none.
func StateOrProvinceName(cert *x509.Certificate) (string, bool) {
	if len(cert.Subject.Province) == 0 {
		return "", false
	}
	return cert.Subject.Province[0], true
}
