// Package certchain validates an mDL issuer's X.509 certificate chain
// against a caller-supplied trust anchor pool and classifies failures into
// the ISSUER_AUTH error taxonomy.
package certchain

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/oshikawatkm/mdl/internal/mdlerr"
)

// Validate checks that chain (leaf first, root last, as carried in
// issuerAuth's x5chain) builds to one of roots at the given time. Any
// self-supplied root in chain is ignored for trust purposes: roots is the
// sole source of trust.
func Validate(chain []*x509.Certificate, roots *x509.CertPool, at time.Time) error {
	if len(chain) == 0 {
		return mdlerr.ErrMissingIssuerCertificate{}
	}
	leaf := chain[0]

	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}

	if _, err := leaf.Verify(opts); err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	var invalid x509.CertificateInvalidError
	if errors.As(err, &invalid) {
		switch invalid.Reason {
		case x509.Expired:
			return mdlerr.ErrCertificateExpired{Err: err}
		case x509.NotAuthorizedToSign, x509.IncompatibleUsage:
			return mdlerr.ErrChainIncomplete{Err: err}
		default:
			return mdlerr.ErrChainSignatureInvalid{Err: err}
		}
	}

	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return mdlerr.ErrUntrustedRoot{Err: err}
	}

	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return mdlerr.ErrChainSignatureInvalid{Err: err}
	}

	return mdlerr.ErrChainSignatureInvalid{Err: fmt.Errorf("certificate chain validation failed: %w", err)}
}
