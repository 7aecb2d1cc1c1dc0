package mdoc

import "fmt"

// Well-known docType and namespace identifiers for the ISO/IEC 18013-5 mDL
// and the EUDI PID profile.
const (
	IsoMDL  DocType = "org.iso.18013.5.1.mDL"
	EudiPID DocType = "eu.europa.ec.eudi.pid.1"

	IsoNameSpace  NameSpace = "org.iso.18013.5.1"
	EudiNameSpace NameSpace = "eu.europa.ec.eudi.pid.1"
)

// Element identifiers the verifier and diagnostic packages read by name:
// issuing_country/issuing_jurisdiction for the issuer geography cross-check,
// age_over_18 as the disclosure most callers care about. The rest of the
// ISO 18013-5.1 namespace is carried through mdoc's generic
// IssuerSignedItem/ElementValue shape without needing a named constant.
const (
	IsoIssuingCountry      ElementIdentifier = "issuing_country"
	IsoIssuingJurisdiction ElementIdentifier = "issuing_jurisdiction"
	IsoAgeOver18           ElementIdentifier = "age_over_18"
)

// AgeOver builds the "age_over_NN" element identifier ISO/IEC 18013-5.1
// uses for age attestation thresholds other than 18.
func AgeOver(age int) (ElementIdentifier, error) {
	if age < 0 || age > 99 {
		return "", fmt.Errorf("unsupported age_over threshold: %d", age)
	}
	return ElementIdentifier(fmt.Sprintf("age_over_%d", age)), nil
}
