package verifier

import "github.com/oshikawatkm/mdl/internal/mdlerr"

// Status is the outcome of a single check.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusWarning Status = "WARNING"
)

// Assessment records the outcome of one verification check. Check is a
// short, stable name ("certificate_chain", "issuer_signature", ...) a
// caller can match on without parsing Err's message.
type Assessment struct {
	Category mdlerr.Category
	Check    string
	Status   Status
	Err      error
}

func passed(category mdlerr.Category, check string) Assessment {
	return Assessment{Category: category, Check: check, Status: StatusPassed}
}

func failed(category mdlerr.Category, check string, err error) Assessment {
	return Assessment{Category: category, Check: check, Status: StatusFailed, Err: err}
}

func warned(category mdlerr.Category, check string, err error) Assessment {
	return Assessment{Category: category, Check: check, Status: StatusWarning, Err: err}
}

// Sink receives every Assessment an orchestrated Verify run produces.
// Record returns false to abort the run immediately after a failing check;
// FailFast does so on the first FAILED assessment, Collect never does.
type Sink interface {
	Record(Assessment) bool
}

// FailFast aborts verification at the first FAILED assessment and exposes it
// as a plain error, matching the short-circuit behaviour of a verifier that
// just wants a single yes/no answer.
type FailFast struct {
	err error
}

func (f *FailFast) Record(a Assessment) bool {
	if a.Status == StatusFailed {
		f.err = a.Err
		return false
	}
	return true
}

// Err returns the first recorded failure, or nil if none occurred.
func (f *FailFast) Err() error { return f.err }

// Collect records every assessment, never aborting, so a caller can produce
// a full diagnostic report instead of a single verdict.
type Collect struct {
	assessments []Assessment
}

func (c *Collect) Record(a Assessment) bool {
	c.assessments = append(c.assessments, a)
	return true
}

// Assessments returns every recorded assessment, in the order checks ran.
func (c *Collect) Assessments() []Assessment {
	return c.assessments
}
