package verify

import "github.com/relves/trustkit/pkg/trust"

// Status is the verdict of a verification.
type Status string

const (
	StatusValid                  Status = "valid"
	StatusExpired                Status = "expired"
	StatusRevoked                Status = "revoked"
	StatusInvalidProof           Status = "invalid_proof"
	StatusIssuerResolutionFailed Status = "issuer_resolution_failed"
	StatusUntrustedIssuer        Status = "untrusted_issuer"
	StatusSchemaValidationFailed Status = "schema_validation_failed"
	StatusDelegationInvalid      Status = "delegation_invalid"
)

// Warnings attached to valid results.
const (
	WarningNoExpiration = "no-expiration"
	WarningNoStatus     = "no-status"
	WarningAnchorStale  = "anchor-stale"
)

// Result is a verification verdict. Valid results carry Warnings and, when
// trust was checked, TrustPath and TrustScore; invalid results carry only
// Reason.
type Result struct {
	Status     Status      `json:"status"`
	Warnings   []string    `json:"warnings,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	TrustPath  *trust.Path `json:"trustPath,omitempty"`
	TrustScore float64     `json:"trustScore,omitempty"`
}

// Valid returns a valid verdict. path may be nil when trust was not checked.
func Valid(warnings []string, path *trust.Path, score float64) Result {
	r := Result{Status: StatusValid, Warnings: warnings}
	if path != nil {
		r.TrustPath = path
		r.TrustScore = score
	}
	return r
}

// Invalid returns a negative verdict.
func Invalid(status Status, reason string) Result {
	return Result{Status: status, Reason: reason}
}

// IsValid reports whether the verdict is valid.
func (r Result) IsValid() bool {
	return r.Status == StatusValid
}
