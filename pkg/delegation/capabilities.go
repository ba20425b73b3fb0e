// pkg/delegation/capabilities.go
package delegation

import (
	"strings"

	"github.com/relves/trustkit/pkg/types"
)

// CapabilityAllows checks if a granted capability covers the required one.
func CapabilityAllows(granted, required string) bool {
	// Wildcard grants everything
	if granted == types.CapabilityAll {
		return true
	}

	// Exact match
	if granted == required {
		return true
	}

	// "issue:*" covers "issue:Degree"
	if prefix, ok := strings.CutSuffix(granted, types.CapabilitySeparator+types.CapabilityAll); ok {
		return strings.HasPrefix(required, prefix+types.CapabilitySeparator)
	}

	// Hierarchical: "issue" covers "issue:Degree" and "issue/Degree"
	return strings.HasPrefix(required, granted+types.CapabilitySeparator) ||
		strings.HasPrefix(required, granted+"/")
}

// RequiredCapability returns the capability a credential of the given
// claim type needs from its chain. A capability named in the delegation
// claim must cover it; it can narrow the claim but never widen it.
func RequiredCapability(claim *types.DelegationClaim, claimType string) (string, error) {
	required := types.IssueCapability(claimType)
	if claim != nil && claim.Capability != "" && !CapabilityAllows(claim.Capability, required) {
		return "", NewDelegationError(ErrCodeCapabilityExceeded, -1,
			"claimed capability %q does not cover %q", claim.Capability, required)
	}
	return required, nil
}
