// pkg/types/capabilities.go
package types

import "strings"

// Capability constants for delegated issuance.
const (
	CapabilityAll        = "*"
	CapabilityIssue      = "issue"
	CapabilityRevoke     = "revoke"
	CapabilitySeparator  = ":"
	BaseCredentialType   = "VerifiableCredential"
	DefaultProofPurpose  = "assertionMethod"
	DelegationProofScope = "capabilityDelegation"
)

// IssueCapability returns the capability required to issue claims of the given type.
func IssueCapability(claimType string) string {
	if claimType == "" {
		return CapabilityIssue
	}
	return CapabilityIssue + CapabilitySeparator + claimType
}

// ClaimTypeFromCapability extracts the claim type from an issue capability.
// Returns "" if the capability is not an issue capability.
func ClaimTypeFromCapability(capability string) string {
	rest, ok := strings.CutPrefix(capability, CapabilityIssue+CapabilitySeparator)
	if !ok {
		return ""
	}
	return rest
}
