// pkg/types/credential.go
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Credential is a signed claim made by an issuer DID.
type Credential struct {
	Context           []string           `json:"@context,omitempty"`
	ID                string             `json:"id"`
	Type              []string           `json:"type"`
	Issuer            string             `json:"issuer"`
	IssuanceDate      time.Time          `json:"issuanceDate"`
	ExpirationDate    *time.Time         `json:"expirationDate,omitempty"`
	CredentialSubject map[string]any     `json:"credentialSubject"`
	CredentialStatus  CredentialStatuses `json:"credentialStatus,omitempty"`
	Delegation        *DelegationClaim   `json:"delegation,omitempty"`
	Proof             *Proof             `json:"proof,omitempty"`
}

// Proof is a detached signature over a credential or delegation assertion.
type Proof struct {
	Type               string    `json:"type"`
	Created            time.Time `json:"created"`
	VerificationMethod string    `json:"verificationMethod"`
	ProofPurpose       string    `json:"proofPurpose"`
	ProofValue         string    `json:"proofValue"`
	Domain             string    `json:"domain,omitempty"`
	Challenge          string    `json:"challenge,omitempty"`
}

// StatusPurpose names what a status list bit means.
type StatusPurpose string

const (
	PurposeRevocation StatusPurpose = "revocation"
	PurposeSuspension StatusPurpose = "suspension"
)

// Valid reports whether p is a known purpose.
func (p StatusPurpose) Valid() bool {
	return p == PurposeRevocation || p == PurposeSuspension
}

// CredentialStatus points a credential at a status list. ID is the status
// list identifier; the bit index is derived from the credential ID.
type CredentialStatus struct {
	ID            string        `json:"id"`
	Type          string        `json:"type,omitempty"`
	StatusPurpose StatusPurpose `json:"statusPurpose,omitempty"`
}

// CredentialStatuses accepts either a single status object or an array.
type CredentialStatuses []CredentialStatus

func (s *CredentialStatuses) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if data[0] == '[' {
		var list []CredentialStatus
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*s = list
		return nil
	}
	var one CredentialStatus
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*s = CredentialStatuses{one}
	return nil
}

// DelegationClaim is carried by credentials issued under delegated authority.
type DelegationClaim struct {
	Capability string                `json:"capability,omitempty"`
	Chain      []DelegationAssertion `json:"chain"`
}

// DelegationAssertion grants Capability from Delegator to Delegate.
type DelegationAssertion struct {
	Delegator  string `json:"delegator"`
	Delegate   string `json:"delegate"`
	Capability string `json:"capability"`
	Proof      *Proof `json:"proof,omitempty"`
}

// ClaimType returns the most specific credential type, i.e. the last type
// that is not the base VerifiableCredential type.
func (c *Credential) ClaimType() string {
	for i := len(c.Type) - 1; i >= 0; i-- {
		if c.Type[i] != BaseCredentialType && c.Type[i] != "" {
			return c.Type[i]
		}
	}
	return ""
}

// Status returns the first status entry with the given purpose, or nil.
// An entry with no purpose is treated as a revocation entry.
func (c *Credential) Status(purpose StatusPurpose) *CredentialStatus {
	for i := range c.CredentialStatus {
		p := c.CredentialStatus[i].StatusPurpose
		if p == "" {
			p = PurposeRevocation
		}
		if p == purpose {
			return &c.CredentialStatus[i]
		}
	}
	return nil
}

// SigningInput returns the bytes covered by the credential proof: the
// credential JSON with the proof removed. encoding/json emits struct fields
// in declaration order and sorts map keys, so the output is deterministic.
func (c *Credential) SigningInput() ([]byte, error) {
	unsigned := *c
	unsigned.Proof = nil
	data, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("marshal credential: %w", err)
	}
	return data, nil
}

// SigningInput returns the bytes covered by an assertion proof.
func (a *DelegationAssertion) SigningInput() ([]byte, error) {
	unsigned := *a
	unsigned.Proof = nil
	data, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("marshal assertion: %w", err)
	}
	return data, nil
}

// ParseCredential decodes a credential from JSON.
func ParseCredential(data []byte) (*Credential, error) {
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode credential: %v", ErrInvalidInput, err)
	}
	return &c, nil
}
