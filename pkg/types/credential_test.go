// pkg/types/credential_test.go
package types_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/trustkit/pkg/types"
)

func TestParseCredential_StatusForms(t *testing.T) {
	t.Run("single object", func(t *testing.T) {
		cred, err := types.ParseCredential([]byte(`{
			"id": "urn:cred:1",
			"type": ["VerifiableCredential", "Degree"],
			"issuer": "did:ex:univ",
			"issuanceDate": "2024-01-01T00:00:00Z",
			"credentialSubject": {"id": "did:ex:alice"},
			"credentialStatus": {"id": "list-1", "statusPurpose": "revocation"}
		}`))
		require.NoError(t, err)
		require.Len(t, cred.CredentialStatus, 1)
		assert.Equal(t, "list-1", cred.CredentialStatus[0].ID)
	})

	t.Run("array", func(t *testing.T) {
		cred, err := types.ParseCredential([]byte(`{
			"id": "urn:cred:1",
			"type": ["VerifiableCredential"],
			"issuer": "did:ex:univ",
			"issuanceDate": "2024-01-01T00:00:00Z",
			"credentialSubject": {},
			"credentialStatus": [
				{"id": "rev-1", "statusPurpose": "revocation"},
				{"id": "sus-1", "statusPurpose": "suspension"}
			]
		}`))
		require.NoError(t, err)
		require.Len(t, cred.CredentialStatus, 2)
		assert.Equal(t, "sus-1", cred.Status(types.PurposeSuspension).ID)
		assert.Equal(t, "rev-1", cred.Status(types.PurposeRevocation).ID)
	})

	t.Run("missing purpose means revocation", func(t *testing.T) {
		cred := &types.Credential{CredentialStatus: types.CredentialStatuses{{ID: "l"}}}
		require.NotNil(t, cred.Status(types.PurposeRevocation))
		assert.Nil(t, cred.Status(types.PurposeSuspension))
	})

	t.Run("malformed json is an input error", func(t *testing.T) {
		_, err := types.ParseCredential([]byte(`{"id": 5`))
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrInvalidInput))
	})
}

func TestCredential_ClaimType(t *testing.T) {
	tests := []struct {
		name  string
		types []string
		want  string
	}{
		{"specific last", []string{"VerifiableCredential", "Degree"}, "Degree"},
		{"only base", []string{"VerifiableCredential"}, ""},
		{"empty", nil, ""},
		{"base last", []string{"Degree", "VerifiableCredential"}, "Degree"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &types.Credential{Type: tt.types}
			assert.Equal(t, tt.want, c.ClaimType())
		})
	}
}

func TestCredential_SigningInputExcludesProof(t *testing.T) {
	c := &types.Credential{
		ID:     "urn:cred:1",
		Issuer: "did:ex:univ",
		Proof:  &types.Proof{ProofValue: "abc"},
	}
	withProof, err := c.SigningInput()
	require.NoError(t, err)

	c.Proof = &types.Proof{ProofValue: "different"}
	other, err := c.SigningInput()
	require.NoError(t, err)

	assert.Equal(t, withProof, other)
	assert.NotContains(t, string(withProof), "proofValue")
	assert.NotNil(t, c.Proof, "signing input must not strip the caller's proof")
}

func TestIssueCapability(t *testing.T) {
	assert.Equal(t, "issue:Degree", types.IssueCapability("Degree"))
	assert.Equal(t, "issue", types.IssueCapability(""))
	assert.Equal(t, "Degree", types.ClaimTypeFromCapability("issue:Degree"))
	assert.Equal(t, "", types.ClaimTypeFromCapability("revoke:Degree"))
}
