package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/trustkit/pkg/schema"
	"github.com/relves/trustkit/pkg/types"
)

const validCredential = `{
  "id": "urn:uuid:1",
  "type": ["VerifiableCredential", "Degree"],
  "issuer": "did:ex:univ",
  "issuanceDate": "2024-01-01T00:00:00Z",
  "credentialSubject": {"id": "did:ex:alice", "degree": "BSc"},
  "credentialStatus": {"id": "list-1", "statusPurpose": "revocation"},
  "proof": {"type": "Ed25519Signature2020", "verificationMethod": "did:ex:univ#key-1", "proofValue": "abc"}
}`

func TestValidate(t *testing.T) {
	v, err := schema.New()
	require.NoError(t, err)

	require.NoError(t, v.Validate([]byte(validCredential)))

	tests := []struct {
		name string
		doc  string
	}{
		{"missing issuer", `{"id":"x","type":["VerifiableCredential"],"issuanceDate":"2024-01-01T00:00:00Z","credentialSubject":{},"proof":{"type":"t","verificationMethod":"m","proofValue":"v"}}`},
		{"issuer not a DID", `{"id":"x","type":["VerifiableCredential"],"issuer":"univ","issuanceDate":"2024-01-01T00:00:00Z","credentialSubject":{},"proof":{"type":"t","verificationMethod":"m","proofValue":"v"}}`},
		{"bad date", `{"id":"x","type":["VerifiableCredential"],"issuer":"did:ex:a","issuanceDate":"yesterday","credentialSubject":{},"proof":{"type":"t","verificationMethod":"m","proofValue":"v"}}`},
		{"missing base type", `{"id":"x","type":["Degree"],"issuer":"did:ex:a","issuanceDate":"2024-01-01T00:00:00Z","credentialSubject":{},"proof":{"type":"t","verificationMethod":"m","proofValue":"v"}}`},
		{"missing proof", `{"id":"x","type":["VerifiableCredential"],"issuer":"did:ex:a","issuanceDate":"2024-01-01T00:00:00Z","credentialSubject":{}}`},
		{"bad status purpose", `{"id":"x","type":["VerifiableCredential"],"issuer":"did:ex:a","issuanceDate":"2024-01-01T00:00:00Z","credentialSubject":{},"credentialStatus":{"id":"l","statusPurpose":"other"},"proof":{"type":"t","verificationMethod":"m","proofValue":"v"}}`},
		{"empty delegation chain", `{"id":"x","type":["VerifiableCredential"],"issuer":"did:ex:a","issuanceDate":"2024-01-01T00:00:00Z","credentialSubject":{},"delegation":{"chain":[]},"proof":{"type":"t","verificationMethod":"m","proofValue":"v"}}`},
		{"unsigned top-level field", `{"id":"x","type":["VerifiableCredential"],"issuer":"did:ex:a","issuanceDate":"2024-01-01T00:00:00Z","credentialSubject":{},"evidence":{"grade":"A"},"proof":{"type":"t","verificationMethod":"m","proofValue":"v"}}`},
		{"unknown status field", `{"id":"x","type":["VerifiableCredential"],"issuer":"did:ex:a","issuanceDate":"2024-01-01T00:00:00Z","credentialSubject":{},"credentialStatus":{"id":"l","statusListIndex":"7"},"proof":{"type":"t","verificationMethod":"m","proofValue":"v"}}`},
		{"unknown delegation field", `{"id":"x","type":["VerifiableCredential"],"issuer":"did:ex:a","issuanceDate":"2024-01-01T00:00:00Z","credentialSubject":{},"delegation":{"chain":[{"delegator":"a","delegate":"b","capability":"c","proof":{"type":"t","verificationMethod":"m","proofValue":"v"}}],"scope":"all"},"proof":{"type":"t","verificationMethod":"m","proofValue":"v"}}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate([]byte(tt.doc))
			assert.True(t, schema.IsInvalid(err), "got %v", err)
			assert.ErrorIs(t, err, types.ErrInvalidInput)
		})
	}
}

func TestValidateSubject(t *testing.T) {
	v, err := schema.New()
	require.NoError(t, err)

	require.NoError(t, v.Register("Degree", []byte(`{
		"type": "object",
		"required": ["degree"],
		"properties": {"degree": {"type": "string"}}
	}`)))

	cred, err := types.ParseCredential([]byte(validCredential))
	require.NoError(t, err)
	assert.NoError(t, v.ValidateSubject(cred))

	delete(cred.CredentialSubject, "degree")
	assert.True(t, schema.IsInvalid(v.ValidateSubject(cred)))

	cred.Type = []string{types.BaseCredentialType, "Membership"}
	assert.NoError(t, v.ValidateSubject(cred), "no schema registered for the type")

	assert.Error(t, v.Register("", []byte(`{}`)))
	assert.Error(t, v.Register("Broken", []byte(`{"type": 5}`)))
}
