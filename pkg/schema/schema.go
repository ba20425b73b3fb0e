// Package schema validates the structure of credentials with JSON Schema.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/relves/trustkit/pkg/types"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = fmt.Errorf("%w: schema validation failed", types.ErrInvalidInput)

// CredentialSchema is the structural schema every credential must satisfy.
// Only fields covered by the signature are accepted.
const CredentialSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "type", "issuer", "issuanceDate", "credentialSubject", "proof"],
  "additionalProperties": false,
  "properties": {
    "@context": {"type": "array", "items": {"type": "string"}},
    "id": {"type": "string", "minLength": 1},
    "type": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1},
      "contains": {"const": "VerifiableCredential"}
    },
    "issuer": {"type": "string", "pattern": "^did:[a-z0-9]+:.+"},
    "issuanceDate": {"type": "string", "format": "date-time"},
    "expirationDate": {"type": "string", "format": "date-time"},
    "credentialSubject": {"type": "object"},
    "credentialStatus": {
      "oneOf": [
        {"$ref": "#/definitions/status"},
        {"type": "array", "items": {"$ref": "#/definitions/status"}}
      ]
    },
    "delegation": {
      "type": "object",
      "required": ["chain"],
      "additionalProperties": false,
      "properties": {
        "capability": {"type": "string"},
        "chain": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/assertion"}}
      }
    },
    "proof": {"$ref": "#/definitions/proof"}
  },
  "definitions": {
    "status": {
      "type": "object",
      "required": ["id"],
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "type": {"type": "string"},
        "statusPurpose": {"enum": ["revocation", "suspension"]}
      }
    },
    "assertion": {
      "type": "object",
      "required": ["delegator", "delegate", "capability", "proof"],
      "additionalProperties": false,
      "properties": {
        "delegator": {"type": "string", "minLength": 1},
        "delegate": {"type": "string", "minLength": 1},
        "capability": {"type": "string", "minLength": 1},
        "proof": {"$ref": "#/definitions/proof"}
      }
    },
    "proof": {
      "type": "object",
      "required": ["type", "verificationMethod", "proofValue"],
      "properties": {
        "type": {"type": "string", "minLength": 1},
        "verificationMethod": {"type": "string", "minLength": 1},
        "proofValue": {"type": "string", "minLength": 1}
      }
    }
  }
}`

// Validator checks credentials against the structural schema and, when
// registered, a per-claim-type schema for credentialSubject.
type Validator struct {
	base *gojsonschema.Schema

	mu      sync.RWMutex
	subject map[string]*gojsonschema.Schema
}

// New compiles the structural schema.
func New() (*Validator, error) {
	base, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(CredentialSchema))
	if err != nil {
		return nil, fmt.Errorf("compile credential schema: %w", err)
	}
	return &Validator{base: base, subject: make(map[string]*gojsonschema.Schema)}, nil
}

// Register sets the credentialSubject schema for a claim type.
func (v *Validator) Register(claimType string, schemaJSON []byte) error {
	if claimType == "" {
		return fmt.Errorf("%w: claim type is required", types.ErrInvalidInput)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("%w: compile schema for %s: %v", types.ErrInvalidInput, claimType, err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.subject[claimType] = s
	return nil
}

// Validate checks raw credential JSON against the structural schema.
func (v *Validator) Validate(raw []byte) error {
	return check(v.base, gojsonschema.NewBytesLoader(raw))
}

// ValidateSubject checks the credential subject against the schema
// registered for its claim type, if any.
func (v *Validator) ValidateSubject(c *types.Credential) error {
	v.mu.RLock()
	s, ok := v.subject[c.ClaimType()]
	v.mu.RUnlock()
	if !ok {
		return nil
	}
	return check(s, gojsonschema.NewGoLoader(c.CredentialSubject))
}

func check(s *gojsonschema.Schema, doc gojsonschema.JSONLoader) error {
	result, err := s.Validate(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

// IsInvalid reports whether err is a schema validation failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}
