package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/relves/trustkit/pkg/resolver"
	"github.com/relves/trustkit/pkg/schema"
	"github.com/relves/trustkit/pkg/trust"
	"github.com/relves/trustkit/pkg/verify"
)

// fileConfig is the TRUSTKIT_CONFIG file: verifier defaults plus the trust
// data the service starts with.
//
//	[verifier]
//	did = "did:web:verifier.example"
//	max_path_length = 3
//
//	[[anchor]]
//	did = "did:web:accreditor.example"
//	claim_types = ["UniversityDegree"]
//
//	[[edge]]
//	from = "did:web:accreditor.example"
//	to = "did:web:university.example"
type fileConfig struct {
	Verifier        verifierConfig   `toml:"verifier"`
	Anchors         []anchorConfig   `toml:"anchor"`
	Edges           []edgeConfig     `toml:"edge"`
	DelegationRoots []string         `toml:"delegation_roots"`
	Documents       []documentConfig `toml:"document"`
	Schemas         []schemaConfig   `toml:"schema"`
}

type verifierConfig struct {
	DID                string `toml:"did"`
	MaxPathLength      int    `toml:"max_path_length"`
	ExpectedAudience   string `toml:"expected_audience"`
	RequireFreshStatus bool   `toml:"require_fresh_status"`
	SkipExpiration     bool   `toml:"skip_expiration"`
	SkipRevocation     bool   `toml:"skip_revocation"`
	SkipTrust          bool   `toml:"skip_trust"`
	SkipDelegation     bool   `toml:"skip_delegation"`
	BatchConcurrency   int    `toml:"batch_concurrency"`
}

type anchorConfig struct {
	DID         string   `toml:"did"`
	ClaimTypes  []string `toml:"claim_types"`
	Description string   `toml:"description"`
}

type edgeConfig struct {
	From       string   `toml:"from"`
	To         string   `toml:"to"`
	ClaimTypes []string `toml:"claim_types"`
}

type documentConfig struct {
	ID      string         `toml:"id"`
	Methods []methodConfig `toml:"method"`
}

type methodConfig struct {
	ID                  string `toml:"id"`
	Type                string `toml:"type"`
	Controller          string `toml:"controller"`
	PublicKeyHex        string `toml:"public_key_hex"`
	PublicKeyBase64     string `toml:"public_key_base64"`
	BlockchainAccountID string `toml:"blockchain_account_id"`
}

type schemaConfig struct {
	ClaimType string `toml:"claim_type"`
	Path      string `toml:"path"`
}

// loadFileConfig reads path. An empty path yields the zero config.
func loadFileConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// verifyConfig derives the pipeline configuration.
func (c *fileConfig) verifyConfig() verify.Config {
	v := c.Verifier
	cfg := verify.DefaultConfig()
	cfg.CheckExpiration = !v.SkipExpiration
	cfg.CheckRevocation = !v.SkipRevocation
	cfg.CheckTrust = !v.SkipTrust
	cfg.CheckDelegation = !v.SkipDelegation
	cfg.VerifierDID = v.DID
	cfg.MaxPathLength = v.MaxPathLength
	cfg.ExpectedAudience = v.ExpectedAudience
	cfg.RequireFreshStatus = v.RequireFreshStatus
	if v.BatchConcurrency > 0 {
		cfg.BatchConcurrency = v.BatchConcurrency
	}
	return cfg
}

// seedTrust adds the configured anchors and edges to reg.
func (c *fileConfig) seedTrust(reg *trust.Registry) error {
	for _, a := range c.Anchors {
		if err := reg.AddAnchor(a.DID, a.ClaimTypes, a.Description); err != nil {
			return fmt.Errorf("anchor %s: %w", a.DID, err)
		}
	}
	for _, e := range c.Edges {
		if err := reg.AddEdge(e.From, e.To, e.ClaimTypes...); err != nil {
			return fmt.Errorf("edge %s -> %s: %w", e.From, e.To, err)
		}
	}
	return nil
}

// registerDocuments registers the configured DID documents with router,
// one static resolver per DID method.
func (c *fileConfig) registerDocuments(router *resolver.Router) error {
	statics := make(map[string]*resolver.Static)
	for _, d := range c.Documents {
		method, _, err := resolver.ParseDID(d.ID)
		if err != nil {
			return err
		}
		doc := &resolver.Document{ID: d.ID}
		for _, m := range d.Methods {
			vm, err := m.verificationMethod(d.ID)
			if err != nil {
				return fmt.Errorf("document %s: %w", d.ID, err)
			}
			doc.VerificationMethods = append(doc.VerificationMethods, vm)
		}
		s, ok := statics[method]
		if !ok {
			s = resolver.NewStatic()
			statics[method] = s
			router.Register(method, s)
		}
		s.Register(doc)
	}
	return nil
}

func (m methodConfig) verificationMethod(did string) (resolver.VerificationMethod, error) {
	vm := resolver.VerificationMethod{
		ID:                  m.ID,
		Type:                m.Type,
		Controller:          m.Controller,
		BlockchainAccountID: m.BlockchainAccountID,
	}
	if strings.HasPrefix(vm.ID, "#") {
		vm.ID = did + vm.ID
	}
	var err error
	switch {
	case m.PublicKeyHex != "":
		vm.PublicKey, err = hex.DecodeString(strings.TrimPrefix(m.PublicKeyHex, "0x"))
	case m.PublicKeyBase64 != "":
		vm.PublicKey, err = base64.StdEncoding.DecodeString(m.PublicKeyBase64)
	case m.BlockchainAccountID == "":
		err = fmt.Errorf("method %s has no key material", m.ID)
	}
	if err != nil {
		return resolver.VerificationMethod{}, fmt.Errorf("method %s: %w", m.ID, err)
	}
	return vm, nil
}

// registerSchemas loads per-claim-type subject schemas.
func (c *fileConfig) registerSchemas(v *schema.Validator) error {
	for _, s := range c.Schemas {
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return fmt.Errorf("read schema for %s: %w", s.ClaimType, err)
		}
		if err := v.Register(s.ClaimType, data); err != nil {
			return fmt.Errorf("schema for %s: %w", s.ClaimType, err)
		}
	}
	return nil
}
