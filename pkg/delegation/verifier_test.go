package delegation_test

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/trustkit/pkg/delegation"
	"github.com/relves/trustkit/pkg/proof"
	"github.com/relves/trustkit/pkg/resolver"
	"github.com/relves/trustkit/pkg/types"
)

type party struct {
	did    string
	signer proof.Ed25519Signer
}

func newParty(t *testing.T, res *resolver.Static, did string) party {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	res.Register(&resolver.Document{
		ID:                  did,
		VerificationMethods: []resolver.VerificationMethod{{ID: did + "#key-1", Type: resolver.TypeEd25519, PublicKey: pub}},
	})
	return party{did: did, signer: proof.Ed25519Signer{Key: priv, Method: did + "#key-1"}}
}

func grant(t *testing.T, from, to party, capability string) types.DelegationAssertion {
	t.Helper()
	a, err := delegation.Sign(from.signer, from.did, to.did, capability)
	require.NoError(t, err)
	return a
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	de, ok := delegation.AsDelegationError(err)
	require.True(t, ok, "expected DelegationError, got %v", err)
	assert.Equal(t, code, de.Code)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	res := resolver.NewStatic()
	root := newParty(t, res, "did:ex:root")
	a := newParty(t, res, "did:ex:a")
	b := newParty(t, res, "did:ex:b")
	eve := newParty(t, res, "did:ex:eve")

	v, err := delegation.NewVerifier(delegation.Config{Roots: []string{root.did}, Resolver: res})
	require.NoError(t, err)

	chain := []types.DelegationAssertion{
		grant(t, root, a, "issue:Degree"),
		grant(t, a, b, "issue:Degree"),
	}

	t.Run("valid chain", func(t *testing.T) {
		assert.NoError(t, v.Verify(ctx, chain, "issue:Degree"))
	})

	t.Run("wildcard and hierarchical grants", func(t *testing.T) {
		wide := []types.DelegationAssertion{
			grant(t, root, a, "*"),
			grant(t, a, b, "issue"),
		}
		assert.NoError(t, v.Verify(ctx, wide, "issue:Degree"))
	})

	t.Run("empty chain", func(t *testing.T) {
		err := v.Verify(ctx, nil, "issue:Degree")
		requireCode(t, err, delegation.ErrCodeEmptyChain)
		assert.ErrorIs(t, err, types.ErrInvalidInput)
	})

	t.Run("unknown root", func(t *testing.T) {
		c := []types.DelegationAssertion{grant(t, eve, b, "issue:Degree")}
		requireCode(t, v.Verify(ctx, c, "issue:Degree"), delegation.ErrCodeUnknownRoot)
	})

	t.Run("broken link", func(t *testing.T) {
		c := []types.DelegationAssertion{
			grant(t, root, a, "issue:Degree"),
			grant(t, eve, b, "issue:Degree"),
		}
		requireCode(t, v.Verify(ctx, c, "issue:Degree"), delegation.ErrCodeBrokenLink)
	})

	t.Run("invalid middle proof", func(t *testing.T) {
		c := []types.DelegationAssertion{chain[0], chain[1]}
		forged := grant(t, eve, b, "issue:Degree")
		forged.Delegator = a.did
		c[1] = forged
		err := v.Verify(ctx, c, "issue:Degree")
		requireCode(t, err, delegation.ErrCodeInvalidProof)
		de, _ := delegation.AsDelegationError(err)
		assert.Equal(t, 1, de.Index)
	})

	t.Run("tampered capability", func(t *testing.T) {
		c := []types.DelegationAssertion{chain[0], chain[1]}
		c[1].Capability = "*"
		requireCode(t, v.Verify(ctx, c, "issue:Degree"), delegation.ErrCodeInvalidProof)
	})

	t.Run("capability exceeded", func(t *testing.T) {
		requireCode(t, v.Verify(ctx, chain, "issue:Diploma"), delegation.ErrCodeCapabilityExceeded)
		requireCode(t, v.Verify(ctx, chain, "revoke:Degree"), delegation.ErrCodeCapabilityExceeded)
	})

	t.Run("cycle", func(t *testing.T) {
		c := []types.DelegationAssertion{
			grant(t, root, a, "issue:Degree"),
			grant(t, a, root, "issue:Degree"),
		}
		err := v.Verify(ctx, c, "issue:Degree")
		requireCode(t, err, delegation.ErrCodeCycle)
		assert.ErrorIs(t, err, types.ErrState)
	})

	t.Run("unresolvable delegator", func(t *testing.T) {
		ghost := party{did: "did:ex:ghost", signer: proof.Ed25519Signer{Key: a.signer.Key, Method: "did:ex:ghost#key-1"}}
		require.NoError(t, v.AddRoot(ghost.did))
		defer v.RemoveRoot(ghost.did)
		c := []types.DelegationAssertion{grant(t, ghost, b, "issue:Degree")}
		requireCode(t, v.Verify(ctx, c, "issue:Degree"), delegation.ErrCodeResolutionFailed)
	})

	t.Run("rotated key", func(t *testing.T) {
		rotated := newParty(t, resolver.NewStatic(), a.did)
		res.Register(&resolver.Document{
			ID: a.did,
			VerificationMethods: []resolver.VerificationMethod{
				{ID: a.did + "#key-1", Type: resolver.TypeEd25519, PublicKey: rotated.signer.Key.Public().(ed25519.PublicKey)},
			},
		})
		requireCode(t, v.Verify(ctx, chain, "issue:Degree"), delegation.ErrCodeInvalidProof)
	})
}

func TestRoots(t *testing.T) {
	_, err := delegation.NewVerifier(delegation.Config{})
	assert.Error(t, err)

	v, err := delegation.NewVerifier(delegation.Config{Resolver: resolver.NewStatic(), Roots: []string{"did:ex:b"}})
	require.NoError(t, err)
	require.NoError(t, v.AddRoot("did:ex:a"))
	assert.ErrorIs(t, v.AddRoot(""), types.ErrInvalidInput)
	assert.Equal(t, []string{"did:ex:a", "did:ex:b"}, v.Roots())

	v.RemoveRoot("did:ex:b")
	v.RemoveRoot("did:ex:missing")
	assert.False(t, v.IsRoot("did:ex:b"))
	assert.True(t, v.IsRoot("did:ex:a"))
}

func TestCapabilityAllows(t *testing.T) {
	tests := []struct {
		granted, required string
		want              bool
	}{
		{"*", "issue:Degree", true},
		{"issue:Degree", "issue:Degree", true},
		{"issue", "issue:Degree", true},
		{"issue", "issue/Degree", true},
		{"issue:*", "issue:Degree", true},
		{"issue:*", "revoke:Degree", false},
		{"issue:Degree", "issue:Diploma", false},
		{"issue:Degree", "issue", false},
		{"iss", "issue:Degree", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, delegation.CapabilityAllows(tt.granted, tt.required), "%s covers %s", tt.granted, tt.required)
	}
}

func TestRequiredCapability(t *testing.T) {
	for _, claim := range []*types.DelegationClaim{nil, {}, {Capability: "issue"}, {Capability: "issue:*"}, {Capability: "issue:Degree"}} {
		c, err := delegation.RequiredCapability(claim, "Degree")
		require.NoError(t, err)
		assert.Equal(t, "issue:Degree", c)
	}

	for _, other := range []string{"issue:Transcript", "custom", "revoke:Degree"} {
		_, err := delegation.RequiredCapability(&types.DelegationClaim{Capability: other}, "Degree")
		de, ok := delegation.AsDelegationError(err)
		require.True(t, ok, "capability %q", other)
		assert.Equal(t, delegation.ErrCodeCapabilityExceeded, de.Code)
	}
}
