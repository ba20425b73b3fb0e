package server_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/trustkit/internal/storage/dsstore"
	"github.com/relves/trustkit/pkg/anchor"
	"github.com/relves/trustkit/pkg/delegation"
	"github.com/relves/trustkit/pkg/proof"
	"github.com/relves/trustkit/pkg/resolver"
	"github.com/relves/trustkit/pkg/revocation"
	"github.com/relves/trustkit/pkg/server"
	"github.com/relves/trustkit/pkg/statuslist"
	"github.com/relves/trustkit/pkg/tlog"
	"github.com/relves/trustkit/pkg/trust"
	"github.com/relves/trustkit/pkg/types"
	"github.com/relves/trustkit/pkg/verify"
)

func TestNewServerRequiresParameters(t *testing.T) {
	_, err := server.NewServer()
	require.Error(t, err)
	require.Contains(t, err.Error(), "revocation registry is required")
}

type testServer struct {
	url    string
	res    *resolver.Static
	trust  *trust.Registry
	issuer proof.Ed25519Signer
}

func newTestServer(t *testing.T, opts ...server.Option) *testServer {
	t.Helper()
	ctx := context.Background()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())

	ledger, err := tlog.NewLedger(ctx, tlog.Config{Datastore: ds})
	require.NoError(t, err)
	m, err := statuslist.NewManager(statuslist.Config{Store: dsstore.New(ds)})
	require.NoError(t, err)
	reg, err := revocation.New(revocation.Config{
		Manager:  m,
		Strategy: anchor.Lazy{},
		Anchorer: ledger,
		Archive:  anchor.NewArchive(ds),
	})
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	res := resolver.NewStatic(&resolver.Document{
		ID:                  "did:ex:univ",
		VerificationMethods: []resolver.VerificationMethod{{ID: "did:ex:univ#key-1", Type: resolver.TypeEd25519, PublicKey: pub}},
	})

	tr := trust.NewRegistry()
	dv, err := delegation.NewVerifier(delegation.Config{Resolver: res})
	require.NoError(t, err)
	p, err := verify.New(res,
		verify.WithStatusChecker(reg),
		verify.WithTrust(tr),
		verify.WithDelegation(dv),
	)
	require.NoError(t, err)

	opts = append([]server.Option{
		server.WithRevocation(reg),
		server.WithPipeline(p),
		server.WithTrust(tr),
	}, opts...)
	h, err := server.NewServer(opts...)
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{
		url:    srv.URL,
		res:    res,
		trust:  tr,
		issuer: proof.Ed25519Signer{Key: priv, Method: "did:ex:univ#key-1"},
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.url+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) credential(t *testing.T, id, listID string) []byte {
	t.Helper()
	cred := &types.Credential{
		ID:                id,
		Type:              []string{types.BaseCredentialType, "Degree"},
		Issuer:            "did:ex:univ",
		IssuanceDate:      time.Now().Add(-time.Hour).UTC().Truncate(time.Second),
		CredentialSubject: map[string]any{"id": "did:ex:alice"},
		CredentialStatus:  types.CredentialStatuses{{ID: listID, StatusPurpose: types.PurposeRevocation}},
	}
	require.NoError(t, proof.SignCredential(s.issuer, cred, proof.Options{}))
	raw, err := json.Marshal(cred)
	require.NoError(t, err)
	return raw
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	var resp map[string]string
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil, &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestStatusListLifecycle(t *testing.T) {
	s := newTestServer(t)

	var created server.StatusListResponse
	code := s.do(t, http.MethodPost, "/status-lists", server.CreateStatusListRequest{
		Issuer: "did:ex:univ", Purpose: types.PurposeRevocation, Size: 1024, ID: "rev",
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "rev", created.ID)
	assert.Equal(t, uint64(1024), created.Size)

	var errResp server.ErrorResponse
	code = s.do(t, http.MethodPost, "/status-lists", server.CreateStatusListRequest{
		Issuer: "did:ex:univ", Purpose: types.PurposeRevocation, Size: 1024, ID: "rev",
	}, &errResp)
	assert.Equal(t, http.StatusConflict, code, "duplicate id")

	var mut server.MutationResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/status-lists/rev/revoke", server.MutationRequest{CredentialID: "cred-1"}, &mut))
	assert.True(t, mut.Changed)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/status-lists/rev/revoke", server.MutationRequest{CredentialID: "cred-1"}, &mut))
	assert.False(t, mut.Changed)

	code = s.do(t, http.MethodPost, "/status-lists/rev/reinstate", server.MutationRequest{CredentialID: "cred-1"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code, "revocation lists cannot be reinstated")

	var got server.StatusListResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/status-lists/rev", nil, &got))
	assert.Equal(t, uint64(1), got.SetCount)
	assert.NotEmpty(t, got.EncodedList)
	require.NotNil(t, got.Pending)
	assert.True(t, got.Pending.Dirty)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/status-lists/missing", nil, &errResp))

	var anchored server.AnchorResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/status-lists/rev/anchor", nil, &anchored))
	assert.Equal(t, uint64(1), anchored.Version)
	assert.Equal(t, "0", anchored.Receipt.TransactionRef)

	var check server.AnchorCheckResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/status-lists/rev/anchor", nil, &check))
	assert.True(t, check.Verified)
	assert.True(t, check.Archived)
	assert.Equal(t, anchored.Digest, check.Digest)

	var snap anchor.Snapshot
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/snapshots/"+anchored.Digest, nil, &snap))
	assert.Equal(t, "rev", snap.ID)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/snapshots/not-a-cid", nil, &errResp))
}

func TestVerifyEndpoint(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.trust.AddAnchor("did:ex:univ", nil, ""))

	var created server.StatusListResponse
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/status-lists", server.CreateStatusListRequest{
		Issuer: "did:ex:univ", Purpose: types.PurposeRevocation, Size: 1024, ID: "rev",
	}, &created))

	good := s.credential(t, "cred-good", "rev")
	bad := s.credential(t, "cred-bad", "rev")
	var mut server.MutationResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/status-lists/rev/revoke", server.MutationRequest{CredentialID: "cred-bad"}, &mut))

	var r verify.Result
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/verify", good, &r))
	assert.Equal(t, verify.StatusValid, r.Status, r.Reason)
	assert.Equal(t, []string{verify.WarningNoExpiration}, r.Warnings)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/verify", bad, &r))
	assert.Equal(t, verify.StatusRevoked, r.Status)

	batch := []byte("[" + string(good) + "," + string(bad) + "]")
	var results []verify.Result
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/verify", batch, &results))
	require.Len(t, results, 2)
	assert.Equal(t, verify.StatusValid, results[0].Status)
	assert.Equal(t, verify.StatusRevoked, results[1].Status)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/verify", []byte(`{"id":1}`), &r))
	assert.Equal(t, verify.StatusSchemaValidationFailed, r.Status)
}

func TestTrustEndpoints(t *testing.T) {
	s := newTestServer(t)

	var a trust.Anchor
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/trust/anchors", server.AddAnchorRequest{
		DID: "did:ex:root", AllowedClaimTypes: []string{"Degree"}, Description: "accreditor",
	}, &a))
	assert.Equal(t, "did:ex:root", a.DID)

	var e trust.Edge
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/trust/edges", server.AddEdgeRequest{From: "did:ex:root", To: "did:ex:univ"}, &e))

	var anchors []trust.Anchor
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/trust/anchors", nil, &anchors))
	require.Len(t, anchors, 1)

	var p server.PathResponse
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/trust/path?to=did:ex:univ&claimType=Degree", nil, &p))
	assert.True(t, p.Found)
	assert.Equal(t, []string{"did:ex:root", "did:ex:univ"}, p.DIDs)
	assert.InDelta(t, 0.5, p.Score, 1e-9)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/trust/path?from=did:ex:root&to=did:ex:univ&maxHops=0", nil, &p))
	assert.False(t, p.Found)

	var errResp server.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/trust/path?to=did:ex:univ&maxHops=x", nil, &errResp))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/trust/path", nil, &errResp))

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/trust/anchors/did:ex:root", nil, nil))
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/trust/anchors/did:ex:root", nil, nil), "removal is idempotent")
	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/trust/anchors/did:ex:nobody", nil, nil))

	var remaining []trust.Anchor
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/trust/anchors", nil, &remaining))
	for _, a := range remaining {
		assert.NotEqual(t, "did:ex:root", a.DID)
	}
}

func TestRequestValidator(t *testing.T) {
	var actions []string
	s := newTestServer(t, server.WithValidator(server.ValidatorFunc(func(_ context.Context, r *http.Request, action string) error {
		actions = append(actions, action)
		if r.Header.Get("X-Api-Key") == "" {
			return server.NewValidationError("MISSING_API_KEY", "api key required")
		}
		return nil
	})))

	var errResp server.ErrorResponse
	code := s.do(t, http.MethodPost, "/status-lists", server.CreateStatusListRequest{Issuer: "did:ex:univ", Purpose: types.PurposeRevocation}, &errResp)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "MISSING_API_KEY", errResp.Code)
	assert.Equal(t, []string{server.ActionCreateStatusList}, actions)

	var resp map[string]string
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil, &resp), "reads are not validated")
	assert.Len(t, actions, 1)
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	s := newTestServer(t)
	var errResp server.ErrorResponse
	code := s.do(t, http.MethodPost, "/status-lists", []byte(`{"issuer":"did:ex:univ","purpose":"revocation","colour":"red"}`), &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
}
