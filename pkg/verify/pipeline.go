// Package verify runs credentials through the staged verification pipeline:
// structure, proof, issuer resolution, expiration, revocation, trust and
// delegation. The first failing stage decides the verdict.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relves/trustkit/pkg/delegation"
	"github.com/relves/trustkit/pkg/proof"
	"github.com/relves/trustkit/pkg/resolver"
	"github.com/relves/trustkit/pkg/revocation"
	"github.com/relves/trustkit/pkg/schema"
	"github.com/relves/trustkit/pkg/trust"
	"github.com/relves/trustkit/pkg/types"
)

// ProofVerifier checks a proof and returns the method that made it.
type ProofVerifier interface {
	Verify(ctx context.Context, p *types.Proof, data []byte) (*resolver.VerificationMethod, error)
}

// StatusChecker answers revocation questions. *revocation.Registry
// implements it.
type StatusChecker interface {
	CheckStatus(ctx context.Context, cred *types.Credential) (revocation.Status, error)
	EnsureFresh(ctx context.Context, listID string) error
}

// TrustChecker answers trust questions. *trust.Registry implements it.
type TrustChecker interface {
	trust.PathFinder
	IsTrusted(issuer, claimType string) bool
	Score(p trust.Path) float64
}

// DelegationChecker verifies delegation chains. *delegation.Verifier
// implements it.
type DelegationChecker interface {
	Verify(ctx context.Context, chain []types.DelegationAssertion, capability string) error
}

// SchemaValidator checks credential structure. *schema.Validator
// implements it.
type SchemaValidator interface {
	Validate(raw []byte) error
	ValidateSubject(c *types.Credential) error
}

var (
	_ StatusChecker     = (*revocation.Registry)(nil)
	_ TrustChecker      = (*trust.Registry)(nil)
	_ DelegationChecker = (*delegation.Verifier)(nil)
	_ SchemaValidator   = (*schema.Validator)(nil)
	_ ProofVerifier     = (*proof.Verifier)(nil)
)

// Config selects the optional stages and their parameters.
type Config struct {
	CheckExpiration bool
	CheckRevocation bool
	CheckTrust      bool
	// CheckDelegation applies only to credentials carrying a delegation.
	CheckDelegation bool
	// ExpectedAudience, when set, must equal the proof domain.
	ExpectedAudience string
	// RequireFreshStatus asks the status checker to anchor pending changes
	// before the revocation check if its strategy calls for it.
	RequireFreshStatus bool
	// VerifierDID, when set, is the start of trust path searches; otherwise
	// paths are searched from the trust anchors.
	VerifierDID string
	// MaxPathLength bounds trust paths. Zero or negative means unbounded.
	MaxPathLength int
	// Policy, when set, must also hold for the issuer.
	Policy trust.Policy
	// BatchConcurrency bounds VerifyBatch parallelism.
	BatchConcurrency int
}

// DefaultConfig enables every stage.
func DefaultConfig() Config {
	return Config{
		CheckExpiration:  true,
		CheckRevocation:  true,
		CheckTrust:       true,
		CheckDelegation:  true,
		BatchConcurrency: 8,
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithConfig(cfg Config) Option              { return func(p *Pipeline) { p.cfg = cfg } }
func WithProofVerifier(v ProofVerifier) Option  { return func(p *Pipeline) { p.proofs = v } }
func WithStatusChecker(s StatusChecker) Option  { return func(p *Pipeline) { p.status = s } }
func WithTrust(t TrustChecker) Option           { return func(p *Pipeline) { p.trust = t } }
func WithDelegation(d DelegationChecker) Option { return func(p *Pipeline) { p.delegation = d } }
func WithSchema(s SchemaValidator) Option       { return func(p *Pipeline) { p.schema = s } }
func WithLogger(l *slog.Logger) Option          { return func(p *Pipeline) { p.logger = l } }
func WithClock(now func() time.Time) Option     { return func(p *Pipeline) { p.now = now } }

// Pipeline verifies credentials. It holds no per-call state and is safe for
// concurrent use.
type Pipeline struct {
	cfg        Config
	resolver   resolver.Resolver
	proofs     ProofVerifier
	status     StatusChecker
	trust      TrustChecker
	delegation DelegationChecker
	schema     SchemaValidator
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a pipeline resolving issuers with res. Enabled stages must
// have their collaborator configured.
func New(res resolver.Resolver, opts ...Option) (*Pipeline, error) {
	if res == nil {
		return nil, errors.New("resolver is required")
	}
	p := &Pipeline{
		cfg:      DefaultConfig(),
		resolver: res,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.proofs == nil {
		p.proofs = proof.NewVerifier(res)
	}
	if p.schema == nil {
		v, err := schema.New()
		if err != nil {
			return nil, err
		}
		p.schema = v
	}
	if err := p.checkConfig(p.cfg); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) checkConfig(cfg Config) error {
	switch {
	case cfg.CheckRevocation && p.status == nil:
		return errors.New("revocation checking needs a status checker")
	case cfg.CheckTrust && p.trust == nil:
		return errors.New("trust checking needs a trust registry")
	case cfg.CheckDelegation && p.delegation == nil:
		return errors.New("delegation checking needs a delegation verifier")
	}
	return nil
}

// Config returns the pipeline's default configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Verify verifies raw credential JSON with the pipeline configuration.
func (p *Pipeline) Verify(ctx context.Context, raw []byte) (Result, error) {
	return p.verify(ctx, raw, p.cfg)
}

// VerifyWithConfig verifies raw credential JSON with cfg.
func (p *Pipeline) VerifyWithConfig(ctx context.Context, raw []byte, cfg Config) (Result, error) {
	if err := p.checkConfig(cfg); err != nil {
		return Result{}, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	return p.verify(ctx, raw, cfg)
}

// VerifyCredential verifies an already decoded credential.
func (p *Pipeline) VerifyCredential(ctx context.Context, cred *types.Credential) (Result, error) {
	raw, err := json.Marshal(cred)
	if err != nil {
		return Result{}, fmt.Errorf("encode credential: %w", err)
	}
	return p.verify(ctx, raw, p.cfg)
}

// VerifyBatch verifies independent credentials in parallel. Results keep
// the input order. An operational error aborts the batch.
func (p *Pipeline) VerifyBatch(ctx context.Context, raws [][]byte) ([]Result, error) {
	results := make([]Result, len(raws))
	g, ctx := errgroup.WithContext(ctx)
	limit := p.cfg.BatchConcurrency
	if limit <= 0 {
		limit = 8
	}
	g.SetLimit(limit)
	for i, raw := range raws {
		g.Go(func() error {
			r, err := p.verify(ctx, raw, p.cfg)
			if err != nil {
				return fmt.Errorf("credential %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// verification carries state between stages of one call.
type verification struct {
	cfg      Config
	cred     *types.Credential
	method   *resolver.VerificationMethod
	warnings []string
	path     *trust.Path
	score    float64
}

// stage returns a non-nil Result to stop the pipeline with that verdict.
type stage func(ctx context.Context, v *verification) (*Result, error)

func (p *Pipeline) verify(ctx context.Context, raw []byte, cfg Config) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	v := &verification{cfg: cfg}

	if r := p.parseAndValidate(raw, v); r != nil {
		p.logVerdict(v, *r)
		return *r, nil
	}

	stages := []stage{p.verifyProof, p.resolveIssuer}
	if cfg.CheckExpiration {
		stages = append(stages, p.checkExpiration)
	}
	if cfg.CheckRevocation {
		stages = append(stages, p.checkRevocation)
	}
	if cfg.CheckTrust {
		stages = append(stages, p.checkTrust)
	}
	if cfg.CheckDelegation && v.delegated() {
		stages = append(stages, p.checkDelegation)
	}

	for _, s := range stages {
		r, err := s(ctx, v)
		if err != nil {
			return Result{}, err
		}
		if r != nil {
			p.logVerdict(v, *r)
			return *r, nil
		}
	}
	r := Valid(v.warnings, v.path, v.score)
	p.logVerdict(v, r)
	return r, nil
}

func (p *Pipeline) logVerdict(v *verification, r Result) {
	id := ""
	if v.cred != nil {
		id = v.cred.ID
	}
	p.logger.Debug("credential verified", "credentialID", id, "status", r.Status, "reason", r.Reason)
}

func invalid(status Status, format string, args ...any) *Result {
	r := Invalid(status, fmt.Sprintf(format, args...))
	return &r
}

func (v *verification) delegated() bool {
	return v.cred.Delegation != nil && len(v.cred.Delegation.Chain) > 0
}

func (p *Pipeline) parseAndValidate(raw []byte, v *verification) *Result {
	if err := p.schema.Validate(raw); err != nil {
		return invalid(StatusSchemaValidationFailed, "%v", err)
	}
	cred, err := types.ParseCredential(raw)
	if err != nil {
		return invalid(StatusSchemaValidationFailed, "%v", err)
	}
	if err := p.schema.ValidateSubject(cred); err != nil {
		return invalid(StatusSchemaValidationFailed, "%v", err)
	}
	v.cred = cred
	return nil
}

func (p *Pipeline) verifyProof(ctx context.Context, v *verification) (*Result, error) {
	data, err := v.cred.SigningInput()
	if err != nil {
		return nil, err
	}
	vm, err := p.proofs.Verify(ctx, v.cred.Proof, data)
	switch {
	case err == nil:
	case errors.Is(err, proof.ErrInvalidProof):
		return invalid(StatusInvalidProof, "%v", err), nil
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrInvalidInput):
		return invalid(StatusIssuerResolutionFailed, "%v", err), nil
	default:
		return nil, fmt.Errorf("verify proof: %w", err)
	}
	if aud := v.cfg.ExpectedAudience; aud != "" && v.cred.Proof.Domain != aud {
		return invalid(StatusInvalidProof, "proof domain %q does not match audience %q", v.cred.Proof.Domain, aud), nil
	}
	v.method = vm
	return nil, nil
}

func (p *Pipeline) resolveIssuer(ctx context.Context, v *verification) (*Result, error) {
	_, err := p.resolver.Resolve(ctx, v.cred.Issuer)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrInvalidInput):
		return invalid(StatusIssuerResolutionFailed, "%v", err), nil
	default:
		return nil, fmt.Errorf("resolve issuer: %w", err)
	}

	controller := v.method.Controller
	if controller == v.cred.Issuer {
		return nil, nil
	}
	if v.delegated() {
		chain := v.cred.Delegation.Chain
		if controller == chain[len(chain)-1].Delegate {
			return nil, nil
		}
	}
	return invalid(StatusInvalidProof, "proof made by %s, not issuer %s", controller, v.cred.Issuer), nil
}

func (p *Pipeline) checkExpiration(_ context.Context, v *verification) (*Result, error) {
	now := p.now()
	if now.Before(v.cred.IssuanceDate) {
		return invalid(StatusExpired, "not valid before %s", v.cred.IssuanceDate.Format(time.RFC3339)), nil
	}
	if v.cred.ExpirationDate == nil {
		v.warnings = append(v.warnings, WarningNoExpiration)
		return nil, nil
	}
	if !now.Before(*v.cred.ExpirationDate) {
		return invalid(StatusExpired, "expired at %s", v.cred.ExpirationDate.Format(time.RFC3339)), nil
	}
	return nil, nil
}

func (p *Pipeline) checkRevocation(ctx context.Context, v *verification) (*Result, error) {
	if len(v.cred.CredentialStatus) == 0 {
		v.warnings = append(v.warnings, WarningNoStatus)
		return nil, nil
	}
	if v.cfg.RequireFreshStatus {
		for _, entry := range v.cred.CredentialStatus {
			if err := p.status.EnsureFresh(ctx, entry.ID); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				p.logger.Warn("status list anchor is stale", "listID", entry.ID, "error", err)
				v.warnings = append(v.warnings, WarningAnchorStale)
				break
			}
		}
	}

	st, err := p.status.CheckStatus(ctx, v.cred)
	if err != nil {
		return nil, fmt.Errorf("check status: %w", err)
	}
	switch {
	case st.Revoked:
		return invalid(StatusRevoked, revocation.ReasonRevoked), nil
	case st.Suspended:
		return invalid(StatusRevoked, revocation.ReasonSuspended), nil
	}
	return nil, nil
}

func (p *Pipeline) checkTrust(_ context.Context, v *verification) (*Result, error) {
	claimType := v.cred.ClaimType()
	subject := v.cred.Issuer
	// A delegated credential borrows the trust of its chain root, but only
	// when the chain itself is verified.
	if v.cfg.CheckDelegation && v.delegated() {
		subject = v.cred.Delegation.Chain[0].Delegator
	}

	opts := []trust.PathOption{trust.WithClaimType(claimType)}
	if v.cfg.MaxPathLength > 0 {
		opts = append(opts, trust.WithMaxHops(v.cfg.MaxPathLength))
	}

	var path trust.Path
	switch {
	case v.cfg.VerifierDID != "":
		path = p.trust.FindPath(v.cfg.VerifierDID, subject, opts...)
	case p.trust.IsTrusted(subject, claimType):
		path = trust.Path{Found: true, DIDs: []string{subject}}
	default:
		path = p.trust.FindPathFromAnchors(subject, opts...)
	}
	if !path.Found {
		return invalid(StatusUntrustedIssuer, "no trust path to %s for %q", subject, claimType), nil
	}

	if v.cfg.Policy != nil {
		pctx := trust.Context{Issuer: subject, ClaimType: claimType, VerifierDID: v.cfg.VerifierDID, Paths: p.trust}
		if !v.cfg.Policy.Evaluate(pctx) {
			return invalid(StatusUntrustedIssuer, "policy %s rejects %s", v.cfg.Policy, subject), nil
		}
	}

	v.path = &path
	v.score = p.trust.Score(path)
	return nil, nil
}

func (p *Pipeline) checkDelegation(ctx context.Context, v *verification) (*Result, error) {
	claim := v.cred.Delegation
	last := claim.Chain[len(claim.Chain)-1]
	if last.Delegate != v.cred.Issuer {
		return invalid(StatusDelegationInvalid, "chain ends at %s, not issuer %s", last.Delegate, v.cred.Issuer), nil
	}

	capability, err := delegation.RequiredCapability(claim, v.cred.ClaimType())
	if err == nil {
		err = p.delegation.Verify(ctx, claim.Chain, capability)
	}
	if err == nil {
		return nil, nil
	}
	if de, ok := delegation.AsDelegationError(err); ok {
		return invalid(StatusDelegationInvalid, "%s", de.Error()), nil
	}
	return nil, fmt.Errorf("verify delegation: %w", err)
}
