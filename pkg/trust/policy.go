package trust

import (
	"fmt"
	"slices"
	"strings"
)

// PathFinder is the path search a policy may consult. *Registry
// implements it.
type PathFinder interface {
	FindPath(from, to string, opts ...PathOption) Path
	FindPathFromAnchors(to string, opts ...PathOption) Path
}

var _ PathFinder = (*Registry)(nil)

// Context is the input to a policy evaluation.
type Context struct {
	Issuer      string
	ClaimType   string
	VerifierDID string
	Paths       PathFinder
}

// Policy is an immutable trust decision over a Context.
type Policy interface {
	Evaluate(ctx Context) bool
	String() string
}

type didSet map[string]struct{}

func newDIDSet(dids []string) didSet {
	s := make(didSet, len(dids))
	for _, d := range dids {
		s[d] = struct{}{}
	}
	return s
}

func (s didSet) String() string {
	dids := make([]string, 0, len(s))
	for d := range s {
		dids = append(dids, d)
	}
	slices.Sort(dids)
	return strings.Join(dids, ",")
}

type allowPolicy struct{ dids didSet }

// Allow is satisfied when the issuer is one of dids.
func Allow(dids ...string) Policy { return allowPolicy{dids: newDIDSet(dids)} }

func (p allowPolicy) Evaluate(ctx Context) bool {
	_, ok := p.dids[ctx.Issuer]
	return ok
}

func (p allowPolicy) String() string { return "allow(" + p.dids.String() + ")" }

type blockPolicy struct{ dids didSet }

// Block is satisfied when the issuer is not one of dids.
func Block(dids ...string) Policy { return blockPolicy{dids: newDIDSet(dids)} }

func (p blockPolicy) Evaluate(ctx Context) bool {
	_, ok := p.dids[ctx.Issuer]
	return !ok
}

func (p blockPolicy) String() string { return "block(" + p.dids.String() + ")" }

type pathBoundPolicy struct{ maxLength int }

// PathBound is satisfied when a trust path of at most maxLength hops leads
// from the verifier (or, without a verifier DID, from any anchor) to the
// issuer.
func PathBound(maxLength int) Policy { return pathBoundPolicy{maxLength: maxLength} }

func (p pathBoundPolicy) Evaluate(ctx Context) bool {
	if ctx.Paths == nil || p.maxLength < 0 {
		return false
	}
	opts := []PathOption{WithMaxHops(p.maxLength), WithClaimType(ctx.ClaimType)}
	var path Path
	if ctx.VerifierDID != "" {
		path = ctx.Paths.FindPath(ctx.VerifierDID, ctx.Issuer, opts...)
	} else {
		path = ctx.Paths.FindPathFromAnchors(ctx.Issuer, opts...)
	}
	return path.Found && path.Length <= p.maxLength
}

func (p pathBoundPolicy) String() string { return fmt.Sprintf("pathBound(%d)", p.maxLength) }

type andPolicy struct{ ps []Policy }

// And is satisfied when every policy is. It stops at the first failure.
// And() with no policies is always satisfied.
func And(ps ...Policy) Policy { return andPolicy{ps: slices.Clone(ps)} }

func (p andPolicy) Evaluate(ctx Context) bool {
	for _, q := range p.ps {
		if !q.Evaluate(ctx) {
			return false
		}
	}
	return true
}

func (p andPolicy) String() string { return join("and", p.ps) }

type orPolicy struct{ ps []Policy }

// Or is satisfied when any policy is. It stops at the first success.
// Or() with no policies is never satisfied.
func Or(ps ...Policy) Policy { return orPolicy{ps: slices.Clone(ps)} }

func (p orPolicy) Evaluate(ctx Context) bool {
	for _, q := range p.ps {
		if q.Evaluate(ctx) {
			return true
		}
	}
	return false
}

func (p orPolicy) String() string { return join("or", p.ps) }

type notPolicy struct{ p Policy }

// Not negates p.
func Not(p Policy) Policy { return notPolicy{p: p} }

func (p notPolicy) Evaluate(ctx Context) bool { return !p.p.Evaluate(ctx) }

func (p notPolicy) String() string { return "not(" + p.p.String() + ")" }

func join(op string, ps []Policy) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return op + "(" + strings.Join(parts, ",") + ")"
}
