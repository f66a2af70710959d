// Package resolver implements the iterative recursive resolution loop:
// starting from a root hint, it follows referrals until it has an
// answer, an authoritative NXDOMAIN, or can make no further progress.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/dnsscience/rdnsd/internal/dedupe"
	"github.com/dnsscience/rdnsd/internal/ratelimit"
	"github.com/dnsscience/rdnsd/internal/stub"
	"github.com/dnsscience/rdnsd/internal/wire"
)

// RootHint is a.root-servers.net's well-known A record, the seed address
// every resolution starts from.
var RootHint = net.ParseIP("198.41.0.4")

// ErrMaxIterations indicates the referral-following loop exhausted its
// iteration budget without producing an answer or NXDOMAIN.
var ErrMaxIterations = errors.New("resolver: exceeded maximum iteration count")

// Default bounds, per spec.md §4.5's suggested values.
const (
	DefaultMaxIterations = 16
	DefaultMaxDepth      = 8
)

// Querier is the subset of stub.Querier the resolver depends on, so
// tests can substitute a fake without a real socket.
type Querier interface {
	Lookup(ctx context.Context, name string, qtype wire.QueryType, server net.IP) (*wire.Message, error)
}

var _ Querier = (*stub.Querier)(nil)

// Resolver drives the iterative lookup loop described in spec.md §4.5.
type Resolver struct {
	querier       Querier
	roots         []net.IP
	maxIterations int
	maxDepth      int
	dedupe        *dedupe.Group
	limiter       *ratelimit.Limiter
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRootHints overrides the default single root hint with a
// configurable list; the first is used, giving operators somewhere to
// plug in additional root servers without changing code.
func WithRootHints(hints []net.IP) Option {
	return func(r *Resolver) {
		if len(hints) > 0 {
			r.roots = hints
		}
	}
}

// WithBounds overrides the iteration and sub-resolution depth caps.
func WithBounds(maxIterations, maxDepth int) Option {
	return func(r *Resolver) {
		if maxIterations > 0 {
			r.maxIterations = maxIterations
		}
		if maxDepth > 0 {
			r.maxDepth = maxDepth
		}
	}
}

// WithDedupe collapses concurrent identical sub-queries within and across
// resolutions sharing this Resolver.
func WithDedupe(g *dedupe.Group) Option {
	return func(r *Resolver) { r.dedupe = g }
}

// WithRateLimit paces stub queries per upstream nameserver.
func WithRateLimit(l *ratelimit.Limiter) Option {
	return func(r *Resolver) { r.limiter = l }
}

// New returns a Resolver issuing stub queries through q.
func New(q Querier, opts ...Option) *Resolver {
	r := &Resolver{
		querier:       q,
		roots:         []net.IP{RootHint},
		maxIterations: DefaultMaxIterations,
		maxDepth:      DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup performs recursive_lookup(name, qtype): the iterative loop over
// referrals starting from a root hint.
func (r *Resolver) Lookup(ctx context.Context, name string, qtype wire.QueryType) (*wire.Message, error) {
	return r.lookup(ctx, name, qtype, 0)
}

// lookup is the bounded-depth form used both for the top-level query and
// for resolving an unglued NS host name, converting the original's
// unbounded self-recursion into an explicit depth parameter per spec.md §9.
func (r *Resolver) lookup(ctx context.Context, name string, qtype wire.QueryType, depth int) (*wire.Message, error) {
	if depth > r.maxDepth {
		return nil, fmt.Errorf("resolver: max sub-resolution depth exceeded resolving %q", name)
	}

	ns := r.roots[0]
	var last *wire.Message

	for iteration := 0; iteration < r.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return last, fmt.Errorf("resolver: %w", err)
		}

		if r.limiter != nil && !r.limiter.Allow(ns) {
			// Treat a throttled upstream as "no useful referral":
			// return whatever we had so far rather than hammering it.
			if last != nil {
				return last, nil
			}
			return nil, fmt.Errorf("resolver: upstream %s is rate limited and no prior reply exists", ns)
		}

		resp, err := r.query(ctx, name, qtype, ns)
		if err != nil {
			if last != nil {
				return last, nil
			}
			return nil, fmt.Errorf("resolver: querying %s for %s %s: %w", ns, name, qtype, err)
		}
		last = resp

		if len(resp.Answers) > 0 && resp.Header.RCode == wire.NOERROR {
			return resp, nil
		}
		if resp.Header.RCode == wire.NXDOMAIN {
			return resp, nil
		}

		if glued, ok := resp.ResolvedNS(name); ok {
			ns = glued
			continue
		}

		host, ok := resp.UnresolvedNS(name)
		if !ok {
			return resp, nil
		}

		sub, err := r.lookup(ctx, host, wire.TypeA, depth+1)
		if err != nil {
			return resp, nil
		}
		addr, ok := sub.RandomA()
		if !ok {
			return resp, nil
		}
		ns = addr
	}

	if last != nil {
		return last, nil
	}
	return nil, ErrMaxIterations
}

// query wraps a single stub lookup in the dedupe group when one is
// configured, so concurrent resolutions sharing a Resolver never send
// the same (name, qtype, server) query twice at once.
func (r *Resolver) query(ctx context.Context, name string, qtype wire.QueryType, ns net.IP) (*wire.Message, error) {
	if r.dedupe == nil {
		return r.querier.Lookup(ctx, name, qtype, ns)
	}

	val, _, err := r.dedupe.Do(name, uint16(qtype), ns.String(), func() (any, error) {
		return r.querier.Lookup(ctx, name, qtype, ns)
	})
	if err != nil {
		return nil, err
	}
	return val.(*wire.Message), nil
}
