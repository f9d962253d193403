// Package dns provides DNS resolution for the hostname preflight check.
// This is part of the Imperative Shell - handles I/O (DNS lookups).
package dns

import (
	"context"
	"net"

	"golang.org/x/sync/errgroup"

	coredns "github.com/artpar/tunnelgate/internal/core/dns"
)

// Lookuper is the subset of *net.Resolver the Resolver uses.
type Lookuper interface {
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Resolver performs DNS lookups for hostname verification.
type Resolver struct {
	resolver Lookuper
}

// NewResolver creates a new DNS resolver.
func NewResolver() *Resolver {
	return &Resolver{
		resolver: net.DefaultResolver,
	}
}

// NewResolverWith creates a Resolver backed by l.
func NewResolverWith(l Lookuper) *Resolver {
	return &Resolver{resolver: l}
}

// Resolve performs DNS lookups for the given hostname and returns a VerificationInput
// that can be passed to the pure verification function.
func (r *Resolver) Resolve(ctx context.Context, hostname string) coredns.VerificationInput {
	input := coredns.VerificationInput{
		Hostname: hostname,
	}

	// A CNAME lookup of a name without one returns the name itself.
	cname, err := r.resolver.LookupCNAME(ctx, hostname)
	if err == nil && cname != "" && cname != hostname+"." {
		input.CNAMERecords = []string{cname}
	}

	ips, err := r.resolver.LookupIPAddr(ctx, hostname)
	if err == nil {
		for _, ip := range ips {
			input.ARecords = append(input.ARecords, ip.IP)
		}
	}

	if len(input.CNAMERecords) == 0 && len(input.ARecords) == 0 {
		input.LookupError = "no DNS records found for " + hostname
	}

	return input
}

// Check resolves every hostname concurrently and verifies each against
// publicHost. Results are in the order of hostnames.
func (r *Resolver) Check(ctx context.Context, hostnames []string, publicHost string) []coredns.VerificationResult {
	results := make([]coredns.VerificationResult, len(hostnames))
	var g errgroup.Group
	for i, host := range hostnames {
		g.Go(func() error {
			results[i] = coredns.Verify(r.Resolve(ctx, host), publicHost)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
