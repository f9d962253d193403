// Package dns contains pure functions for checking that the stack's
// hostnames point at the host.
// This is part of the Functional Core - all functions are pure with no I/O.
package dns

import (
	"net"
	"strings"

	"github.com/artpar/tunnelgate/internal/core/params"
)

// =============================================================================
// Verification
// =============================================================================

// Method is how a hostname was found to point at the host.
type Method string

const (
	MethodCNAME Method = "cname"
	MethodA     Method = "a"
)

// VerificationInput contains DNS lookup results passed from the shell layer.
type VerificationInput struct {
	Hostname     string
	CNAMERecords []string
	ARecords     []net.IP
	LookupError  string
}

// VerificationResult is the pure output of verification logic.
type VerificationResult struct {
	Hostname string `json:"hostname"`
	Verified bool   `json:"verified"`
	Method   Method `json:"method,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Hostnames returns every hostname the edge proxy routes for p.
func Hostnames(p params.Params) []string {
	return []string{p.AuthHost(), p.AdminHost(), p.DashboardHost()}
}

// Verify checks whether the lookup results point at publicHost: an A/AAAA
// record equal to it when it is an IP, or a CNAME to it when it is a name.
func Verify(input VerificationInput, publicHost string) VerificationResult {
	res := VerificationResult{Hostname: input.Hostname}
	if input.LookupError != "" {
		res.Error = "DNS lookup failed: " + input.LookupError
		return res
	}

	if ip := net.ParseIP(publicHost); ip != nil {
		for _, a := range input.ARecords {
			if a.Equal(ip) {
				res.Verified, res.Method = true, MethodA
				return res
			}
		}
		res.Error = "no A record points to " + publicHost
		return res
	}

	for _, cname := range input.CNAMERecords {
		// Remove trailing dot from CNAME
		if strings.EqualFold(strings.TrimSuffix(cname, "."), publicHost) {
			res.Verified, res.Method = true, MethodCNAME
			return res
		}
	}
	res.Error = "no CNAME record points to " + publicHost
	return res
}

// =============================================================================
// DNS Instructions
// =============================================================================

// DNSInstruction represents a DNS record the user needs to create.
type DNSInstruction struct {
	Type  string `json:"type"`  // "CNAME" or "A"
	Name  string `json:"name"`  // The hostname to set
	Value string `json:"value"` // The target (public host)
}

// Instruction returns the record that makes hostname point at publicHost.
func Instruction(hostname, publicHost string) DNSInstruction {
	if ip := net.ParseIP(publicHost); ip != nil {
		typ := "A"
		if ip.To4() == nil {
			typ = "AAAA"
		}
		return DNSInstruction{Type: typ, Name: hostname, Value: publicHost}
	}
	return DNSInstruction{Type: "CNAME", Name: hostname, Value: publicHost}
}
