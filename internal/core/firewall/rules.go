// Package firewall plans the host firewall rules the stack needs.
// This is part of the Functional Core - all functions are pure with no I/O.
package firewall

import "fmt"

// Rule opens one port.
type Rule struct {
	Port     int
	Protocol string
	Comment  string
}

// Spec formats the rule as "port/proto".
func (r Rule) Spec() string {
	return fmt.Sprintf("%d/%s", r.Port, r.Protocol)
}

// Plan returns the inbound rules for the stack, SSH first so applying the
// plan can never lock the operator out.
func Plan(wireGuardPort int) []Rule {
	return []Rule{
		{Port: 22, Protocol: "tcp", Comment: "ssh"},
		{Port: 80, Protocol: "tcp", Comment: "http (acme, redirect)"},
		{Port: 443, Protocol: "tcp", Comment: "https"},
		{Port: wireGuardPort, Protocol: "udp", Comment: "wireguard"},
	}
}

// UFWArgs returns the ufw arguments that apply rule.
func UFWArgs(rule Rule) []string {
	args := []string{"allow", rule.Spec()}
	if rule.Comment != "" {
		args = append(args, "comment", "tunnelgate: "+rule.Comment)
	}
	return args
}
