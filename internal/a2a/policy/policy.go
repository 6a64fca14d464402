// Package policy provides capability filtering and access control for A2A
// agent invocations. It supports policy injection via HTTP headers and
// context-based access validation, per spec.md §5 (capability routing).
package policy

import (
	"context"
	"strings"
)

// contextKey is the type for context keys in this package.
type contextKey int

// Header constants for policy injection.
const (
	// AllowCapabilitiesHeader specifies capabilities to allow (comma-separated).
	AllowCapabilitiesHeader = "X-A2A-Allow-Capabilities"
	// DenyCapabilitiesHeader specifies capabilities to deny (comma-separated).
	DenyCapabilitiesHeader = "X-A2A-Deny-Capabilities"
)

const (
	policyKey contextKey = iota + 1
)

// Policy represents capability access control rules for a single request.
type Policy struct {
	// AllowList contains capabilities explicitly allowed. Empty means all allowed.
	AllowList []string
	// DenyList contains capabilities explicitly denied.
	DenyList []string
}

// ExtractPolicyFromHeaders parses policy headers and returns a Policy.
// Headers are expected to contain comma-separated capability names.
func ExtractPolicyFromHeaders(allowHeader, denyHeader string) *Policy {
	return &Policy{
		AllowList: parseCapabilityList(allowHeader),
		DenyList:  parseCapabilityList(denyHeader),
	}
}

func parseCapabilityList(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	caps := make([]string, 0, len(parts))
	for _, p := range parts {
		c := strings.TrimSpace(p)
		if c != "" {
			caps = append(caps, c)
		}
	}
	return caps
}

// InjectPolicyToContext adds the policy to the context.
func InjectPolicyToContext(ctx context.Context, p *Policy) context.Context {
	return context.WithValue(ctx, policyKey, p)
}

// PolicyFromContext retrieves the policy from context. Returns nil if no
// policy is set, in which case all capabilities are considered allowed.
func PolicyFromContext(ctx context.Context) *Policy {
	p, _ := ctx.Value(policyKey).(*Policy)
	return p
}

// FilterCapabilities applies the policy to a list of capabilities and
// returns the subset that remains allowed. If AllowList is non-empty, only
// capabilities in it survive; capabilities in DenyList are always excluded,
// deny taking precedence over allow.
func FilterCapabilities(capabilities []string, p *Policy) []string {
	if p == nil {
		return capabilities
	}

	allowSet := make(map[string]struct{}, len(p.AllowList))
	for _, c := range p.AllowList {
		allowSet[c] = struct{}{}
	}
	denySet := make(map[string]struct{}, len(p.DenyList))
	for _, c := range p.DenyList {
		denySet[c] = struct{}{}
	}

	result := make([]string, 0, len(capabilities))
	for _, capability := range capabilities {
		if _, denied := denySet[capability]; denied {
			continue
		}
		if len(allowSet) > 0 {
			if _, allowed := allowSet[capability]; !allowed {
				continue
			}
		}
		result = append(result, capability)
	}
	return result
}

// ValidateCapabilityAccess checks whether a single capability is allowed by
// the policy. A nil policy allows everything.
func ValidateCapabilityAccess(capability string, p *Policy) bool {
	if p == nil {
		return true
	}

	for _, c := range p.DenyList {
		if c == capability {
			return false
		}
	}

	if len(p.AllowList) == 0 {
		return true
	}

	for _, c := range p.AllowList {
		if c == capability {
			return true
		}
	}

	return false
}
