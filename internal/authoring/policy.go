package authoring

import (
	"fmt"
	"strings"

	"github.com/juju/collections/set"

	"github.com/temirov/carbon/internal/change"
)

// PolicyKind selects how origin authors map to destination authors.
type PolicyKind string

// Supported policy kinds.
const (
	PolicyPassThrough PolicyKind = "PASS_THROUGH"
	PolicyOverwrite   PolicyKind = "OVERWRITE"
	PolicyWhitelist   PolicyKind = "WHITELIST"
)

const (
	unknownPolicyTemplateConstant        = "unknown authoring policy %q (expected pass_through, overwrite, or whitelist)"
	policyRequiresDefaultTemplate        = "authoring policy %s requires a default identity"
	policyAllowlistIgnoredTemplate       = "authoring policy %s ignores the configured allowlist"
	policyKindAliasPassthroughConstant   = "PASSTHROUGH"
	policyKindAliasAllowlistConstant     = "ALLOWLIST"
	policyKindWordSeparatorConstant      = "-"
	policyKindCanonicalSeparatorConstant = "_"
)

// ParsePolicyKind parses a policy name case-insensitively. "allowlist" is accepted for WHITELIST.
func ParsePolicyKind(rawKind string) (PolicyKind, error) {
	normalized := strings.ToUpper(strings.TrimSpace(rawKind))
	normalized = strings.ReplaceAll(normalized, policyKindWordSeparatorConstant, policyKindCanonicalSeparatorConstant)
	switch normalized {
	case "", string(PolicyPassThrough), policyKindAliasPassthroughConstant:
		return PolicyPassThrough, nil
	case string(PolicyOverwrite):
		return PolicyOverwrite, nil
	case string(PolicyWhitelist), policyKindAliasAllowlistConstant:
		return PolicyWhitelist, nil
	default:
		return "", fmt.Errorf(unknownPolicyTemplateConstant, rawKind)
	}
}

// Policy maps origin identities to destination identities. It is immutable and side-effect free.
type Policy struct {
	kind          PolicyKind
	defaultAuthor change.Author
	allowed       set.Strings
}

// NewPolicy constructs a policy. Allowlist entries may be bare emails or "Name <email>" identities.
func NewPolicy(kind PolicyKind, defaultAuthor change.Author, allowlist []string) Policy {
	allowed := set.NewStrings()
	for _, entry := range allowlist {
		normalizedEntry := normalizeIdentity(entry)
		if len(normalizedEntry) > 0 {
			allowed.Add(normalizedEntry)
		}
	}
	return Policy{kind: kind, defaultAuthor: defaultAuthor, allowed: allowed}
}

// Kind returns the policy kind.
func (policy Policy) Kind() PolicyKind {
	return policy.kind
}

// DefaultAuthor returns the configured default identity.
func (policy Policy) DefaultAuthor() change.Author {
	return policy.defaultAuthor
}

// Allowlist returns the normalized allow-set entries in sorted order.
func (policy Policy) Allowlist() []string {
	if policy.allowed == nil {
		return nil
	}
	return policy.allowed.SortedValues()
}

// Validate returns human-readable problems with the policy; an empty slice means consistent.
func (policy Policy) Validate() []string {
	var problems []string
	switch policy.kind {
	case PolicyPassThrough:
		if policy.allowed != nil && !policy.allowed.IsEmpty() {
			problems = append(problems, fmt.Sprintf(policyAllowlistIgnoredTemplate, policy.kind))
		}
	case PolicyOverwrite:
		if policy.defaultAuthor.IsZero() {
			problems = append(problems, fmt.Sprintf(policyRequiresDefaultTemplate, policy.kind))
		}
		if policy.allowed != nil && !policy.allowed.IsEmpty() {
			problems = append(problems, fmt.Sprintf(policyAllowlistIgnoredTemplate, policy.kind))
		}
	case PolicyWhitelist:
		if policy.defaultAuthor.IsZero() {
			problems = append(problems, fmt.Sprintf(policyRequiresDefaultTemplate, policy.kind))
		}
	default:
		problems = append(problems, fmt.Sprintf(unknownPolicyTemplateConstant, policy.kind))
	}
	return problems
}

// Resolve maps an origin author to the destination author.
func (policy Policy) Resolve(originAuthor change.Author) change.Author {
	switch policy.kind {
	case PolicyOverwrite:
		return policy.defaultAuthor
	case PolicyWhitelist:
		if policy.isAllowed(originAuthor) {
			return originAuthor
		}
		return policy.defaultAuthor
	default:
		return originAuthor
	}
}

func (policy Policy) isAllowed(author change.Author) bool {
	if policy.allowed == nil || author.IsZero() {
		return false
	}
	return policy.allowed.Contains(normalizeIdentity(author.Email)) || policy.allowed.Contains(normalizeIdentity(author.String()))
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
