// ABOUTME: Ordered first-match authorization policy over method and path rules
// ABOUTME: Rejects rule tables where an earlier rule makes a later one unreachable

package auth

import (
	"fmt"
	"strings"

	"github.com/2389/huerto-gateway/internal/store"
)

type requirementKind int

const (
	requirePublic requirementKind = iota
	requireAuthenticated
	requireRole
)

// Requirement is what a matching rule demands of the caller
type Requirement struct {
	kind  requirementKind
	roles []store.Role
}

// Public permits every caller, anonymous included.
func Public() Requirement { return Requirement{kind: requirePublic} }

// Authenticated permits any caller with an identity.
func Authenticated() Requirement { return Requirement{kind: requireAuthenticated} }

// RoleEquals permits callers whose role is exactly role.
func RoleEquals(role store.Role) Requirement {
	return Requirement{kind: requireRole, roles: []store.Role{role}}
}

// AnyRole permits callers holding any of roles.
func AnyRole(roles ...store.Role) Requirement {
	return Requirement{kind: requireRole, roles: append([]store.Role(nil), roles...)}
}

func (r Requirement) String() string {
	switch r.kind {
	case requirePublic:
		return "public"
	case requireAuthenticated:
		return "authenticated"
	default:
		names := make([]string, len(r.roles))
		for i, role := range r.roles {
			names[i] = string(role)
		}
		return "role(" + strings.Join(names, "|") + ")"
	}
}

// check evaluates the requirement against an identity (nil for anonymous).
func (r Requirement) check(id *Identity) error {
	switch r.kind {
	case requirePublic:
		return nil
	case requireAuthenticated:
		if id == nil {
			return ErrUnauthenticated
		}
		return nil
	default:
		if id == nil {
			return ErrUnauthenticated
		}
		for _, role := range r.roles {
			if id.Role == role {
				return nil
			}
		}
		return ErrForbidden
	}
}

// AnyMethod matches every HTTP method.
const AnyMethod = "*"

// Rule is one entry in the ordered authorization table
type Rule struct {
	Method      string // HTTP method, or "" / "*" for any
	Pattern     string
	Requirement Requirement
}

func (r Rule) String() string {
	m := r.Method
	if m == "" {
		m = AnyMethod
	}
	return fmt.Sprintf("%s %s -> %s", m, r.Pattern, r.Requirement)
}

// PublicRules turns allowlist patterns into leading Public rules for any method.
func PublicRules(patterns []string) []Rule {
	rules := make([]Rule, len(patterns))
	for i, p := range patterns {
		rules[i] = Rule{Method: AnyMethod, Pattern: p, Requirement: Public()}
	}
	return rules
}

type compiledRule struct {
	Rule
	method  string
	pattern pathPattern
}

func (c compiledRule) matches(method, requestPath string) bool {
	return (c.method == AnyMethod || c.method == method) && c.pattern.match(requestPath)
}

// coversRule reports whether every request matched by other is matched by c.
func (c compiledRule) coversRule(other compiledRule) bool {
	if c.method != AnyMethod && c.method != other.method {
		return false
	}
	return c.pattern.covers(other.pattern)
}

// Decision is the outcome of evaluating the policy for one request
type Decision struct {
	Permit bool
	Reason error // ErrUnauthenticated or ErrForbidden when denied
	Rule   int   // index of the deciding rule, -1 for the fallback
}

// Policy is an immutable ordered rule table
type Policy struct {
	rules []compiledRule
}

// Shadowing records that rule Rule can never match because ShadowedBy
// comes first and matches everything it would.
type Shadowing struct {
	Rule       int
	ShadowedBy int
}

// NewPolicy validates and compiles rules. It fails with ErrShadowedRule if
// any rule is unreachable.
func NewPolicy(rules []Rule) (*Policy, error) {
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}

	if shadows := findShadowed(compiled); len(shadows) > 0 {
		msgs := make([]string, len(shadows))
		for i, s := range shadows {
			msgs[i] = fmt.Sprintf("rule %d (%s) shadowed by rule %d (%s)",
				s.Rule, compiled[s.Rule].Rule, s.ShadowedBy, compiled[s.ShadowedBy].Rule)
		}
		return nil, fmt.Errorf("%w: %s", ErrShadowedRule, strings.Join(msgs, "; "))
	}

	return &Policy{rules: compiled}, nil
}

// Shadowed reports every unreachable rule in rules without building a policy.
func Shadowed(rules []Rule) ([]Shadowing, error) {
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	return findShadowed(compiled), nil
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		method, err := normalizeMethod(r.Method)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidRule, i, err)
		}
		pattern, err := compilePattern(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidRule, i, err)
		}
		if r.Requirement.kind == requireRole {
			if len(r.Requirement.roles) == 0 {
				return nil, fmt.Errorf("%w: rule %d: role requirement without roles", ErrInvalidRule, i)
			}
			for _, role := range r.Requirement.roles {
				if _, err := store.ParseRole(string(role)); err != nil {
					return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidRule, i, err)
				}
			}
		}
		compiled = append(compiled, compiledRule{Rule: r, method: method, pattern: pattern})
	}
	return compiled, nil
}

func findShadowed(rules []compiledRule) []Shadowing {
	var out []Shadowing
	for j := range rules {
		for i := 0; i < j; i++ {
			if rules[i].coversRule(rules[j]) {
				out = append(out, Shadowing{Rule: j, ShadowedBy: i})
				break
			}
		}
	}
	return out
}

func normalizeMethod(m string) (string, error) {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" || m == AnyMethod {
		return AnyMethod, nil
	}
	for _, c := range m {
		if !isTokenChar(c) {
			return "", fmt.Errorf("invalid method %q", m)
		}
	}
	return m, nil
}

// isTokenChar reports whether c may appear in an HTTP method token.
func isTokenChar(c rune) bool {
	if c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
		return true
	}
	return strings.ContainsRune("!#$%&'*+-.^_`|~", c)
}

// Decide returns the verdict of the first rule matching method and path.
// With no match the caller must be authenticated.
func (p *Policy) Decide(method, requestPath string, id *Identity) Decision {
	method = strings.ToUpper(method)
	for i, r := range p.rules {
		if !r.matches(method, requestPath) {
			continue
		}
		return decision(r.Requirement.check(id), i)
	}
	return decision(Authenticated().check(id), -1)
}

func decision(err error, rule int) Decision {
	return Decision{Permit: err == nil, Reason: err, Rule: rule}
}
