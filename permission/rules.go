package permission

import "github.com/bmatcuk/doublestar/v4"

// Rule is a declarative permission rule with glob pattern matching.
type Rule struct {
	Pattern  string   // glob pattern, e.g. "mcp__github__*", "delete_*"
	Decision Decision // Allow or Deny
}

// MatchRules evaluates rules against a tool name. Deny rules win over allow
// rules regardless of order. If no rule matches, matched is false.
func MatchRules(rules []Rule, toolName string) (Decision, bool) {
	var hasAllow bool
	for _, r := range rules {
		if !match(r.Pattern, toolName) {
			continue
		}
		if r.Decision == Deny {
			return Deny, true
		}
		hasAllow = true
	}
	return Allow, hasAllow
}

// Rules converts allow and deny lists into rules.
func Rules(allowed, disallowed []string) []Rule {
	rules := make([]Rule, 0, len(allowed)+len(disallowed))
	for _, p := range allowed {
		rules = append(rules, Rule{Pattern: p, Decision: Allow})
	}
	for _, p := range disallowed {
		rules = append(rules, Rule{Pattern: p, Decision: Deny})
	}
	return rules
}

func match(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}
