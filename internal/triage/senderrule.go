package triage

import (
	"regexp"
	"strings"
)

// SenderRule is a workspace-configured deterministic override.
type SenderRule struct {
	ID            string
	Pattern       string
	PatternType   string // "contains" or "regex"
	Category      Category
	RequiresReply bool
	ForceBucket   Bucket // optional
	ForceStatus   Status // optional
}

// RuleMatch is a forced decision produced by a matching sender rule. It
// bypasses both the gatekeeper defaults and the oracle.
type RuleMatch struct {
	Classification Classification
	ForceBucket    Bucket
	ForceStatus    Status
	RuleID         string
}

// MatchSenderRules evaluates rules in stored order against the message;
// the first match wins. Evaluation is pure and total: a malformed regex
// is treated as a non-match, never an error.
func MatchSenderRules(rules []SenderRule, sender, subject, body string) *RuleMatch {
	if len(rules) == 0 {
		return nil
	}
	haystack := strings.ToLower(sender + "\n" + subject + "\n" + body)

	for _, rule := range rules {
		if !ruleMatches(rule, haystack) {
			continue
		}
		category := rule.Category
		if _, ok := ParseCategory(string(category)); !ok {
			category = CategoryInquiry
		}
		return &RuleMatch{
			Classification: Classification{
				Category:      category,
				RequiresReply: rule.RequiresReply,
				Confidence:    1.0,
				Entities: map[string]string{
					"matched_rule_id":      rule.ID,
					"matched_rule_pattern": rule.Pattern,
				},
			},
			ForceBucket: rule.ForceBucket,
			ForceStatus: rule.ForceStatus,
			RuleID:      rule.ID,
		}
	}
	return nil
}

func ruleMatches(rule SenderRule, haystack string) bool {
	pattern := strings.TrimSpace(rule.Pattern)
	if pattern == "" {
		return false
	}
	switch rule.PatternType {
	case "regex":
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return false
		}
		return re.MatchString(haystack)
	default:
		return strings.Contains(haystack, strings.ToLower(pattern))
	}
}
