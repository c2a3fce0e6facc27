package triage

import (
	"regexp"
	"strings"
)

// GateDecision is the outcome of the deterministic gatekeeper. When
// SkipLLM is set the decision is terminal and the oracle is never
// consulted. When it is not set the message still goes to the oracle,
// but the pre-seeded review routing acts as a floor: the conversation
// may not be silently auto-closed.
type GateDecision struct {
	Classification Classification
	Bucket         Bucket
	Status         Status
	SkipLLM        bool
	BatchGroup     string
	Source         string
}

// Subjects containing these fragments reach a human (or at least the
// oracle) even when the sender would otherwise be auto-handled.
var escalationSubjectFragments = []string{
	"fail",
	"urgent",
	"error",
	"declined",
	"chargeback",
	"dispute",
	"action required",
	"suspended",
}

// Known automated sender domains, mapped to a batch group for bulk UI
// actions. Matched against the domain and its subdomains.
var automatedDomains = map[string]string{
	"stripe.com":       "payments",
	"paypal.com":       "payments",
	"squareup.com":     "payments",
	"wise.com":         "payments",
	"gocardless.com":   "payments",
	"indeed.com":       "job_boards",
	"ziprecruiter.com": "job_boards",
	"glassdoor.com":    "job_boards",
	"linkedin.com":     "social",
	"facebookmail.com": "social",
	"instagram.com":    "social",
	"twitter.com":      "social",
	"x.com":            "social",
	"nextdoor.com":     "social",
	"substack.com":     "newsletters",
	"mailchimp.com":    "newsletters",
	"mailchimpapp.net": "newsletters",
	"beehiiv.com":      "newsletters",
	"shopify.com":      "commerce",
	"amazon.com":       "commerce",
	"ebay.com":         "commerce",
}

var automatedSenderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?:no-?reply|donotreply|do-not-reply)[@+.]`),
	regexp.MustCompile(`^mailer-daemon@`),
	regexp.MustCompile(`^postmaster@`),
	regexp.MustCompile(`^bounces?[@+.-]`),
	regexp.MustCompile(`^(?:notifications?|alerts?|updates?|newsletter|digest)@`),
}

type subjectPattern struct {
	re         *regexp.Regexp
	batchGroup string
}

var automatedSubjectPatterns = []subjectPattern{
	{regexp.MustCompile(`(?:payment (?:receipt|confirmation)|receipt for your|invoice (?:paid|#\d+)|your payment)`), "payments"},
	{regexp.MustCompile(`(?:has (?:been )?shipped|shipping confirmation|out for delivery|order (?:shipped|confirmation)|delivery update)`), "commerce"},
	{regexp.MustCompile(`(?:application (?:received|update)|new applicant|candidate applied|application to)`), "job_boards"},
	{regexp.MustCompile(`(?:verify your email|confirm your (?:email|subscription)|password reset)`), "account_noise"},
}

// Gatekeep decides whether a message can bypass the oracle entirely.
// Pure function over sender address and subject; returns nil when the
// message needs full classification.
func Gatekeep(fromEmail, subject string) *GateDecision {
	from := strings.ToLower(strings.TrimSpace(fromEmail))
	subj := strings.ToLower(strings.TrimSpace(subject))

	// Escalation keywords override every shortcut below: a failed payment
	// from stripe.com is not noise.
	for _, fragment := range escalationSubjectFragments {
		if strings.Contains(subj, fragment) {
			return &GateDecision{
				Bucket:  BucketNeedsHuman,
				Status:  StatusEscalated,
				SkipLLM: false,
				Source:  "subject_escalation",
			}
		}
	}

	if group, ok := matchAutomatedDomain(from); ok {
		return terminalDecision("automated_domain", group)
	}

	for _, pattern := range automatedSenderPatterns {
		if pattern.MatchString(from) {
			return terminalDecision("automated_sender", "system_mail")
		}
	}

	for _, pattern := range automatedSubjectPatterns {
		if pattern.re.MatchString(subj) {
			return terminalDecision("automated_subject", pattern.batchGroup)
		}
	}

	return nil
}

func matchAutomatedDomain(from string) (string, bool) {
	idx := strings.LastIndexByte(from, '@')
	if idx < 0 || idx == len(from)-1 {
		return "", false
	}
	domain := from[idx+1:]
	for {
		if group, ok := automatedDomains[domain]; ok {
			return group, true
		}
		dot := strings.IndexByte(domain, '.')
		if dot < 0 {
			return "", false
		}
		domain = domain[dot+1:]
		if !strings.Contains(domain, ".") {
			// Bare TLD; stop.
			return "", false
		}
	}
}

func terminalDecision(source, batchGroup string) *GateDecision {
	return &GateDecision{
		Classification: Classification{
			Category:      CategoryNotification,
			RequiresReply: false,
			Confidence:    1.0,
			Entities: map[string]string{
				"batch_group":       batchGroup,
				"gatekeeper_source": source,
			},
		},
		Bucket:     BucketAutoHandled,
		Status:     StatusResolved,
		SkipLLM:    true,
		BatchGroup: batchGroup,
		Source:     source,
	}
}
