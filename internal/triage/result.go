package triage

import (
	"fmt"
	"strconv"
	"strings"
)

// Safe fallback applied whenever the oracle is unavailable or an item is
// missing from its results: treat the message as a reply-worthy inquiry
// at middling confidence so it is never silently dropped.
const (
	DefaultConfidence = 0.55
	// LaneConfidenceFloor is the stricter floor used when validating a
	// lane the oracle chose itself: below it an action lane is demoted
	// to review. Uncertainty is not urgency.
	LaneConfidenceFloor = 0.80
)

// Classification is the strongly-typed classification for one message.
type Classification struct {
	Category      Category
	RequiresReply bool
	Confidence    float64
	Entities      map[string]string
	Reasoning     string
	Sentiment     string
}

// SafeDefault returns the fallback classification.
func SafeDefault() Classification {
	return Classification{
		Category:      CategoryInquiry,
		RequiresReply: true,
		Confidence:    DefaultConfidence,
	}
}

// RawResult is the loosely-typed oracle output for one item, before
// normalization. Pointer fields distinguish absent from zero.
type RawResult struct {
	ItemID         string         `json:"item_id"`
	Category       string         `json:"category"`
	RequiresReply  *bool          `json:"requires_reply"`
	Confidence     *float64       `json:"confidence"`
	Lane           string         `json:"lane"`
	SuggestedReply string         `json:"suggested_reply,omitempty"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Sentiment      string         `json:"sentiment,omitempty"`
	Entities       map[string]any `json:"entities,omitempty"`
}

// Result is a normalized classification plus the lane-schema extras.
type Result struct {
	Classification
	Lane           Lane
	SuggestedReply string
}

// SafeResult is the Result form of the safe default.
func SafeResult() Result {
	return Result{Classification: SafeDefault()}
}

// Normalize coerces every raw field into the typed domain. Unknown enum
// values, out-of-range confidence and non-scalar entities all fall back
// to safe values; a malformed oracle field can never poison the pipeline.
func Normalize(raw RawResult) Result {
	out := Result{Classification: SafeDefault()}

	if category, ok := ParseCategory(raw.Category); ok {
		out.Category = category
	}
	if raw.RequiresReply != nil {
		out.RequiresReply = *raw.RequiresReply
	}
	if raw.Confidence != nil {
		out.Confidence = clamp01(*raw.Confidence)
	}
	if lane, ok := ParseLane(raw.Lane); ok {
		out.Lane = lane
	}
	out.SuggestedReply = strings.TrimSpace(raw.SuggestedReply)
	out.Reasoning = strings.TrimSpace(raw.Reasoning)
	out.Sentiment = strings.ToLower(strings.TrimSpace(raw.Sentiment))
	out.Entities = normalizeEntities(raw.Entities)
	return out
}

func normalizeEntities(raw map[string]any) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		switch v := value.(type) {
		case string:
			out[key] = v
		case bool:
			out[key] = strconv.FormatBool(v)
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			// Nested objects and arrays are dropped, not passed through untyped.
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Validate reports cross-field invariant violations. All violations are
// recoverable via AutoCorrect; callers record them for observability.
func (r Result) Validate() []string {
	var issues []string
	if r.Lane == LaneDone && r.RequiresReply {
		issues = append(issues, "done lane must not require a reply")
	}
	if r.Lane == LaneDone && r.SuggestedReply != "" {
		issues = append(issues, "done lane must not carry a suggested reply")
	}
	if r.Lane == LaneToReply && r.Confidence < LaneConfidenceFloor {
		issues = append(issues, fmt.Sprintf("confidence %.2f below %.2f routed to action lane", r.Confidence, LaneConfidenceFloor))
	}
	if r.Category == CategoryMisdirected && !r.RequiresReply {
		issues = append(issues, "misdirected message must require a reply")
	}
	return issues
}

// AutoCorrect applies targeted fixes for every validation issue and
// returns the corrected result together with the issues found. The
// corrections are deterministic: a violated invariant is repaired, never
// discarded wholesale.
func AutoCorrect(r Result) (Result, []string) {
	issues := r.Validate()
	if len(issues) == 0 {
		return r, nil
	}

	if r.Category == CategoryMisdirected && !r.RequiresReply {
		r.RequiresReply = true
	}
	if r.Lane == LaneDone && r.RequiresReply {
		// A reply request wins over the done lane.
		r.Lane = LaneToReply
	}
	if r.Lane == LaneDone && r.SuggestedReply != "" {
		r.SuggestedReply = ""
	}
	if r.Lane == LaneToReply && r.Confidence < LaneConfidenceFloor {
		r.Lane = LaneReview
	}
	return r, issues
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
