package triage

import (
	"reflect"
	"testing"
)

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }

func TestNormalizeCleanResult(t *testing.T) {
	out := Normalize(RawResult{
		Category:      "Complaint",
		RequiresReply: boolPtr(true),
		Confidence:    floatPtr(0.92),
		Lane:          "to_reply",
		Reasoning:     "  customer unhappy about delay ",
		Sentiment:     "Negative",
		Entities: map[string]any{
			"order_id": "A-17",
			"refund":   true,
			"amount":   42.5,
		},
	})

	if out.Category != CategoryComplaint || !out.RequiresReply || out.Confidence != 0.92 {
		t.Errorf("unexpected classification: %+v", out.Classification)
	}
	if out.Lane != LaneToReply {
		t.Errorf("got lane %q", out.Lane)
	}
	if out.Sentiment != "negative" {
		t.Errorf("got sentiment %q", out.Sentiment)
	}
	if out.Entities["refund"] != "true" || out.Entities["amount"] != "42.5" {
		t.Errorf("scalar entities not coerced: %v", out.Entities)
	}
}

func TestNormalizeFallsBackOnGarbage(t *testing.T) {
	out := Normalize(RawResult{
		Category:   "galactic_emergency",
		Confidence: floatPtr(7.3),
		Lane:       "fast_lane",
		Entities: map[string]any{
			"nested": map[string]any{"a": 1},
			"list":   []any{"x"},
			"":       "dropped key",
		},
	})

	if out.Category != CategoryInquiry {
		t.Errorf("unknown category should fall back to inquiry, got %q", out.Category)
	}
	if !out.RequiresReply {
		t.Error("absent requires_reply should keep the safe default true")
	}
	if out.Confidence != 1.0 {
		t.Errorf("confidence not clamped: %f", out.Confidence)
	}
	if out.Lane != "" {
		t.Errorf("unknown lane should stay empty, got %q", out.Lane)
	}
	if out.Entities != nil {
		t.Errorf("non-scalar entities should be dropped entirely: %v", out.Entities)
	}
}

func TestNormalizeAbsentFieldsKeepSafeDefault(t *testing.T) {
	out := Normalize(RawResult{})
	want := SafeDefault()
	if out.Category != want.Category || out.RequiresReply != want.RequiresReply || out.Confidence != want.Confidence {
		t.Errorf("got %+v, want safe default %+v", out.Classification, want)
	}
}

func TestAutoCorrectDoneLaneWithReply(t *testing.T) {
	r := Result{
		Classification: Classification{Category: CategoryInquiry, RequiresReply: true, Confidence: 0.9},
		Lane:           LaneDone,
		SuggestedReply: "thanks!",
	}
	fixed, issues := AutoCorrect(r)
	if len(issues) != 2 {
		t.Fatalf("got issues %v", issues)
	}
	if fixed.Lane != LaneToReply {
		t.Errorf("reply request should win over done lane, got %q", fixed.Lane)
	}
	if fixed.SuggestedReply != "thanks!" {
		t.Errorf("reply text should survive once the lane is corrected, got %q", fixed.SuggestedReply)
	}
}

func TestAutoCorrectDoneLaneDropsStrayReplyText(t *testing.T) {
	r := Result{
		Classification: Classification{Category: CategoryNewsletter, Confidence: 0.95},
		Lane:           LaneDone,
		SuggestedReply: "unsubscribe confirmed",
	}
	fixed, issues := AutoCorrect(r)
	if len(issues) != 1 {
		t.Fatalf("got issues %v", issues)
	}
	if fixed.Lane != LaneDone || fixed.SuggestedReply != "" {
		t.Errorf("got lane=%q reply=%q", fixed.Lane, fixed.SuggestedReply)
	}
}

func TestAutoCorrectDemotesLowConfidenceActionLane(t *testing.T) {
	r := Result{
		Classification: Classification{Category: CategoryInquiry, RequiresReply: true, Confidence: 0.65},
		Lane:           LaneToReply,
	}
	fixed, issues := AutoCorrect(r)
	if len(issues) != 1 {
		t.Fatalf("got issues %v", issues)
	}
	if fixed.Lane != LaneReview {
		t.Errorf("got lane %q, want review", fixed.Lane)
	}
}

func TestAutoCorrectMisdirectedRequiresReply(t *testing.T) {
	r := Result{
		Classification: Classification{Category: CategoryMisdirected, Confidence: 0.9},
		Lane:           LaneReview,
	}
	fixed, issues := AutoCorrect(r)
	if len(issues) != 1 {
		t.Fatalf("got issues %v", issues)
	}
	if !fixed.RequiresReply {
		t.Error("misdirected mail warrants a redirect reply")
	}
}

func TestAutoCorrectCleanResultUntouched(t *testing.T) {
	r := Result{
		Classification: Classification{Category: CategoryBooking, RequiresReply: true, Confidence: 0.88},
		Lane:           LaneToReply,
	}
	fixed, issues := AutoCorrect(r)
	if issues != nil {
		t.Fatalf("got issues %v", issues)
	}
	if !reflect.DeepEqual(fixed, r) {
		t.Errorf("clean result changed: %+v", fixed)
	}
}
