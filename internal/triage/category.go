// Package triage implements the asynchronous message-triage and
// decision-routing pipeline: gatekeeping, sender rules, batched LLM
// classification, normalization, routing, and conversation mutation.
package triage

import "strings"

// Category is the closed classification enum. The lane+flags schema is
// authoritative; the legacy decision bucket is derived from it.
type Category string

const (
	CategoryQuote        Category = "quote"
	CategoryBooking      Category = "booking"
	CategoryComplaint    Category = "complaint"
	CategoryFollowUp     Category = "follow_up"
	CategoryInquiry      Category = "inquiry"
	CategoryNotification Category = "notification"
	CategoryNewsletter   Category = "newsletter"
	CategorySpam         Category = "spam"
	CategoryPersonal     Category = "personal"
	CategoryMisdirected  Category = "misdirected"
)

var allCategories = map[Category]struct{}{
	CategoryQuote:        {},
	CategoryBooking:      {},
	CategoryComplaint:    {},
	CategoryFollowUp:     {},
	CategoryInquiry:      {},
	CategoryNotification: {},
	CategoryNewsletter:   {},
	CategorySpam:         {},
	CategoryPersonal:     {},
	CategoryMisdirected:  {},
}

// ParseCategory validates enum membership; unknown values return false.
func ParseCategory(raw string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := allCategories[c]
	return c, ok
}

// IsNoise reports whether the category never warrants a reply on its own.
func (c Category) IsNoise() bool {
	switch c {
	case CategoryNotification, CategoryNewsletter, CategorySpam, CategoryPersonal:
		return true
	}
	return false
}

// Bucket is the legacy decision bucket, kept in sync with the lane.
type Bucket string

const (
	BucketActNow      Bucket = "act_now"
	BucketQuickWin    Bucket = "quick_win"
	BucketNeedsHuman  Bucket = "needs_human"
	BucketAutoHandled Bucket = "auto_handled"
	BucketWait        Bucket = "wait"
)

// Lane is the conversation inbox lane.
type Lane string

const (
	LaneToReply Lane = "to_reply"
	LaneReview  Lane = "review"
	LaneDone    Lane = "done"
	LaneSnoozed Lane = "snoozed"
)

// Status is the conversation status.
type Status string

const (
	StatusOpen       Status = "open"
	StatusEscalated  Status = "escalated"
	StatusResolved   Status = "resolved"
	StatusAIHandling Status = "ai_handling"
)

// DefaultStatus maps a bucket to its status via the fixed table.
func (b Bucket) DefaultStatus() Status {
	switch b {
	case BucketAutoHandled:
		return StatusResolved
	case BucketNeedsHuman:
		return StatusEscalated
	case BucketActNow:
		return StatusAIHandling
	case BucketWait:
		return StatusOpen
	default:
		return StatusOpen
	}
}

// DefaultLane maps a bucket to its inbox lane.
func (b Bucket) DefaultLane() Lane {
	switch b {
	case BucketAutoHandled:
		return LaneDone
	case BucketNeedsHuman:
		return LaneReview
	case BucketWait:
		return LaneSnoozed
	default:
		return LaneToReply
	}
}

// ParseBucket validates bucket membership.
func ParseBucket(raw string) (Bucket, bool) {
	b := Bucket(strings.ToLower(strings.TrimSpace(raw)))
	switch b {
	case BucketActNow, BucketQuickWin, BucketNeedsHuman, BucketAutoHandled, BucketWait:
		return b, true
	}
	return "", false
}

// ParseLane validates lane membership.
func ParseLane(raw string) (Lane, bool) {
	l := Lane(strings.ToLower(strings.TrimSpace(raw)))
	switch l {
	case LaneToReply, LaneReview, LaneDone, LaneSnoozed:
		return l, true
	}
	return "", false
}
