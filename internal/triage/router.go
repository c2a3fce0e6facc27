package triage

// ConfidenceFloor is the minimum confidence for any automatic action.
// Below it the conversation always lands with a human, regardless of
// what the classification says.
const ConfidenceFloor = 0.70

// Route maps a classification to a decision bucket and status. A forced
// bucket (from a sender rule) short-circuits the ordered rules; a forced
// status additionally overrides the bucket's default status.
func Route(c Classification, forceBucket Bucket, forceStatus Status) (Bucket, Status) {
	return RouteWithFloor(c, forceBucket, forceStatus, ConfidenceFloor)
}

// RouteWithFloor is Route with a caller-supplied confidence floor.
// Values outside (0, 1] fall back to the default floor.
func RouteWithFloor(c Classification, forceBucket Bucket, forceStatus Status, floor float64) (Bucket, Status) {
	if floor <= 0 || floor > 1 {
		floor = ConfidenceFloor
	}
	if forceBucket != "" {
		status := forceBucket.DefaultStatus()
		if forceStatus != "" {
			status = forceStatus
		}
		return forceBucket, status
	}

	var bucket Bucket
	switch {
	case c.Category.IsNoise():
		bucket = BucketAutoHandled
	case c.Category == CategoryFollowUp && !c.RequiresReply:
		bucket = BucketAutoHandled
	case c.Confidence < floor:
		bucket = BucketNeedsHuman
	case c.Category == CategoryComplaint && c.RequiresReply:
		bucket = BucketActNow
	default:
		bucket = BucketQuickWin
	}
	return bucket, bucket.DefaultStatus()
}
