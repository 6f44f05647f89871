package batch

// SkipPolicy decides whether a failed record may be discarded. It only reads
// the skip count; the job owns and mutates SkipState.
type SkipPolicy struct {
	limit int
}

// NewSkipPolicy creates a policy tolerating up to limit validation rejections.
// Negative limits are treated as zero.
func NewSkipPolicy(limit int) SkipPolicy {
	if limit < 0 {
		limit = 0
	}
	return SkipPolicy{limit: limit}
}

// Limit returns the configured ceiling.
func (p SkipPolicy) Limit() int {
	return p.limit
}

// ShouldSkip reports whether an error of the given kind may be skipped when
// skipCount records have already been skipped. Only validation rejections are
// skippable, and only while skipCount < limit.
func (p SkipPolicy) ShouldSkip(kind ErrorKind, skipCount int) bool {
	return kind == KindValidation && skipCount < p.limit
}

// SkipState tracks skipped records for one run. It is never reset mid-run.
type SkipState struct {
	Count int
	Limit int
}
