package batch

// Stage identifies where an article is in its pipeline. Every article moves
// Pending -> Resolving -> Downloading -> Collating and ends Done or Failed.
type Stage string

const (
	StagePending     Stage = "pending"
	StageResolving   Stage = "resolving"
	StageDownloading Stage = "downloading"
	StageCollating   Stage = "collating"
)

// Outcome is the terminal state of one article.
type Outcome string

const (
	OutcomeDone   Outcome = "done"
	OutcomeFailed Outcome = "failed"
)

// Result is the immutable outcome record for one article.
type Result struct {
	// ArticleID traces the result back to the input identifier.
	ArticleID string

	// Outcome is Done or Failed.
	Outcome Outcome

	// Stage records where a failed article stopped; empty for Done.
	Stage Stage

	// OutputPath is the produced document, set only when Done.
	OutputPath string

	// Pages is the resolved page count, when resolution succeeded.
	Pages int

	// Err is the failure reason, set only when Failed.
	Err error
}

// Failed reports whether the article ended in the Failed state.
func (r Result) Failed() bool {
	return r.Outcome == OutcomeFailed
}
