package crawl

// Outcome tags the result of one execution attempt. The scheduler interprets
// it instead of catching errors across layers.
type Outcome int

// Attempt outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeRetry
	OutcomeTerminal
)

// AttemptResult is the tagged result returned by the per-job pipeline.
type AttemptResult struct {
	Outcome Outcome
	Data    ScrapedData
	Err     error
}

// SuccessResult marks a completed attempt carrying extracted data.
func SuccessResult(data ScrapedData) AttemptResult {
	return AttemptResult{Outcome: OutcomeSuccess, Data: data}
}

// RetryResult marks a transient failure eligible for re-enqueue.
func RetryResult(err error) AttemptResult {
	return AttemptResult{Outcome: OutcomeRetry, Err: err}
}

// TerminalResult marks a failure that must not be retried.
func TerminalResult(err error) AttemptResult {
	return AttemptResult{Outcome: OutcomeTerminal, Err: err}
}
