// Package errors implements the error taxonomy shared by every component in
// the data-access layer.
//
// Remote failures are classified into six categories (network, timeout,
// server, client, rate_limit, unknown) and each category maps to a retry
// policy via PolicyFor. Classification checks explicit status codes first
// (408, 429, 4xx, 5xx), then well-known error values, then message
// substrings, so wrapped errors from any client library classify usefully.
//
// Two structural errors sit outside the taxonomy: ErrCircuitOpen (the
// breaker refused the call; never retried, fails fast) and BatchCommitError
// (a batch transaction failed and its operations were requeued).
//
// The Wrap helpers produce "component.method: action failed: <cause>"
// messages and attach a category that survives wrapping, so a classification
// made at the point of failure is what the retry loop sees at the top.
package errors
