// Package playback owns the live audio graph: session source, time-stretch
// transform and output sink, plus the clock-drift reconciliation that keeps
// the published time estimate aligned with the sink's own elapsed-output
// counter rather than with samples fed into the transform.
package playback
