// Package worker implements the asynchronous request/response substrate
// between the engine and its analysis pipelines. Every request carries a
// caller-generated correlation ID that all progress, result and error
// messages echo; delivery is in order within one correlation ID and
// cancellation is cooperative, with late messages for a cancelled handle
// dropped at the receive boundary.
package worker
