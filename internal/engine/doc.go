// Package engine orchestrates the playback path and the analysis worker
// pool behind one facade. It owns the session lifecycle: loading a file
// bumps the session generation, cancels the superseded analysis jobs and
// dispatches fresh ones, and every result is checked against the current
// generation before it is aggregated into the published snapshot.
package engine
