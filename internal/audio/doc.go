// Package audio defines the decoded audio session model and WAV encoding/decoding.
// A Session holds channel-separated float32 PCM and is immutable once decoded;
// the engine hands read-only views of it to the playback path and every
// analysis pipeline.
package audio
