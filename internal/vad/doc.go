// Package vad provides per-frame voice activity detection: an externally
// supplied probability scorer evaluated on fixed-size frames, combined with
// two-threshold hysteresis so the speech/silence decision does not flicker
// at the boundary.
package vad
