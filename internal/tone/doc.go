// Package tone classifies fixed-size PCM blocks into DTMF digits or
// call-progress tone categories using a Goertzel filter bank, with
// debounce and release hysteresis so one continuous tone yields exactly
// one event.
package tone
