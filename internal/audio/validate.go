package audio

import (
	"errors"
	"fmt"
)

var (
	ErrTooShort = errors.New("audio too short")
	ErrTooLong  = errors.New("audio too long")
)

// Duration returns the length of samples in seconds.
func Duration(samples []float32, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(samples)) / float64(sampleRate)
}

// Validate rejects waveforms outside [minSeconds, maxSeconds].
func Validate(samples []float32, sampleRate int, minSeconds, maxSeconds float64) error {
	d := Duration(samples, sampleRate)
	if d > maxSeconds {
		return fmt.Errorf("%w: %.2fs (max: %gs)", ErrTooLong, d, maxSeconds)
	}
	if d < minSeconds {
		return ErrTooShort
	}
	return nil
}
