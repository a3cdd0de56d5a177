package queue

import "time"

// maxBackoff caps the delay between attempts
const maxBackoff = 10 * time.Minute

// Backoff returns the delay before the attempt following attempt:
// base * 2^(attempt-1), so 1s, 2s, 4s for a 1s base. Attempts below 1 get base.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return base
	}
	// guard the shift against overflow
	if attempt > 31 {
		return maxBackoff
	}

	delay := base * time.Duration(1<<(attempt-1))
	if delay > maxBackoff || delay < 0 {
		return maxBackoff
	}
	return delay
}
