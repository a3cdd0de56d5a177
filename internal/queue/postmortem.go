package queue

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryExhaustedError is the final error of a job that failed on every
// allowed attempt
type RetryExhaustedError struct {
	JobID    string
	Attempts int
	Errs     []error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("job %s failed after %d attempts: %v", e.JobID, e.Attempts, e.Last())
}

// Last returns the error of the final attempt
func (e *RetryExhaustedError) Last() error {
	if len(e.Errs) == 0 {
		return nil
	}
	return e.Errs[len(e.Errs)-1]
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last()
}

// PostMortem describes a permanently failed job
type PostMortem struct {
	OrderID    string    `json:"orderId"`
	Attempts   int       `json:"attempts"`
	FinalError string    `json:"finalError"`
	Errors     []string  `json:"errors"`
	Timestamp  time.Time `json:"timestamp"`
}

// PostMortemSink receives a record for each permanently failed job
type PostMortemSink func(pm PostMortem)

// LogPostMortem writes the record to the global logger
func LogPostMortem(pm PostMortem) {
	log.Error().
		Str("component", "queue").
		Str("order_id", pm.OrderID).
		Int("attempts", pm.Attempts).
		Str("final_error", pm.FinalError).
		Strs("errors", pm.Errors).
		Time("failed_at", pm.Timestamp).
		Msg("job permanently failed")
}

func newPostMortem(id string, attempts int, final error, history []error, now time.Time) PostMortem {
	pm := PostMortem{
		OrderID:   id,
		Attempts:  attempts,
		Errors:    make([]string, 0, len(history)),
		Timestamp: now,
	}
	if final != nil {
		pm.FinalError = final.Error()
	}
	for _, err := range history {
		pm.Errors = append(pm.Errors, err.Error())
	}
	return pm
}
