package postgres

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"smart-demo/bootstrapper/internal/bootstrap"
)

// NewCircuitBreaker returns a gobreaker configured to trip after 3 consecutive
// connection failures and reset after 30 seconds in the open state. SQL-level
// errors such as a duplicate or missing database do not count against the
// server.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(Classify(err), bootstrap.ErrConnection)
		},
	})
}
