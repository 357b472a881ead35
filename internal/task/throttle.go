package task

import (
	"errors"
	"math"
	"strconv"
	"time"
)

// ErrInvalidRate is returned when a throttle rate is zero, negative or
// NaN. A rate change must never silently pause a task.
var ErrInvalidRate = errors.New("requests_per_second must be a positive number or unlimited")

// ValidateRate rejects rates that are zero, negative or NaN. +Inf is a
// valid rate and means unthrottled.
func ValidateRate(requestsPerSecond float64) error {
	if math.IsNaN(requestsPerSecond) || requestsPerSecond <= 0 {
		return ErrInvalidRate
	}
	return nil
}

// ParseRequestsPerSecond parses a throttle rate from its wire form.
// "unlimited" and "-1" both mean no throttling.
func ParseRequestsPerSecond(s string) (float64, error) {
	if s == "unlimited" || s == "-1" {
		return math.Inf(1), nil
	}
	rate, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, ErrInvalidRate
	}
	if err := ValidateRate(rate); err != nil {
		return 0, err
	}
	return rate, nil
}

// perfectlyThrottledBatchTime is how long a batch of the given size
// should take at the given rate.
//
//	requests per second = batch size / time per batch
//	=> time per batch = batch size / requests per second
func perfectlyThrottledBatchTime(requestsPerSecond float64, lastBatchSize int) time.Duration {
	if math.IsInf(requestsPerSecond, 1) {
		return 0
	}
	return time.Duration(float64(lastBatchSize) / requestsPerSecond * float64(time.Second))
}

// throttleWaitTime is the delay before the next batch may start: the
// perfectly throttled batch time minus whatever the last batch already
// used up, never negative.
func throttleWaitTime(requestsPerSecond float64, lastBatchStart time.Time, lastBatchSize int) time.Duration {
	earliest := lastBatchStart.Add(perfectlyThrottledBatchTime(requestsPerSecond, lastBatchSize))
	wait := time.Until(earliest)
	if wait < 0 {
		return 0
	}
	return wait
}
