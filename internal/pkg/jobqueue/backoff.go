package jobqueue

import "time"

const (
	retryBackoffBase = 30 * time.Second
	retryBackoffMax  = 15 * time.Minute
)

// backoffDelay returns the wait before re-attempting a job that failed
// retryCount times: bounded exponential, 30s doubling up to 15m.
func backoffDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := retryBackoffBase
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= retryBackoffMax {
			return retryBackoffMax
		}
	}
	if delay > retryBackoffMax {
		return retryBackoffMax
	}
	return delay
}
