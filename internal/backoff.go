package internal

import (
	"math/rand"
	"time"
)

const int64Max = 1<<63 - 1

// GetBackoffTime returns a randomized exponential backoff for the given retry
// count, capped at maximum. Retry 0 (or a non-positive slot time) yields zero.
func GetBackoffTime(retries int64, slotTime time.Duration, maximum time.Duration) time.Duration {
	if slotTime <= 0 || retries <= 0 {
		return 0
	}

	// 2^retries; the -1 of the usual formula is covered by rand being [0, max)
	umax := uint64(1) << retries
	if umax > int64Max || umax == 0 {
		return maximum
	}
	n := rand.Int63n(int64(umax))

	// Prevents overflow
	if uint64(slotTime.Nanoseconds())*uint64(n) > int64Max {
		return maximum
	}

	backoff := time.Duration(n) * slotTime
	if backoff > maximum {
		backoff = maximum
	}
	return backoff
}

func SleepBackedOff(retries int64, slotTime time.Duration, maximum time.Duration) {
	time.Sleep(GetBackoffTime(retries, slotTime, maximum))
}
