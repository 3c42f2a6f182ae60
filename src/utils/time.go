package utils

import "time"

// DayMs is one day in milliseconds, the granularity of all daily series.
const DayMs int64 = 86_400_000

// NowMs returns the current time as a ms epoch timestamp.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// FloorDay floors a ms epoch timestamp to UTC midnight.
func FloorDay(ts int64) int64 {
	return ts - (ts % DayMs)
}
