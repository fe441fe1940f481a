package utils

import (
	"fmt"
	"strconv"
	"time"
)

// ToTime converts a provider timestamp into a time.Time. Billing providers
// are inconsistent about the type of epoch timestamps (integer seconds,
// floats with fractional seconds or strings), so every shape is accepted.
func ToTime(timestamp any) Result[time.Time] {
	var seconds int64
	var nanoseconds int64

	switch timestamp := timestamp.(type) {
	case string:
		floatTimestamp, err := strconv.ParseFloat(timestamp, 64)
		if err != nil {
			return FailedResult[time.Time](err)
		}

		seconds = int64(floatTimestamp)
		nanoseconds = int64((floatTimestamp - float64(seconds)) * 1e9)

	case int:
		seconds = int64(timestamp)

	case int64:
		seconds = timestamp

	case float64:
		seconds = int64(timestamp)
		nanoseconds = int64((timestamp - float64(seconds)) * 1e9)

	default:
		return FailedResult[time.Time](fmt.Errorf("unsupported timestamp type: %T", timestamp))
	}

	return SuccessResult(time.Unix(seconds, nanoseconds).In(time.UTC).Truncate(time.Millisecond))
}
