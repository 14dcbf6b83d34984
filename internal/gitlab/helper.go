package gitlab

import "time"

func pointer[T any](v T) *T {
	return &v
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
