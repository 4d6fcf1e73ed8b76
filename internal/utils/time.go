package utils

import "time"

func Now() time.Time {
	return time.Now().UTC()
}

func Today() string {
	return Now().Format("2006-01-02")
}
