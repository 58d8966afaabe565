package utils

import "time"

// Timer is the part of *time.Timer that schedulers need.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. Components take one so tests can capture delays.
type AfterFunc func(d time.Duration, f func()) Timer

// StdAfterFunc wraps time.AfterFunc.
func StdAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
