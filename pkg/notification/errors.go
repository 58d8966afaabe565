package notification

import "errors"

var (
	// ErrEmptyTitle is returned by Add when the notification has no title
	ErrEmptyTitle = errors.New("notification: empty title")
	// ErrClosed is returned once the center is closed
	ErrClosed = errors.New("notification: center closed")
)
