package storage

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrNoNotifyConn is returned by Listen and WaitForNotification when the
	// DB was opened without a notify DSN.
	ErrNoNotifyConn = errors.New("storage: notify connection not configured")
)
