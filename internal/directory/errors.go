package directory

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound         = errors.New("room not found")
	ErrRoomExists           = errors.New("room already exists")
	ErrDirectoryUnavailable = errors.New("directory unavailable")
	ErrBadRequest           = errors.New("bad request")
)

// Error names the directory operation and room that failed.
type Error struct {
	Op      string
	Room    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Room != "" {
		msg += " " + e.Room
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", msg, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
