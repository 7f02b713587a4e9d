package session

import (
	"errors"
	"fmt"
)

var (
	ErrKeyNotReady       = errors.New("encryption key not ready")
	ErrChunkSendFailure  = errors.New("chunk send failure")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrRegistryClosed    = errors.New("registry closed")
	ErrUnexpectedMessage = errors.New("unexpected message")
)

// TransferError attaches the failed operation, and the file when there
// is one, to an underlying sentinel.
type TransferError struct {
	Op      string
	Peer    string
	File    string
	Err     error
	Details string
}

func (e *TransferError) Error() string {
	msg := e.Op
	if e.File != "" {
		msg += " " + e.File
	}
	if e.Peer != "" {
		msg += " to " + e.Peer
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", msg, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func NewError(op, peer string, err error) *TransferError {
	return &TransferError{Op: op, Peer: peer, Err: err}
}

func NewFileError(op, peer, file string, err error, details string) *TransferError {
	return &TransferError{Op: op, Peer: peer, File: file, Err: err, Details: details}
}
