package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrLinkClosed        = errors.New("link closed")
	ErrUnknownFile       = errors.New("unknown file id")
	ErrInvalidState      = errors.New("invalid transfer state")
	ErrTransferCancelled = errors.New("transfer cancelled")
	ErrTransferRejected  = errors.New("receiver declined the transfer")
	ErrFrameTooLarge     = errors.New("frame exceeds size limit")
	ErrChunkOutOfRange   = errors.New("chunk index out of range")
	ErrIncomplete        = errors.New("reassembled size mismatch")
)

type TransferError struct {
	Op      string
	File    string
	Err     error
	Details string
}

func (e *TransferError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *TransferError {
	return &TransferError{Op: op, Err: err}
}

func NewFileError(op, file string, err error) *TransferError {
	return &TransferError{Op: op, File: file, Err: err}
}

func WrapError(op string, err error, details string) *TransferError {
	return &TransferError{Op: op, Err: err, Details: details}
}
