package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies a class of failure crossing a component boundary.
type Code string

const (
	ErrNoChannelsSelected  Code = "NO_CHANNELS_SELECTED"
	ErrJobAlreadyRunning   Code = "JOB_ALREADY_RUNNING"
	ErrNotFound            Code = "NOT_FOUND"
	ErrAmbiguousAttachment Code = "AMBIGUOUS_ATTACHMENT"
	ErrIncompleteEditing   Code = "INCOMPLETE_EDITING"
	ErrImageSetMismatch    Code = "IMAGE_SET_MISMATCH"
	ErrDanglingReference   Code = "DANGLING_REFERENCE"
	ErrCacheWrite          Code = "CACHE_WRITE"
	ErrSourceAuth          Code = "SOURCE_AUTH"
	ErrInvalidRequest      Code = "INVALID_REQUEST"
	ErrInternal            Code = "INTERNAL"
)

// AppError is the structured error type returned across component boundaries.
// Component-internal transient failures are absorbed and logged; anything the
// caller sees is one of these.
type AppError struct {
	Code    Code
	Message string
	Details map[string]any
	Cause   error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether err is, or wraps, an AppError with the given code.
func Is(err error, code Code) bool {
	var aErr *AppError
	return stderrors.As(err, &aErr) && aErr.Code == code
}

func NewNoChannelsSelected() *AppError {
	return &AppError{
		Code:    ErrNoChannelsSelected,
		Message: "no channels selected for indexing",
	}
}

func NewJobAlreadyRunning() *AppError {
	return &AppError{
		Code:    ErrJobAlreadyRunning,
		Message: "an indexing job is already running",
	}
}

func NewNotFound(kind, id string) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

func NewAmbiguousAttachment(messageID string) *AppError {
	return &AppError{
		Code:    ErrAmbiguousAttachment,
		Message: fmt.Sprintf("message %s has no chosen attachment; selection must resolve ambiguity", messageID),
		Details: map[string]any{"message_id": messageID},
	}
}

func NewIncompleteEditing(missing []string) *AppError {
	return &AppError{
		Code:    ErrIncompleteEditing,
		Message: fmt.Sprintf("%d selected message(s) have no edited image", len(missing)),
		Details: map[string]any{"message_ids": missing},
	}
}

func NewImageSetMismatch(msg string) *AppError {
	return &AppError{
		Code:    ErrImageSetMismatch,
		Message: msg,
	}
}

func NewDanglingReference(messageIDs []string) *AppError {
	return &AppError{
		Code:    ErrDanglingReference,
		Message: fmt.Sprintf("%d referenced message(s) are no longer available", len(messageIDs)),
		Details: map[string]any{"message_ids": messageIDs},
	}
}

func NewCacheWrite(key string, cause error) *AppError {
	return &AppError{
		Code:    ErrCacheWrite,
		Message: fmt.Sprintf("failed to write cache entry %s", key),
		Details: map[string]any{"key": key},
		Cause:   cause,
	}
}

func NewSourceAuth(cause error) *AppError {
	return &AppError{
		Code:    ErrSourceAuth,
		Message: "chat source rejected credentials",
		Cause:   cause,
	}
}

func NewInvalidRequest(msg string) *AppError {
	return &AppError{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

func NewInternal(err error) *AppError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &AppError{
		Code:    ErrInternal,
		Message: msg,
		Cause:   err,
	}
}
