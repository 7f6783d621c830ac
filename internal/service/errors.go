package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/simonjohansson/tracker/internal/history"
	"github.com/simonjohansson/tracker/internal/store"
)

type Code string

const (
	CodeValidation Code = "validation"
	CodeNotFound   Code = "not_found"
	CodeConflict   Code = "conflict"
	CodeInternal   Code = "internal"
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code Code, msg string, err error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     err,
	}
}

func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func IsConflict(err error) bool   { return err != nil && CodeOf(err) == CodeConflict }
func IsNotFound(err error) bool   { return err != nil && CodeOf(err) == CodeNotFound }
func IsValidation(err error) bool { return err != nil && CodeOf(err) == CodeValidation }

// classify turns store and history errors into service errors. what
// names the failed operation for internal errors.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		return newError(CodeConflict, err.Error(), err)
	case errors.Is(err, store.ErrAlreadyExists):
		return newError(CodeConflict, err.Error(), err)
	case errors.Is(err, store.ErrNotFound):
		return newError(CodeNotFound, err.Error(), err)
	case errors.Is(err, history.ErrEntityDeleted):
		return newError(CodeNotFound, err.Error(), err)
	case errors.Is(err, history.ErrUnknownKind), errors.Is(err, history.ErrCommentTooLong):
		return newError(CodeValidation, err.Error(), err)
	}
	return newError(CodeInternal, what+" failed", err)
}

// validationError flattens validator output into one message.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return newError(CodeValidation, err.Error(), err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s must satisfy %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return newError(CodeValidation, strings.Join(parts, "; "), err)
}

func NotFound(msg string) error {
	return newError(CodeNotFound, msg, nil)
}
