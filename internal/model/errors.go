package model

import "errors"

// Errors shared by all session engines. They are re-exported by package uow.
var (
	ErrInvalidEntity  = errors.New("invalid entity")
	ErrMissingID      = errors.New("missing id")
	ErrAlreadyTracked = errors.New("entity is already tracked")
	ErrAlreadyExists  = errors.New("exists already")
	ErrNotFound       = errors.New("not found")
	ErrUnknownInclude = errors.New("unknown include path")
)
