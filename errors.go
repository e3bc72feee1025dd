package uow

import (
	"errors"

	"github.com/go-arrower/uow/internal/model"
)

var (
	ErrNotRegistered   = errors.New("repository not registered")
	ErrDuplicateKey    = errors.New("repository registered already")
	ErrConstruction    = errors.New("could not construct repository")
	ErrMultipleMatches = errors.New("more than one entity matches")
	ErrUseAfterDispose = errors.New("unit of work is disposed")
)

// Errors returned by the persistence engines.
var (
	ErrInvalidEntity  = model.ErrInvalidEntity
	ErrMissingID      = model.ErrMissingID
	ErrAlreadyTracked = model.ErrAlreadyTracked
	ErrAlreadyExists  = model.ErrAlreadyExists
	ErrNotFound       = model.ErrNotFound
	ErrUnknownInclude = model.ErrUnknownInclude
)
