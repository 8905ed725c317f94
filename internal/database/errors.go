package database

import "github.com/pkg/errors"

var (
	ErrNotFound          = errors.New("record not found")
	ErrAlreadyDeleted    = errors.New("record is already deleted")
	ErrConflict          = errors.New("record was changed by another user, reload and try again")
	ErrInvalidTransition = errors.New("status change is not allowed")
	ErrForbidden         = errors.New("not allowed for your role")
	ErrInUse             = errors.New("record is still in use")
)
