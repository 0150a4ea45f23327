package cli

import (
	"errors"

	"github.com/hytong05/NT212-New-File-System/internal/merrors"
)

func errorsIsAuthFailed(err error) bool {
	return errors.Is(err, merrors.ErrAuthFailed)
}

func errorsIsUnrecoverable(err error) bool {
	return errors.Is(err, merrors.ErrUnrecoverable)
}
