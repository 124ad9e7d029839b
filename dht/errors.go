package dht

import (
	"errors"
	"fmt"

	"github.com/TheoBaudoinLighting/kadmesh/common"
)

// ErrNotStarted is returned by any handler or lookup invoked outside the
// Started state.
var ErrNotStarted = errors.New("dht is not started")

func wrapInvalid(msg string, args ...interface{}) error {
	return fmt.Errorf(msg+": %w", append(args, common.ErrInvalidArgument)...)
}

func wrapTooLarge(msg string, args ...interface{}) error {
	return fmt.Errorf(msg+": %w", append(args, common.ErrTooLarge)...)
}

func wrapDecode(err error) error {
	return &common.DecodeError{Err: err}
}
