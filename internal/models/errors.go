package models

import (
	"errors"

	"github.com/oktetlabs/test-environment-sub007/internal/rpcqueue"
)

var (
	ErrNoSuchAcs       = errors.New("no such acs")
	ErrNoSuchCpe       = errors.New("no such cpe")
	ErrNoSuchRpc       = rpcqueue.ErrNoSuchRpc
	ErrNotReady        = rpcqueue.ErrNotReady
	ErrConfigConflict  = errors.New("configuration conflict")
	ErrReadOnly        = errors.New("read-only field")
	ErrInvalid         = errors.New("invalid value")
	ErrNoCpeConfigured = errors.New("no cpe configured")
)
