package app

import (
	"errors"

	"github.com/thespecialone1/sharedrop/internal/protocol"
)

// Precondition failures. Returned to the caller as {success:false,
// error}, never logged as exceptional. The strings double as wire
// error codes.
var (
	ErrAlreadyActive = errors.New(protocol.ErrAlreadyActive)
	ErrNoActiveCall  = errors.New(protocol.ErrNoActiveCall)
	ErrAlreadyInCall = errors.New(protocol.ErrAlreadyInCall)
	ErrNotInCall     = errors.New(protocol.ErrNotInCall)
	ErrLocked        = errors.New(protocol.ErrLocked)
	ErrNotAuthorized = errors.New(protocol.ErrNotAuthorized)
	ErrNotRegistered = errors.New(protocol.ErrNotRegistered)
	ErrBanned        = errors.New(protocol.ErrBanned)
	ErrKicked        = errors.New(protocol.ErrKickedOut)
	ErrNameTaken     = errors.New(protocol.ErrNameTaken)
	ErrRateLimited   = errors.New(protocol.ErrRateLimited)
)
