package protocol

import (
	"errors"
	"fmt"
)

const (
	// Handshake validation (recoverable: the session re-prompts).
	ErrNameTooShort = "E_NAME_TOO_SHORT"
	ErrNameTooLong  = "E_NAME_TOO_LONG"
	ErrNameCharset  = "E_NAME_CHARSET"
	ErrNameTaken    = "E_NAME_TAKEN"

	// Session-terminating.
	ErrProtoBadFrame  = "E_PROTO_BAD_FRAME"
	ErrConnClosed     = "E_CONN_CLOSED"
	ErrSlowConsumer   = "E_SLOW_CONSUMER"
	ErrPlayerEaten    = "E_PLAYER_EATEN"
	ErrServerShutdown = "E_SERVER_SHUTDOWN"
)

var knownCodes = map[string]struct{}{
	ErrNameTooShort:   {},
	ErrNameTooLong:    {},
	ErrNameCharset:    {},
	ErrNameTaken:      {},
	ErrProtoBadFrame:  {},
	ErrConnClosed:     {},
	ErrSlowConsumer:   {},
	ErrPlayerEaten:    {},
	ErrServerShutdown: {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

var (
	// ErrProtocol marks a malformed frame or a length mismatch.
	ErrProtocol = errors.New("protocol error")
	// ErrConnection marks a peer reset, EOF or local close.
	ErrConnection = errors.New("connection error")
)

// ValidationError is a rejected username. Reason is sent to the client verbatim.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Reason) }

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func protocolErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

func connectionError(err error) error {
	return fmt.Errorf("%w: %v", ErrConnection, err)
}
