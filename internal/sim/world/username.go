package world

import (
	"fmt"
	"regexp"

	"cellarena.io/internal/protocol"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z\d _-]+$`)

// validateUsername checks length and charset. Uniqueness is checked under playersMu.
func (w *World) validateUsername(name string) error {
	n := len(name)
	switch {
	case n < w.cfg.Username.MinLen:
		return &protocol.ValidationError{
			Code:   protocol.ErrNameTooShort,
			Reason: fmt.Sprintf("Username is too short. Minimum characters is %d.", w.cfg.Username.MinLen),
		}
	case n > w.cfg.Username.MaxLen:
		return &protocol.ValidationError{
			Code:   protocol.ErrNameTooLong,
			Reason: fmt.Sprintf("Username is too long. Maximum characters is %d.", w.cfg.Username.MaxLen),
		}
	case !usernamePattern.MatchString(name):
		return &protocol.ValidationError{
			Code:   protocol.ErrNameCharset,
			Reason: "Invalid username. Valid characters are: letters, digits, ` `, `_`, `-`",
		}
	}
	return nil
}

func nameTaken(name string) error {
	return &protocol.ValidationError{
		Code:   protocol.ErrNameTaken,
		Reason: fmt.Sprintf("Username: %s is already taken.", name),
	}
}
