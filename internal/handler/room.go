package handler

import (
	"errors"
	"regexp"
	"strings"

	"github.com/umrahops/realtime/internal/ierr"
)

// RoomNameValidator guards explicitly joinable room names. The implicit
// user: and role: rooms are reserved; clients cannot join or leave them by
// name.
type RoomNameValidator struct {
	roomNameRegex *regexp.Regexp
}

func NewRoomNameValidator() *RoomNameValidator {
	return &RoomNameValidator{
		roomNameRegex: regexp.MustCompile(`^[\w-]{1,64}$`),
	}
}

func (v *RoomNameValidator) Validate(room string) error {
	if strings.Contains(room, ":") {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("room name is reserved"))
	}

	if !v.roomNameRegex.MatchString(room) {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid room name"))
	}

	return nil
}
