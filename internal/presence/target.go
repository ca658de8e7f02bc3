package presence

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/umrahops/realtime/internal/ierr"
)

type TargetType string

const (
	TargetTypeUser TargetType = "user"
	TargetTypeRole TargetType = "role"
	TargetTypeAll  TargetType = "all"
)

// Target is the addressing discriminant of a push: one user, one role, or
// everyone. The zero value is invalid.
type Target struct {
	Type   TargetType
	UserID int64
	Role   string
}

func UserTarget(userID int64) Target {
	return Target{Type: TargetTypeUser, UserID: userID}
}

func RoleTarget(role string) Target {
	return Target{Type: TargetTypeRole, Role: role}
}

func Everyone() Target {
	return Target{Type: TargetTypeAll}
}

func (t Target) Validate() error {
	switch t.Type {
	case TargetTypeUser:
		if t.UserID == 0 {
			return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("user target requires a user id"))
		}
	case TargetTypeRole:
		if t.Role == "" {
			return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("role target requires a role"))
		}
	case TargetTypeAll:
	default:
		return ierr.Errorf(ierr.ErrorCodeInvalidArgument, "invalid target type %q", string(t.Type))
	}

	return nil
}

// ID renders the target discriminant value as stored in the notification
// log: the decimal user id, the role name, or empty for everyone.
func (t Target) ID() string {
	switch t.Type {
	case TargetTypeUser:
		return strconv.FormatInt(t.UserID, 10)
	case TargetTypeRole:
		return t.Role
	default:
		return ""
	}
}

// TargetFrom rebuilds a Target from its stored (type, id) pair.
func TargetFrom(targetType string, targetID string) (Target, error) {
	switch TargetType(targetType) {
	case TargetTypeUser:
		userID, err := strconv.ParseInt(targetID, 10, 64)
		if err != nil {
			return Target{}, ierr.Errorf(ierr.ErrorCodeInvalidArgument, "invalid user target id %q", targetID)
		}
		return UserTarget(userID), nil
	case TargetTypeRole:
		return RoleTarget(targetID), nil
	case TargetTypeAll:
		return Everyone(), nil
	default:
		return Target{}, ierr.Errorf(ierr.ErrorCodeInvalidArgument, "invalid target type %q", targetType)
	}
}

type targetJSON struct {
	Type TargetType `json:"type"`
	ID   string     `json:"id,omitempty"`
}

func (t Target) MarshalJSON() ([]byte, error) {
	return json.Marshal(targetJSON{Type: t.Type, ID: t.ID()})
}

func (t *Target) UnmarshalJSON(data []byte) error {
	var raw targetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := TargetFrom(string(raw.Type), raw.ID)
	if err != nil {
		return err
	}

	*t = parsed
	return nil
}
