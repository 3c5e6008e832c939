package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cyberinferno/chatrelay/wire"
)

var (
	// ErrMissingType is returned when an object has no string "type" field.
	ErrMissingType = errors.New("protocol: missing type")

	// ErrUnknownType is returned for a type tag not valid in the given direction.
	ErrUnknownType = errors.New("protocol: unknown type")

	// ErrMissingField is returned when a required field is absent or ill-typed.
	ErrMissingField = errors.New("protocol: missing or invalid field")
)

// ParseClient converts an object sent by a client into a Login or Chat.
// Type tags match case-insensitively. An optional "recipient" that is not a
// string is treated as absent.
//
// Parameters:
//   - obj: A decoded JSON object
//
// Returns:
//   - The parsed message
//   - An error wrapping ErrMissingType, ErrUnknownType or ErrMissingField
func ParseClient(obj wire.Object) (Message, error) {
	typ, err := typeOf(obj)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.EqualFold(typ, TypeLogin):
		name, err := requireString(obj, "username")
		if err != nil {
			return nil, err
		}

		return Login{Username: name}, nil
	case strings.EqualFold(typ, TypeMessage):
		text, err := requireString(obj, "text")
		if err != nil {
			return nil, err
		}

		m := Chat{Text: text}
		if recipient, ok := obj["recipient"].(string); ok {
			m.Recipient = &recipient
		}

		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

// ParseServer converts an object sent by the server into a LoginResult,
// NewUser, UserDisconnected or Delivered.
//
// Parameters:
//   - obj: A decoded JSON object
//
// Returns:
//   - The parsed message
//   - An error wrapping ErrMissingType, ErrUnknownType or ErrMissingField
func ParseServer(obj wire.Object) (Message, error) {
	typ, err := typeOf(obj)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.EqualFold(typ, TypeLogin):
		success, ok := obj["success"].(bool)
		if !ok {
			return nil, fmt.Errorf("%w: success", ErrMissingField)
		}

		m := LoginResult{Success: success}
		if reason, ok := obj["reason"].(string); ok {
			m.Reason = reason
		}

		if raw, ok := obj["users"].([]any); ok {
			m.Users = make([]string, 0, len(raw))
			for _, u := range raw {
				name, ok := u.(string)
				if !ok {
					return nil, fmt.Errorf("%w: users", ErrMissingField)
				}
				m.Users = append(m.Users, name)
			}
		}

		return m, nil
	case strings.EqualFold(typ, TypeNewUser):
		name, err := requireString(obj, "username")
		if err != nil {
			return nil, err
		}

		return NewUser{Username: name}, nil
	case strings.EqualFold(typ, TypeUserDisconnected):
		name, err := requireString(obj, "username")
		if err != nil {
			return nil, err
		}

		return UserDisconnected{Username: name}, nil
	case strings.EqualFold(typ, TypeMessage):
		sender, err := requireString(obj, "sender")
		if err != nil {
			return nil, err
		}

		text, err := requireString(obj, "text")
		if err != nil {
			return nil, err
		}

		return Delivered{Sender: sender, Text: text}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
}

func typeOf(obj wire.Object) (string, error) {
	typ, ok := obj["type"].(string)
	if !ok {
		return "", ErrMissingType
	}

	return typ, nil
}

func requireString(obj wire.Object, key string) (string, error) {
	v, ok := obj[key].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}

	return v, nil
}
