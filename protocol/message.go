// Package protocol defines the relay's message set and converts between
// decoded JSON objects and typed messages.
//
// The wire reuses two type tags for both directions: "login" carries a login
// request from a client and a login result from the server, and "message"
// carries a chat line to the server and a delivered chat line to a client.
// ParseClient and ParseServer resolve that ambiguity by direction.
package protocol

import (
	"encoding/json"
)

// Wire type tags.
const (
	TypeLogin            = "login"
	TypeNewUser          = "new user"
	TypeUserDisconnected = "user disconnected"
	TypeMessage          = "message"
)

// ReasonDuplicateUsername is the rejection reason sent for a taken name.
const ReasonDuplicateUsername = "duplicate username"

// Kind identifies a message variant independent of its wire tag.
type Kind int

const (
	KindLogin Kind = iota
	KindLoginResult
	KindNewUser
	KindUserDisconnected
	KindChat
	KindDelivered
)

func (k Kind) String() string {
	switch k {
	case KindLogin:
		return "login"
	case KindLoginResult:
		return "loginResult"
	case KindNewUser:
		return "newUser"
	case KindUserDisconnected:
		return "userDisconnected"
	case KindChat:
		return "chat"
	case KindDelivered:
		return "delivered"
	default:
		return "unknown"
	}
}

// Message is implemented by every message variant. MarshalJSON emits the
// variant's wire object including its type tag.
type Message interface {
	json.Marshaler
	Kind() Kind
}

// Login is a client's request to take a display name.
type Login struct {
	Username string
}

// LoginResult answers a Login. Users lists the names that were already logged
// in and is only sent on success.
type LoginResult struct {
	Success bool
	Reason  string
	Users   []string
}

// NewUser announces a freshly logged in name.
type NewUser struct {
	Username string
}

// UserDisconnected announces that a logged in name has left.
type UserDisconnected struct {
	Username string
}

// Chat is a chat line sent by a client. A nil Recipient means broadcast.
type Chat struct {
	Text      string
	Recipient *string
}

// Delivered is a chat line as handed to its receivers.
type Delivered struct {
	Sender string
	Text   string
}

// To returns a pointer to name for use as Chat.Recipient.
func To(name string) *string {
	return &name
}

func (Login) Kind() Kind            { return KindLogin }
func (LoginResult) Kind() Kind      { return KindLoginResult }
func (NewUser) Kind() Kind          { return KindNewUser }
func (UserDisconnected) Kind() Kind { return KindUserDisconnected }
func (Chat) Kind() Kind             { return KindChat }
func (Delivered) Kind() Kind        { return KindDelivered }

func (m Login) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Username string `json:"username"`
	}{TypeLogin, m.Username})
}

func (m LoginResult) MarshalJSON() ([]byte, error) {
	if !m.Success {
		return json.Marshal(struct {
			Type    string `json:"type"`
			Success bool   `json:"success"`
			Reason  string `json:"reason,omitempty"`
		}{TypeLogin, false, m.Reason})
	}

	users := m.Users
	if users == nil {
		users = []string{}
	}

	return json.Marshal(struct {
		Type    string   `json:"type"`
		Success bool     `json:"success"`
		Users   []string `json:"users"`
	}{TypeLogin, true, users})
}

func (m NewUser) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Username string `json:"username"`
	}{TypeNewUser, m.Username})
}

func (m UserDisconnected) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Username string `json:"username"`
	}{TypeUserDisconnected, m.Username})
}

func (m Chat) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string  `json:"type"`
		Text      string  `json:"text"`
		Recipient *string `json:"recipient,omitempty"`
	}{TypeMessage, m.Text, m.Recipient})
}

func (m Delivered) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string `json:"type"`
		Sender string `json:"sender"`
		Text   string `json:"text"`
	}{TypeMessage, m.Sender, m.Text})
}
