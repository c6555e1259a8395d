// Package protocol defines the signaling wire protocol: one tagged JSON
// message per WebSocket text frame, exchanged between peers through the relay.
//
// Session descriptions and ICE candidates are carried as opaque blobs; the
// relay never interprets them, so a payload malformed at the media layer can
// only fail on the far peer.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type Kind string

const (
	KindJoin         Kind = "join"
	KindRoomUsers    Kind = "room-users"
	KindUserJoined   Kind = "user-joined"
	KindUserLeft     Kind = "user-left"
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
	KindPing         Kind = "ping"
	KindPong         Kind = "pong"
	KindError        Kind = "error"
)

// Message is the discriminated union of every signaling message. Only the
// fields belonging to Type may be set; Parse enforces this.
type Message struct {
	Type Kind `json:"type"`

	RoomID string `json:"roomId,omitempty"`
	UserID string `json:"userId,omitempty"`

	// Users is the occupant list sent to a joiner (excluding itself).
	Users []string `json:"users,omitempty"`

	// Opaque payloads owned by the media transport.
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// Message is the human-actionable text of an error message.
	Message string `json:"message,omitempty"`
}

// Relayed reports whether the message is forwarded verbatim between room
// occupants rather than handled by the server.
func (m *Message) Relayed() bool {
	switch m.Type {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}

// Parse decodes and validates a single wire message. Unknown fields, trailing
// data, and field/kind mismatches are all rejected.
func Parse(data []byte) (*Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return nil, err
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == io.EOF:
	case err == nil:
		return nil, fmt.Errorf("unexpected trailing data")
	default:
		return nil, fmt.Errorf("unexpected trailing data: %w", err)
	}
	return &msg, nil
}

func (m *Message) validate() error {
	switch m.Type {
	case KindJoin:
		if m.RoomID == "" || m.UserID == "" {
			return fmt.Errorf("join message missing roomId/userId")
		}
		if len(m.Users) != 0 || m.Offer != nil || m.Answer != nil || m.Candidate != nil || m.Message != "" {
			return fmt.Errorf("join message has unexpected fields")
		}
	case KindRoomUsers:
		if m.RoomID != "" || m.UserID != "" || m.Offer != nil || m.Answer != nil || m.Candidate != nil || m.Message != "" {
			return fmt.Errorf("room-users message has unexpected fields")
		}
	case KindUserJoined, KindUserLeft:
		if m.UserID == "" {
			return fmt.Errorf("%s message missing userId", m.Type)
		}
		if len(m.Users) != 0 || m.Offer != nil || m.Answer != nil || m.Candidate != nil || m.Message != "" {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case KindOffer:
		if m.Offer == nil {
			return fmt.Errorf("offer message missing offer")
		}
		if m.RoomID == "" || m.UserID == "" {
			return fmt.Errorf("offer message missing roomId/userId")
		}
		if len(m.Users) != 0 || m.Answer != nil || m.Candidate != nil || m.Message != "" {
			return fmt.Errorf("offer message has unexpected fields")
		}
	case KindAnswer:
		if m.Answer == nil {
			return fmt.Errorf("answer message missing answer")
		}
		if m.RoomID == "" || m.UserID == "" {
			return fmt.Errorf("answer message missing roomId/userId")
		}
		if len(m.Users) != 0 || m.Offer != nil || m.Candidate != nil || m.Message != "" {
			return fmt.Errorf("answer message has unexpected fields")
		}
	case KindICECandidate:
		if m.Candidate == nil {
			return fmt.Errorf("ice-candidate message missing candidate")
		}
		if m.RoomID == "" || m.UserID == "" {
			return fmt.Errorf("ice-candidate message missing roomId/userId")
		}
		if len(m.Users) != 0 || m.Offer != nil || m.Answer != nil || m.Message != "" {
			return fmt.Errorf("ice-candidate message has unexpected fields")
		}
	case KindPing, KindPong:
		if m.RoomID != "" || m.UserID != "" || len(m.Users) != 0 || m.Offer != nil || m.Answer != nil || m.Candidate != nil || m.Message != "" {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case KindError:
		if m.Message == "" {
			return fmt.Errorf("error message missing message")
		}
		if m.RoomID != "" || m.UserID != "" || len(m.Users) != 0 || m.Offer != nil || m.Answer != nil || m.Candidate != nil {
			return fmt.Errorf("error message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

// Encode marshals a message for the wire.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// ErrorMessage builds a server->client error message.
func ErrorMessage(text string) *Message {
	return &Message{Type: KindError, Message: text}
}
