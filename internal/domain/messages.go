package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// WebSocket message types from client.
const (
	MsgTypeJoinRoom     = "join_room"
	MsgTypeLeaveRoom    = "leave_room"
	MsgTypeSendMessage  = "send_message"
	MsgTypeTyping       = "typing"
	MsgTypeClearHistory = "clear_history"
	MsgTypePing         = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeUserList       = "user_list"
	MsgTypeReceiveMessage = "receive_message"
	MsgTypeShowTyping     = "show_typing"
	MsgTypeHistoryCleared = "history_cleared"
	MsgTypeError          = "error"
	MsgTypePong           = "pong"
)

// Error codes
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
)

// DefaultAvatar is used when a join carries no avatar.
const DefaultAvatar = "default.png"

// ErrMalformedEvent is returned when an inbound event lacks a required field
// or exceeds a size limit.
var ErrMalformedEvent = errors.New("malformed event")

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformedEvent, field)
}

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type JoinRoomMessage struct {
	Type   string `json:"type"`
	Room   string `json:"room"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

func (m *JoinRoomMessage) Validate() error {
	if m.Room == "" {
		return missing("room")
	}
	if m.Name == "" {
		return missing("name")
	}
	return nil
}

type LeaveRoomMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Name string `json:"name"`
}

func (m *LeaveRoomMessage) Validate() error {
	if m.Room == "" {
		return missing("room")
	}
	if m.Name == "" {
		return missing("name")
	}
	return nil
}

type SendMessageMessage struct {
	Type    string `json:"type"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
	Room    string `json:"room"`

	hasMessage bool
}

// UnmarshalJSON records whether the message key was present, so an empty
// body is accepted and a missing one is not.
func (m *SendMessageMessage) UnmarshalJSON(data []byte) error {
	type plain SendMessageMessage
	var raw struct {
		plain
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = SendMessageMessage(raw.plain)
	if raw.Message != nil {
		m.Message = *raw.Message
		m.hasMessage = true
	}
	return nil
}

func (m *SendMessageMessage) Validate() error {
	if m.Sender == "" {
		return missing("sender")
	}
	if !m.hasMessage && m.Message == "" {
		return missing("message")
	}
	if m.Room == "" {
		return missing("room")
	}
	return nil
}

// CheckBodyLength rejects bodies longer than max bytes. max <= 0 disables
// the check.
func (m *SendMessageMessage) CheckBodyLength(max int) error {
	if max > 0 && len(m.Message) > max {
		return fmt.Errorf("%w: message longer than %d bytes", ErrMalformedEvent, max)
	}
	return nil
}

type TypingMessage struct {
	Type   string `json:"type"`
	Sender string `json:"sender"`
	Room   string `json:"room"`
}

func (m *TypingMessage) Validate() error {
	if m.Sender == "" {
		return missing("sender")
	}
	if m.Room == "" {
		return missing("room")
	}
	return nil
}

type ClearHistoryMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

func (m *ClearHistoryMessage) Validate() error {
	if m.Room == "" {
		return missing("room")
	}
	return nil
}

// Server -> Client messages

type UserListMessage struct {
	Type  string `json:"type"`
	Room  string `json:"room"`
	Users Roster `json:"users"`
}

func NewUserListMessage(room string, roster Roster) *UserListMessage {
	if roster == nil {
		roster = Roster{}
	}
	return &UserListMessage{
		Type:  MsgTypeUserList,
		Room:  room,
		Users: roster,
	}
}

// ReceiveMessageOut echoes a send_message payload with the server fields
// added. MessageID is empty when the message could not be persisted.
type ReceiveMessageOut struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Room      string `json:"room"`
	Timestamp int64  `json:"timestamp"`
}

func NewReceiveMessage(msg *Message) *ReceiveMessageOut {
	return &ReceiveMessageOut{
		Type:      MsgTypeReceiveMessage,
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Message:   msg.Body,
		Room:      msg.Room,
		Timestamp: msg.Timestamp.UnixMilli(),
	}
}

type ShowTypingMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Text string `json:"text"`
}

func NewShowTypingMessage(sender, room string) *ShowTypingMessage {
	return &ShowTypingMessage{
		Type: MsgTypeShowTyping,
		Room: room,
		Text: TypingText(sender),
	}
}

// TypingText formats the typing indicator shown to room members.
func TypingText(sender string) string {
	return sender + " is typing..."
}

type HistoryClearedMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

func NewHistoryClearedMessage(room string) *HistoryClearedMessage {
	return &HistoryClearedMessage{
		Type: MsgTypeHistoryCleared,
		Room: room,
	}
}

type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewPongMessage() *PongMessage {
	return &PongMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()}
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}
