package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// EventName tags a frame on the wire.
type EventName string

const (
	EventRegister             EventName = "register"
	EventRegisterResponse     EventName = "register_response"
	EventOnlineUsers          EventName = "online_users"
	EventChat                 EventName = "chat"
	EventGroupChat            EventName = "group_chat"
	EventStatus               EventName = "status"
	EventError                EventName = "error"
	EventCreateGroup          EventName = "create_group"
	EventCreateGroupResponse  EventName = "create_group_response"
	EventMarkDelivered        EventName = "mark_delivered"
	EventMarkRead             EventName = "mark_read"
	EventFetchUnread          EventName = "fetch_unread"
	EventFetchUnreadResponse  EventName = "fetch_unread_response"
	EventFetchHistory         EventName = "fetch_history"
	EventFetchHistoryResponse EventName = "fetch_history_response"
	EventDeleteMessage        EventName = "delete_message"
	EventMessageDeleted       EventName = "message_deleted"
)

// BroadcastTarget is the "to" value addressing every live connection.
const BroadcastTarget = "all"

var errBadID = errors.New("identifier must be a positive integer")

// FlexID is a user, room or message identifier that clients may send either
// as a JSON number or as a numeric string. Zero means absent.
type FlexID uint

func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*id = 0
			return nil
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", errBadID, s)
	}
	*id = FlexID(v)
	return nil
}

// Target is the "to" field of a chat event: a user identity or "all".
type Target struct {
	All    bool
	UserID uint
}

func (t Target) IsZero() bool { return !t.All && t.UserID == 0 }

func (t Target) MarshalJSON() ([]byte, error) {
	if t.All {
		return json.Marshal(BroadcastTarget)
	}
	return json.Marshal(t.UserID)
}

func (t *Target) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == BroadcastTarget {
			*t = Target{All: true}
			return nil
		}
	}
	var id FlexID
	if err := id.UnmarshalJSON(b); err != nil {
		return err
	}
	*t = Target{UserID: uint(id)}
	return nil
}

// Inbound is implemented by every event a client may send. The set is closed:
// DecodeInbound is the only constructor and the hub switches over it.
type Inbound interface {
	Event() EventName
}

type RegisterRequest struct {
	UserID FlexID `json:"user_id"`
	// Legacy clients send "userid" or "id".
	LegacyUserID FlexID `json:"userid"`
	ID           FlexID `json:"id"`
}

func (RegisterRequest) Event() EventName { return EventRegister }

// Identity returns the first identifier present.
func (r RegisterRequest) Identity() uint {
	for _, id := range []FlexID{r.UserID, r.LegacyUserID, r.ID} {
		if id != 0 {
			return uint(id)
		}
	}
	return 0
}

type ChatRequest struct {
	From FlexID      `json:"from"`
	To   Target      `json:"to"`
	Msg  string      `json:"msg"`
	Type MessageKind `json:"type,omitempty"`
}

func (ChatRequest) Event() EventName { return EventChat }

type GroupChatRequest struct {
	From   FlexID      `json:"from"`
	RoomID FlexID      `json:"room_id"`
	Msg    string      `json:"msg"`
	Type   MessageKind `json:"type,omitempty"`
}

func (GroupChatRequest) Event() EventName { return EventGroupChat }

type CreateGroupRequest struct {
	Name      string   `json:"name"`
	CreatedBy FlexID   `json:"created_by"`
	UserIDs   []FlexID `json:"user_ids"`
}

func (CreateGroupRequest) Event() EventName { return EventCreateGroup }

// StatusUpdate is the payload shared by mark_delivered and mark_read.
type StatusUpdate struct {
	MessageID FlexID `json:"message_id"`
	UserID    FlexID `json:"user_id"`
}

type MarkDeliveredRequest struct{ StatusUpdate }

func (MarkDeliveredRequest) Event() EventName { return EventMarkDelivered }

type MarkReadRequest struct{ StatusUpdate }

func (MarkReadRequest) Event() EventName { return EventMarkRead }

type FetchUnreadRequest struct {
	UserID FlexID `json:"user_id"`
}

func (FetchUnreadRequest) Event() EventName { return EventFetchUnread }

// FetchHistoryRequest asks for a page of a room. A nil RoomID means the field
// was absent; 0 names the broadcast room.
type FetchHistoryRequest struct {
	UserID   FlexID  `json:"user_id"`
	RoomID   *FlexID `json:"room_id"`
	Limit    int     `json:"limit,omitempty"`
	BeforeID FlexID  `json:"before_id,omitempty"`
}

func (FetchHistoryRequest) Event() EventName { return EventFetchHistory }

type DeleteMessageRequest struct {
	MessageID FlexID `json:"message_id"`
	UserID    FlexID `json:"user_id"`
}

func (DeleteMessageRequest) Event() EventName { return EventDeleteMessage }

// Envelope is the frame every event travels in.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrUnknownEvent is returned for an envelope naming no inbound event.
var ErrUnknownEvent = errors.New("unknown event")

// DecodeInbound parses one frame into its concrete inbound event.
func DecodeInbound(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var in Inbound
	switch env.Event {
	case EventRegister:
		in = &RegisterRequest{}
	case EventChat:
		in = &ChatRequest{}
	case EventGroupChat:
		in = &GroupChatRequest{}
	case EventCreateGroup:
		in = &CreateGroupRequest{}
	case EventMarkDelivered:
		in = &MarkDeliveredRequest{}
	case EventMarkRead:
		in = &MarkReadRequest{}
	case EventFetchUnread:
		in = &FetchUnreadRequest{}
	case EventFetchHistory:
		in = &FetchHistoryRequest{}
	case EventDeleteMessage:
		in = &DeleteMessageRequest{}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEvent, env.Event)
	}

	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, in); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
	}
	return in, nil
}

// Outbound is one server-to-client event.
type Outbound struct {
	Event EventName `json:"event"`
	Data  any       `json:"data,omitempty"`
}

func NewOutbound(event EventName, data any) Outbound {
	return Outbound{Event: event, Data: data}
}

// Encode renders the event as a wire frame.
func (o Outbound) Encode() ([]byte, error) {
	return json.Marshal(o)
}

type RegisterResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	UserID  uint   `json:"user_id,omitempty"`
	Handle  string `json:"handle,omitempty"`
}

type OnlineUsers struct {
	Users []uint `json:"users"`
}

type ChatPayload struct {
	From      uint        `json:"from"`
	To        Target      `json:"to"`
	Msg       string      `json:"msg"`
	MessageID uint        `json:"message_id"`
	RoomID    uint        `json:"room_id"`
	Type      MessageKind `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

type GroupChatPayload struct {
	From      uint        `json:"from"`
	RoomID    uint        `json:"room_id"`
	Msg       string      `json:"msg"`
	MessageID uint        `json:"message_id"`
	Type      MessageKind `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

type StatusPayload struct {
	Text string `json:"text"`
}

type ErrorPayload struct {
	Text string `json:"text"`
}

type CreateGroupResponse struct {
	Success bool   `json:"success"`
	RoomID  uint   `json:"room_id,omitempty"`
	Message string `json:"message,omitempty"`
}

type FetchUnreadResponse struct {
	Success  bool      `json:"success"`
	Messages []Message `json:"messages"`
	Message  string    `json:"message,omitempty"`
}

type FetchHistoryResponse struct {
	Success  bool      `json:"success"`
	RoomID   uint      `json:"room_id"`
	Messages []Message `json:"messages"`
	Message  string    `json:"message,omitempty"`
}

type MessageDeleted struct {
	MessageID uint `json:"message_id"`
	RoomID    uint `json:"room_id"`
}
