// Package delivery persists chat messages and fans them out to the
// participants connected to this instance.
package delivery

import (
	"context"
	"fmt"
	"strings"

	"chatrelay/backend/internal/apperr"
	"chatrelay/backend/internal/metrics"
	"chatrelay/backend/internal/models"
	"chatrelay/backend/internal/presence"

	"github.com/rs/zerolog/log"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Store is the slice of storage.Storage the pipeline needs.
type Store interface {
	GetRoom(ctx context.Context, roomID uint) (*models.ChatRoom, error)
	IsParticipant(ctx context.Context, roomID, userID uint) (bool, error)
	ListParticipants(ctx context.Context, roomID uint) ([]uint, error)
	SaveMessage(ctx context.Context, msg *models.Message) ([]uint, error)
	ListRoomMessages(ctx context.Context, roomID uint, limit int, beforeID uint) ([]models.Message, error)
	SoftDeleteMessage(ctx context.Context, messageID, senderID uint) (*models.Message, error)
}

// Presence is the view of live connections the pipeline fans out through.
type Presence interface {
	Lookup(userID uint) (presence.Conn, bool)
	Connections() []presence.Conn
}

// RoomResolver maps a user pair to its private room.
type RoomResolver interface {
	ResolvePrivate(ctx context.Context, a, b uint) (uint, error)
}

type DirectRequest struct {
	From uint
	To   models.Target
	Body string
	Kind models.MessageKind
}

type GroupRequest struct {
	From   uint
	RoomID uint
	Body   string
	Kind   models.MessageKind
}

type Pipeline struct {
	store    Store
	presence Presence
	rooms    RoomResolver
}

func NewPipeline(store Store, p Presence, rooms RoomResolver) *Pipeline {
	return &Pipeline{store: store, presence: p, rooms: rooms}
}

// SendDirect stores a message for one user, or for everyone when To is "all",
// then pushes it to whoever is connected. Nothing is pushed unless the message
// and its status rows were stored.
func (p *Pipeline) SendDirect(ctx context.Context, origin presence.Conn, req DirectRequest) (*models.Message, error) {
	if req.From == 0 {
		return nil, apperr.Validation("from is required")
	}
	if req.To.IsZero() {
		return nil, apperr.Validation("to is required")
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, apperr.Validation("msg is required")
	}

	if req.To.All {
		return p.broadcast(ctx, req)
	}

	roomID, err := p.rooms.ResolvePrivate(ctx, req.From, req.To.UserID)
	if err != nil {
		return nil, err
	}
	msg := &models.Message{RoomID: roomID, SenderID: req.From, Body: req.Body, Type: req.Kind}
	if _, err := p.store.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(metrics.ScopeDirect).Inc()

	evt := models.NewOutbound(models.EventChat, chatPayload(msg, req.To))
	sender := p.senderConn(origin, req.From)

	receiver, online := p.presence.Lookup(req.To.UserID)
	if !online {
		if sender != nil {
			sender.Deliver(models.NewOutbound(models.EventStatus, models.StatusPayload{
				Text: fmt.Sprintf("%d is not online, message stored", req.To.UserID),
			}))
		}
		return msg, nil
	}
	fanOut(evt, receiver, sender)
	return msg, nil
}

// broadcast stores the message in the reserved room and pushes it to every
// live connection. No status rows exist for broadcast messages.
func (p *Pipeline) broadcast(ctx context.Context, req DirectRequest) (*models.Message, error) {
	msg := &models.Message{RoomID: models.BroadcastRoomID, SenderID: req.From, Body: req.Body, Type: req.Kind}
	if _, err := p.store.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(metrics.ScopeBroadcast).Inc()
	fanOut(models.NewOutbound(models.EventChat, chatPayload(msg, req.To)), p.presence.Connections()...)
	return msg, nil
}

// SendGroup stores a message in a group the sender belongs to and pushes it
// to every participant connected here, the sender included.
func (p *Pipeline) SendGroup(ctx context.Context, origin presence.Conn, req GroupRequest) (*models.Message, error) {
	if req.From == 0 {
		return nil, apperr.Validation("from is required")
	}
	if req.RoomID == models.BroadcastRoomID {
		return nil, apperr.Validation("room_id is required")
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, apperr.Validation("msg is required")
	}
	if _, err := p.store.GetRoom(ctx, req.RoomID); err != nil {
		return nil, err
	}
	member, err := p.store.IsParticipant(ctx, req.RoomID, req.From)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, apperr.Unauthorized("user %d is not a member of room %d", req.From, req.RoomID)
	}

	msg := &models.Message{RoomID: req.RoomID, SenderID: req.From, Body: req.Body, Type: req.Kind}
	recipients, err := p.store.SaveMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(metrics.ScopeGroup).Inc()

	evt := models.NewOutbound(models.EventGroupChat, models.GroupChatPayload{
		From:      msg.SenderID,
		RoomID:    msg.RoomID,
		Msg:       msg.Body,
		MessageID: msg.ID,
		Type:      msg.Type,
		CreatedAt: msg.CreatedAt,
	})
	targets := []presence.Conn{p.senderConn(origin, req.From)}
	for _, uid := range recipients {
		if c, ok := p.presence.Lookup(uid); ok {
			targets = append(targets, c)
		}
	}
	delivered := fanOut(evt, targets...)
	log.Debug().Uint("room_id", msg.RoomID).Uint("message_id", msg.ID).
		Int("recipients", len(recipients)).Int("delivered", delivered).Msg("group message sent")
	return msg, nil
}

// History returns up to limit messages of a room older than beforeID (0 for
// the newest), oldest first. Only participants may read a room; the broadcast
// room is readable by everyone.
func (p *Pipeline) History(ctx context.Context, userID, roomID uint, limit int, beforeID uint) ([]models.Message, error) {
	if userID == 0 {
		return nil, apperr.Validation("user_id is required")
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	if roomID != models.BroadcastRoomID {
		if _, err := p.store.GetRoom(ctx, roomID); err != nil {
			return nil, err
		}
		member, err := p.store.IsParticipant(ctx, roomID, userID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, apperr.Unauthorized("user %d is not a member of room %d", userID, roomID)
		}
	}
	return p.store.ListRoomMessages(ctx, roomID, limit, beforeID)
}

// Delete soft-deletes a message written by userID and tells the room.
func (p *Pipeline) Delete(ctx context.Context, origin presence.Conn, messageID, userID uint) (*models.Message, error) {
	if messageID == 0 || userID == 0 {
		return nil, apperr.Validation("message_id and user_id are required")
	}
	msg, err := p.store.SoftDeleteMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	evt := models.NewOutbound(models.EventMessageDeleted, models.MessageDeleted{MessageID: msg.ID, RoomID: msg.RoomID})

	if msg.RoomID == models.BroadcastRoomID {
		fanOut(evt, p.presence.Connections()...)
		return msg, nil
	}
	targets := []presence.Conn{p.senderConn(origin, userID)}
	participants, err := p.store.ListParticipants(ctx, msg.RoomID)
	if err != nil {
		log.Warn().Err(err).Uint("room_id", msg.RoomID).Msg("deleted message not announced to room")
	}
	for _, uid := range participants {
		if c, ok := p.presence.Lookup(uid); ok {
			targets = append(targets, c)
		}
	}
	fanOut(evt, targets...)
	return msg, nil
}

func (p *Pipeline) senderConn(origin presence.Conn, from uint) presence.Conn {
	if origin != nil {
		return origin
	}
	if c, ok := p.presence.Lookup(from); ok {
		return c
	}
	return nil
}

func chatPayload(msg *models.Message, to models.Target) models.ChatPayload {
	return models.ChatPayload{
		From:      msg.SenderID,
		To:        to,
		Msg:       msg.Body,
		MessageID: msg.ID,
		RoomID:    msg.RoomID,
		Type:      msg.Type,
		CreatedAt: msg.CreatedAt,
	}
}

// fanOut delivers evt once per distinct connection and returns how many
// accepted it.
func fanOut(evt models.Outbound, conns ...presence.Conn) int {
	seen := make(map[string]bool, len(conns))
	n := 0
	for _, c := range conns {
		if c == nil || seen[c.Handle()] {
			continue
		}
		seen[c.Handle()] = true
		if c.Deliver(evt) {
			n++
		}
	}
	return n
}
