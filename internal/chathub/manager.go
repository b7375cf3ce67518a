package chathub

import (
	"context"
	"errors"
	"fmt"

	"chatrelay/backend/internal/apperr"
	"chatrelay/backend/internal/delivery"
	"chatrelay/backend/internal/metrics"
	"chatrelay/backend/internal/models"
	"chatrelay/backend/internal/presence"
	"chatrelay/backend/internal/rooms"
	"chatrelay/backend/internal/status"
	"chatrelay/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

// ManagerService routes every inbound event of every connection to the
// presence, room, delivery and status components.
type ManagerService struct {
	Registry *presence.Registry
	Rooms    *rooms.Resolver
	Delivery *delivery.Pipeline
	Status   *status.Tracker
	Storage  storage.Storage

	// InstanceID tags presence notifications published by this process.
	InstanceID string
}

func NewManagerService(s storage.Storage, instanceID string) *ManagerService {
	registry := presence.NewRegistry(s)
	resolver := rooms.NewResolver(s)
	return &ManagerService{
		Registry:   registry,
		Rooms:      resolver,
		Delivery:   delivery.NewPipeline(s, registry, resolver),
		Status:     status.NewTracker(s),
		Storage:    s,
		InstanceID: instanceID,
	}
}

// Connect makes c reachable by broadcasts before it registers.
func (m *ManagerService) Connect(c Client) {
	m.Registry.Attach(c)
	metrics.WsConnections.Inc()
	log.Debug().Str("handle", c.Handle()).Uint("user_id", c.Identity()).Msg("client connected")
}

// Disconnect unregisters c. Remaining connections, here and on other
// instances, learn the new online set.
func (m *ManagerService) Disconnect(ctx context.Context, c Client) {
	metrics.WsConnections.Dec()
	userID, removed, err := m.Registry.Unregister(ctx, c)
	if err != nil {
		log.Warn().Err(err).Str("handle", c.Handle()).Msg("unregister degraded")
	}
	if removed {
		m.publishPresence(ctx)
		log.Info().Uint("user_id", userID).Str("handle", c.Handle()).Msg("user went offline")
	}
}

// CloseAll closes every local connection, registered or not. The pumps then
// run their normal disconnect path.
func (m *ManagerService) CloseAll() int {
	n := 0
	for _, conn := range m.Registry.Connections() {
		if c, ok := conn.(Client); ok {
			c.Close()
			n++
		}
	}
	log.Info().Int("clients", n).Msg("closed websocket clients")
	return n
}

// HandleRaw decodes one frame from c and dispatches it.
func (m *ManagerService) HandleRaw(ctx context.Context, c Client, frame []byte) {
	in, err := models.DecodeInbound(frame)
	if err != nil {
		m.replyError(c, "decode", apperr.Validation("%v", err))
		return
	}
	m.Dispatch(ctx, c, in)
}

// Dispatch runs the handler of one inbound event.
func (m *ManagerService) Dispatch(ctx context.Context, c Client, in models.Inbound) {
	switch ev := in.(type) {
	case *models.RegisterRequest:
		m.handleRegister(ctx, c, ev)
	case *models.ChatRequest:
		m.handleChat(ctx, c, ev)
	case *models.GroupChatRequest:
		m.handleGroupChat(ctx, c, ev)
	case *models.CreateGroupRequest:
		m.handleCreateGroup(ctx, c, ev)
	case *models.MarkDeliveredRequest:
		m.handleMark(ctx, c, ev.Event(), ev.StatusUpdate, m.Status.MarkDelivered)
	case *models.MarkReadRequest:
		m.handleMark(ctx, c, ev.Event(), ev.StatusUpdate, m.Status.MarkRead)
	case *models.FetchUnreadRequest:
		m.handleFetchUnread(ctx, c, ev)
	case *models.FetchHistoryRequest:
		m.handleFetchHistory(ctx, c, ev)
	case *models.DeleteMessageRequest:
		m.handleDelete(ctx, c, ev)
	default:
		m.replyError(c, string(in.Event()), fmt.Errorf("%w %q", models.ErrUnknownEvent, in.Event()))
	}
}

// actAs checks that c acts as the user it authenticated as.
func actAs(c Client, userID uint) error {
	if userID == 0 {
		return apperr.Validation("user id is required")
	}
	if id := c.Identity(); id != 0 && id != userID {
		return apperr.Unauthorized("connection of user %d cannot act as user %d", id, userID)
	}
	return nil
}

func (m *ManagerService) handleRegister(ctx context.Context, c Client, req *models.RegisterRequest) {
	userID := req.Identity()
	fail := func(msg string) {
		metrics.EventErrorsTotal.WithLabelValues(string(models.EventRegister)).Inc()
		c.Deliver(models.NewOutbound(models.EventRegisterResponse, models.RegisterResponse{Success: false, Message: msg}))
	}
	if userID == 0 {
		fail("Missing user_id")
		return
	}
	if err := actAs(c, userID); err != nil {
		fail(apperr.Message(err))
		return
	}

	err := m.Registry.Register(ctx, userID, c)
	switch {
	case err == nil, errors.Is(err, apperr.ErrPresenceStoreUnavailable):
	case errors.Is(err, apperr.ErrNotFound):
		log.Warn().Uint("user_id", userID).Str("handle", c.Handle()).Msg("register for unknown user")
		fail("Invalid user_id")
		return
	default:
		log.Error().Err(err).Uint("user_id", userID).Str("handle", c.Handle()).Msg("register failed")
		fail(apperr.Message(err))
		return
	}

	c.Deliver(models.NewOutbound(models.EventRegisterResponse, models.RegisterResponse{
		Success: true,
		Message: "registered",
		UserID:  userID,
		Handle:  c.Handle(),
	}))
	m.Registry.Broadcast(models.NewOutbound(models.EventStatus, models.StatusPayload{
		Text: fmt.Sprintf("User %d joined the chat", userID),
	}))
	m.publishPresence(ctx)
	log.Info().Uint("user_id", userID).Str("handle", c.Handle()).Msg("user registered")
}

func (m *ManagerService) handleChat(ctx context.Context, c Client, req *models.ChatRequest) {
	if err := actAs(c, uint(req.From)); err != nil {
		m.replyError(c, string(req.Event()), err)
		return
	}
	_, err := m.Delivery.SendDirect(ctx, c, delivery.DirectRequest{
		From: uint(req.From),
		To:   req.To,
		Body: req.Msg,
		Kind: req.Type,
	})
	if err != nil {
		m.replyError(c, string(req.Event()), err)
	}
}

func (m *ManagerService) handleGroupChat(ctx context.Context, c Client, req *models.GroupChatRequest) {
	if err := actAs(c, uint(req.From)); err != nil {
		m.replyError(c, string(req.Event()), err)
		return
	}
	_, err := m.Delivery.SendGroup(ctx, c, delivery.GroupRequest{
		From:   uint(req.From),
		RoomID: uint(req.RoomID),
		Body:   req.Msg,
		Kind:   req.Type,
	})
	if err != nil {
		m.replyError(c, string(req.Event()), err)
	}
}

func (m *ManagerService) handleCreateGroup(ctx context.Context, c Client, req *models.CreateGroupRequest) {
	reply := func(resp models.CreateGroupResponse) {
		c.Deliver(models.NewOutbound(models.EventCreateGroupResponse, resp))
	}
	if err := actAs(c, uint(req.CreatedBy)); err != nil {
		m.countError(c, string(req.Event()), err)
		reply(models.CreateGroupResponse{Success: false, Message: apperr.Message(err)})
		return
	}
	members := make([]uint, len(req.UserIDs))
	for i, id := range req.UserIDs {
		members[i] = uint(id)
	}
	roomID, err := m.Rooms.CreateGroup(ctx, req.Name, uint(req.CreatedBy), members)
	if err != nil {
		m.countError(c, string(req.Event()), err)
		reply(models.CreateGroupResponse{Success: false, Message: apperr.Message(err)})
		return
	}
	reply(models.CreateGroupResponse{Success: true, RoomID: roomID})
}

func (m *ManagerService) handleMark(ctx context.Context, c Client, event models.EventName, req models.StatusUpdate, mark func(context.Context, uint, uint) error) {
	if err := actAs(c, uint(req.UserID)); err != nil {
		m.replyError(c, string(event), err)
		return
	}
	if err := mark(ctx, uint(req.MessageID), uint(req.UserID)); err != nil {
		m.replyError(c, string(event), err)
	}
}

func (m *ManagerService) handleFetchUnread(ctx context.Context, c Client, req *models.FetchUnreadRequest) {
	reply := func(resp models.FetchUnreadResponse) {
		c.Deliver(models.NewOutbound(models.EventFetchUnreadResponse, resp))
	}
	if err := actAs(c, uint(req.UserID)); err != nil {
		m.countError(c, string(req.Event()), err)
		reply(models.FetchUnreadResponse{Success: false, Messages: []models.Message{}, Message: apperr.Message(err)})
		return
	}
	msgs, err := m.Status.FetchUnread(ctx, uint(req.UserID))
	if err != nil {
		m.countError(c, string(req.Event()), err)
		reply(models.FetchUnreadResponse{Success: false, Messages: []models.Message{}, Message: apperr.Message(err)})
		return
	}
	reply(models.FetchUnreadResponse{Success: true, Messages: msgs})
}

func (m *ManagerService) handleFetchHistory(ctx context.Context, c Client, req *models.FetchHistoryRequest) {
	reply := func(resp models.FetchHistoryResponse) {
		c.Deliver(models.NewOutbound(models.EventFetchHistoryResponse, resp))
	}
	if req.RoomID == nil {
		err := apperr.Validation("room_id is required")
		m.countError(c, string(req.Event()), err)
		reply(models.FetchHistoryResponse{Success: false, Messages: []models.Message{}, Message: apperr.Message(err)})
		return
	}
	roomID := uint(*req.RoomID)
	if err := actAs(c, uint(req.UserID)); err != nil {
		m.countError(c, string(req.Event()), err)
		reply(models.FetchHistoryResponse{Success: false, RoomID: roomID, Messages: []models.Message{}, Message: apperr.Message(err)})
		return
	}
	msgs, err := m.Delivery.History(ctx, uint(req.UserID), roomID, req.Limit, uint(req.BeforeID))
	if err != nil {
		m.countError(c, string(req.Event()), err)
		reply(models.FetchHistoryResponse{Success: false, RoomID: roomID, Messages: []models.Message{}, Message: apperr.Message(err)})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	reply(models.FetchHistoryResponse{Success: true, RoomID: roomID, Messages: msgs})
}

func (m *ManagerService) handleDelete(ctx context.Context, c Client, req *models.DeleteMessageRequest) {
	if err := actAs(c, uint(req.UserID)); err != nil {
		m.replyError(c, string(req.Event()), err)
		return
	}
	if _, err := m.Delivery.Delete(ctx, c, uint(req.MessageID), uint(req.UserID)); err != nil {
		m.replyError(c, string(req.Event()), err)
	}
}

func (m *ManagerService) countError(c Client, event string, err error) {
	metrics.EventErrorsTotal.WithLabelValues(event).Inc()
	ev := log.Warn()
	if !errors.Is(err, apperr.ErrValidation) && !errors.Is(err, apperr.ErrUnauthorized) && !errors.Is(err, apperr.ErrNotFound) {
		ev = log.Error()
	}
	ev.Err(err).Str("event", event).Str("handle", c.Handle()).Uint("user_id", c.Identity()).Msg("event failed")
}

func (m *ManagerService) replyError(c Client, event string, err error) {
	m.countError(c, event, err)
	c.Deliver(models.NewOutbound(models.EventError, models.ErrorPayload{Text: apperr.Message(err)}))
}
