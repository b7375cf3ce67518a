// Package storagetest provides an in-memory storage.Storage for tests of the
// layers above the datastore.
package storagetest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"chatrelay/backend/internal/apperr"
	"chatrelay/backend/internal/models"
	"chatrelay/backend/internal/storage"
)

var errInjected = errors.New("injected failure")

type statusKey struct{ messageID, userID uint }

// Memory mirrors the relational schema with maps. Set FailWrites or
// FailPresence to simulate an unreachable datastore or online set.
type Memory struct {
	mu sync.Mutex

	users    map[uint]*models.User
	rooms    map[uint]*models.ChatRoom
	members  map[uint]map[uint]bool
	messages map[uint]*models.Message
	statuses map[statusKey]models.DeliveryStatus
	online   map[uint]bool
	subs     []chan string

	nextRoom    uint
	nextMessage uint
	now         func() time.Time

	FailWrites   bool
	FailReads    bool
	FailPresence bool

	// RoomsCreated counts rows inserted by CreatePrivateRoom and CreateGroupRoom.
	RoomsCreated int
	Published    []string
}

var _ storage.Storage = (*Memory)(nil)

// NewMemory returns a store holding the admin user and the broadcast room.
func NewMemory() *Memory {
	m := &Memory{
		users:       map[uint]*models.User{},
		rooms:       map[uint]*models.ChatRoom{},
		members:     map[uint]map[uint]bool{},
		messages:    map[uint]*models.Message{},
		statuses:    map[statusKey]models.DeliveryStatus{},
		online:      map[uint]bool{},
		nextRoom:    1,
		nextMessage: 1,
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int64
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	m.AddUsers(models.BroadcastOwnerID)
	name := "Broadcast"
	m.rooms[models.BroadcastRoomID] = &models.ChatRoom{
		ID:        models.BroadcastRoomID,
		Name:      &name,
		CreatedBy: models.BroadcastOwnerID,
		IsGroup:   true,
		CreatedAt: base,
	}
	return m
}

// AddUsers creates bare user rows.
func (m *Memory) AddUsers(ids ...uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if _, ok := m.users[id]; !ok {
			m.users[id] = &models.User{ID: id}
		}
	}
}

// SessionHandle returns the recorded handle of a user, or "".
func (m *Memory) SessionHandle(userID uint) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok && u.SessionHandle != nil {
		return *u.SessionHandle
	}
	return ""
}

// Status returns the recorded status of a (message, user) pair.
func (m *Memory) Status(messageID, userID uint) (models.DeliveryStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[statusKey{messageID, userID}]
	return s, ok
}

// StatusRows counts the status rows of a message.
func (m *Memory) StatusRows(messageID uint) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.statuses {
		if k.messageID == messageID {
			n++
		}
	}
	return n
}

// Messages returns every stored message in insertion order.
func (m *Memory) Messages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		out = append(out, *msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) writeErr(op string) error {
	if m.FailWrites {
		return apperr.Persistence(op, errInjected)
	}
	return nil
}

func (m *Memory) readErr(op string) error {
	if m.FailReads {
		return apperr.Persistence(op, errInjected)
	}
	return nil
}

func (m *Memory) SetSessionHandle(_ context.Context, userID uint, handle string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("set session handle"); err != nil {
		return false, err
	}
	u, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	h := handle
	u.SessionHandle = &h
	return true, nil
}

func (m *Memory) ClearSessionHandle(_ context.Context, userID uint, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("clear session handle"); err != nil {
		return err
	}
	if u, ok := m.users[userID]; ok && u.SessionHandle != nil && *u.SessionHandle == handle {
		u.SessionHandle = nil
	}
	return nil
}

func (m *Memory) CountUsers(_ context.Context, ids []uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr("count users"); err != nil {
		return 0, err
	}
	seen := map[uint]bool{}
	var n int64
	for _, id := range ids {
		if _, ok := m.users[id]; ok && !seen[id] {
			seen[id] = true
			n++
		}
	}
	return n, nil
}

func (m *Memory) FindPrivateRoom(_ context.Context, a, b uint) (*models.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr("find private room"); err != nil {
		return nil, err
	}
	lo, hi := models.NormalizePair(a, b)
	ids := make([]uint, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		r := m.rooms[id]
		if id == models.BroadcastRoomID || r.IsGroup {
			continue
		}
		if lo == hi && (r.PairKey == nil || *r.PairKey != models.PairKey(lo, hi)) {
			continue
		}
		if m.members[id][lo] && m.members[id][hi] {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreatePrivateRoom(_ context.Context, a, b uint) (*models.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("create private room"); err != nil {
		return nil, err
	}
	lo, hi := models.NormalizePair(a, b)
	key := models.PairKey(lo, hi)
	for _, r := range m.rooms {
		if r.PairKey != nil && *r.PairKey == key {
			cp := *r
			return &cp, nil
		}
	}
	room := &models.ChatRoom{ID: m.nextRoom, CreatedBy: lo, PairKey: &key, CreatedAt: m.now()}
	m.nextRoom++
	m.rooms[room.ID] = room
	m.members[room.ID] = map[uint]bool{lo: true, hi: true}
	m.RoomsCreated++
	cp := *room
	return &cp, nil
}

func (m *Memory) CreateGroupRoom(_ context.Context, name string, creator uint, members []uint) (*models.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("create group room"); err != nil {
		return nil, err
	}
	room := &models.ChatRoom{ID: m.nextRoom, CreatedBy: creator, IsGroup: true, CreatedAt: m.now()}
	if name = strings.TrimSpace(name); name != "" {
		room.Name = &name
	}
	m.nextRoom++
	m.rooms[room.ID] = room
	set := map[uint]bool{}
	for _, id := range members {
		set[id] = true
	}
	m.members[room.ID] = set
	m.RoomsCreated++
	cp := *room
	return &cp, nil
}

func (m *Memory) GetRoom(_ context.Context, roomID uint) (*models.ChatRoom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr("get room"); err != nil {
		return nil, err
	}
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, apperr.NotFound("room %d", roomID)
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) ListParticipants(_ context.Context, roomID uint) ([]uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr("list participants"); err != nil {
		return nil, err
	}
	return m.participantsLocked(roomID, 0), nil
}

func (m *Memory) participantsLocked(roomID, except uint) []uint {
	var ids []uint
	for id := range m.members[roomID] {
		if id != except {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *Memory) IsParticipant(_ context.Context, roomID, userID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr("check participant"); err != nil {
		return false, err
	}
	return m.members[roomID][userID], nil
}

func (m *Memory) SaveMessage(_ context.Context, msg *models.Message) ([]uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("save message"); err != nil {
		return nil, err
	}
	msg.ID = m.nextMessage
	m.nextMessage++
	msg.Type = msg.Type.OrDefault()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	cp := *msg
	m.messages[msg.ID] = &cp
	if r, ok := m.rooms[msg.RoomID]; ok {
		at := msg.CreatedAt
		r.LastMessageAt = &at
	}
	recipients := m.participantsLocked(msg.RoomID, msg.SenderID)
	for _, uid := range recipients {
		m.statuses[statusKey{msg.ID, uid}] = models.StatusSent
	}
	return recipients, nil
}

func (m *Memory) ListRoomMessages(_ context.Context, roomID uint, limit int, beforeID uint) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr("list room messages"); err != nil {
		return nil, err
	}
	var out []models.Message
	for _, msg := range m.messages {
		if msg.RoomID == roomID && (beforeID == 0 || msg.ID < beforeID) {
			out = append(out, *msg)
		}
	}
	sortMessages(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) SoftDeleteMessage(_ context.Context, messageID, senderID uint) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("delete message"); err != nil {
		return nil, err
	}
	msg, ok := m.messages[messageID]
	if !ok || msg.SenderID != senderID {
		return nil, apperr.NotFound("message %d of user %d", messageID, senderID)
	}
	msg.IsDeleted = true
	cp := *msg
	return &cp, nil
}

func (m *Memory) AdvanceStatus(_ context.Context, messageID, userID uint, to models.DeliveryStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr("advance status"); err != nil {
		return false, err
	}
	k := statusKey{messageID, userID}
	cur, ok := m.statuses[k]
	if !ok || cur.Rank() >= to.Rank() {
		return false, nil
	}
	m.statuses[k] = to
	return true, nil
}

func (m *Memory) ListUnread(_ context.Context, userID uint) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErr("list unread"); err != nil {
		return nil, err
	}
	var out []models.Message
	for k, s := range m.statuses {
		if k.userID == userID && s != models.StatusRead {
			if msg, ok := m.messages[k.messageID]; ok {
				out = append(out, *msg)
			}
		}
	}
	sortMessages(out)
	return out, nil
}

func sortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

func (m *Memory) presenceErr(op string) error {
	if m.FailPresence {
		return apperr.PresenceStore(op, errInjected)
	}
	return nil
}

func (m *Memory) AddOnline(_ context.Context, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.presenceErr("add online user"); err != nil {
		return err
	}
	m.online[userID] = true
	return nil
}

func (m *Memory) RemoveOnline(_ context.Context, userID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.presenceErr("remove online user"); err != nil {
		return err
	}
	delete(m.online, userID)
	return nil
}

func (m *Memory) OnlineMembers(_ context.Context) ([]uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.presenceErr("list online users"); err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(m.online))
	for id := range m.online {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) PublishPresenceChange(_ context.Context, origin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.presenceErr("publish presence change"); err != nil {
		return err
	}
	m.Published = append(m.Published, origin)
	for _, ch := range m.subs {
		select {
		case ch <- origin:
		default:
		}
	}
	return nil
}

func (m *Memory) SubscribePresence(ctx context.Context) (<-chan string, func() error) {
	ch := make(chan string, 16)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	var once sync.Once
	closeFn := func() error {
		once.Do(func() {
			m.mu.Lock()
			for i, c := range m.subs {
				if c == ch {
					m.subs = append(m.subs[:i], m.subs[i+1:]...)
					break
				}
			}
			close(ch)
			m.mu.Unlock()
		})
		return nil
	}
	go func() {
		<-ctx.Done()
		_ = closeFn()
	}()
	return ch, closeFn
}
