package delivery

import (
	"context"
	"testing"

	"chatrelay/backend/internal/apperr"
	"chatrelay/backend/internal/models"
	"chatrelay/backend/internal/presence"
	"chatrelay/backend/internal/presence/presencetest"
	"chatrelay/backend/internal/rooms"
	"chatrelay/backend/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mem      *storagetest.Memory
	registry *presence.Registry
	rooms    *rooms.Resolver
	pipeline *Pipeline
}

func newFixture(t *testing.T, users ...uint) *fixture {
	t.Helper()
	mem := storagetest.NewMemory()
	mem.AddUsers(users...)
	reg := presence.NewRegistry(mem)
	res := rooms.NewResolver(mem)
	return &fixture{mem: mem, registry: reg, rooms: res, pipeline: NewPipeline(mem, reg, res)}
}

func (f *fixture) connect(t *testing.T, userID uint, handle string) *presencetest.Conn {
	t.Helper()
	c := presencetest.NewConn(handle)
	require.NoError(t, f.registry.Register(context.Background(), userID, c))
	c.Reset()
	return c
}

func direct(from, to uint, body string) DirectRequest {
	return DirectRequest{From: from, To: models.Target{UserID: to}, Body: body}
}

func TestSendDirect_BothOnline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 7)
	c3 := f.connect(t, 3, "h3")
	c7 := f.connect(t, 7, "h7")

	msg, err := f.pipeline.SendDirect(ctx, c3, direct(3, 7, "hi"))
	require.NoError(t, err)

	for _, c := range []*presencetest.Conn{c3, c7} {
		chats := c.Named(models.EventChat)
		require.Len(t, chats, 1, c.Handle())
		payload := chats[0].Data.(models.ChatPayload)
		assert.Equal(t, uint(3), payload.From)
		assert.Equal(t, "hi", payload.Msg)
		assert.Equal(t, msg.ID, payload.MessageID)
		assert.Equal(t, msg.RoomID, payload.RoomID)
		assert.Equal(t, models.KindText, payload.Type)
	}

	s, ok := f.mem.Status(msg.ID, 7)
	require.True(t, ok)
	assert.Equal(t, models.StatusSent, s)
	assert.Equal(t, 1, f.mem.StatusRows(msg.ID))
}

func TestSendDirect_ExchangeSharesRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 7)

	first, err := f.pipeline.SendDirect(ctx, nil, direct(3, 7, "hi"))
	require.NoError(t, err)

	unread, err := f.mem.ListUnread(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, unread)
	unread, err = f.mem.ListUnread(ctx, 7)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "hi", unread[0].Body)

	second, err := f.pipeline.SendDirect(ctx, nil, direct(7, 3, "yo"))
	require.NoError(t, err)
	assert.Equal(t, first.RoomID, second.RoomID)
}

func TestSendDirect_ReceiverOffline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 7)
	c3 := f.connect(t, 3, "h3")

	msg, err := f.pipeline.SendDirect(ctx, c3, direct(3, 7, "are you there"))
	require.NoError(t, err)

	assert.Empty(t, c3.Named(models.EventChat))
	statuses := c3.Named(models.EventStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, "7 is not online, message stored", statuses[0].Data.(models.StatusPayload).Text)

	s, ok := f.mem.Status(msg.ID, 7)
	require.True(t, ok)
	assert.Equal(t, models.StatusSent, s)
}

func TestSendDirect_SupersededHandleGetsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 5)
	old := f.connect(t, 5, "h1")
	current := f.connect(t, 5, "h2")
	old.Reset()

	_, err := f.pipeline.SendDirect(ctx, nil, direct(3, 5, "ping"))
	require.NoError(t, err)

	assert.Empty(t, old.Named(models.EventChat))
	assert.Len(t, current.Named(models.EventChat), 1)
}

func TestSendDirect_Broadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 7)
	c3 := f.connect(t, 3, "h3")
	c7 := f.connect(t, 7, "h7")
	anon := presencetest.NewConn("anon")
	f.registry.Attach(anon)

	msg, err := f.pipeline.SendDirect(ctx, c3, DirectRequest{From: 3, To: models.Target{All: true}, Body: "hello all"})
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastRoomID, msg.RoomID)
	assert.Zero(t, f.mem.StatusRows(msg.ID))
	assert.Zero(t, f.mem.RoomsCreated)

	for _, c := range []*presencetest.Conn{c3, c7, anon} {
		chats := c.Named(models.EventChat)
		require.Len(t, chats, 1, c.Handle())
		assert.True(t, chats[0].Data.(models.ChatPayload).To.All)
	}
}

func TestSendDirect_PersistenceFailureDeliversNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 7)
	c3 := f.connect(t, 3, "h3")
	c7 := f.connect(t, 7, "h7")
	_, err := f.rooms.ResolvePrivate(ctx, 3, 7)
	require.NoError(t, err)
	f.mem.FailWrites = true
	c3.Reset()
	c7.Reset()

	_, err = f.pipeline.SendDirect(ctx, c3, direct(3, 7, "lost"))
	assert.ErrorIs(t, err, apperr.ErrPersistenceUnavailable)
	assert.Empty(t, c3.Events())
	assert.Empty(t, c7.Events())
	assert.Empty(t, f.mem.Messages())
}

func TestSendDirect_Validation(t *testing.T) {
	f := newFixture(t, 3, 7)
	ctx := context.Background()
	cases := map[string]DirectRequest{
		"missing from": {To: models.Target{UserID: 7}, Body: "x"},
		"missing to":   {From: 3, Body: "x"},
		"empty body":   {From: 3, To: models.Target{UserID: 7}, Body: "  "},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.pipeline.SendDirect(ctx, nil, req)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assert.Empty(t, f.mem.Messages())
}

func TestSendGroup_SeedsStatusForOthers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, 3)
	c1 := f.connect(t, 1, "h1")
	c2 := f.connect(t, 2, "h2")

	roomID, err := f.rooms.CreateGroup(ctx, "team", 1, []uint{1, 2, 3})
	require.NoError(t, err)

	msg, err := f.pipeline.SendGroup(ctx, c1, GroupRequest{From: 1, RoomID: roomID, Body: "hello"})
	require.NoError(t, err)

	assert.Equal(t, 2, f.mem.StatusRows(msg.ID))
	for _, uid := range []uint{2, 3} {
		s, ok := f.mem.Status(msg.ID, uid)
		require.True(t, ok)
		assert.Equal(t, models.StatusSent, s)
	}
	_, ok := f.mem.Status(msg.ID, 1)
	assert.False(t, ok)

	for _, c := range []*presencetest.Conn{c1, c2} {
		evts := c.Named(models.EventGroupChat)
		require.Len(t, evts, 1, c.Handle())
		assert.Equal(t, roomID, evts[0].Data.(models.GroupChatPayload).RoomID)
	}
}

func TestSendGroup_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, 3, 9)
	roomID, err := f.rooms.CreateGroup(ctx, "team", 2, []uint{2, 3})
	require.NoError(t, err)

	_, err = f.pipeline.SendGroup(ctx, nil, GroupRequest{From: 9, RoomID: roomID, Body: "let me in"})
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.pipeline.SendGroup(ctx, nil, GroupRequest{From: 2, RoomID: 404, Body: "hi"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.pipeline.SendGroup(ctx, nil, GroupRequest{From: 2, RoomID: models.BroadcastRoomID, Body: "hi"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Empty(t, f.mem.Messages())
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 7, 9)
	var roomID uint
	for _, body := range []string{"one", "two", "three"} {
		msg, err := f.pipeline.SendDirect(ctx, nil, direct(3, 7, body))
		require.NoError(t, err)
		roomID = msg.RoomID
	}

	page, err := f.pipeline.History(ctx, 7, roomID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "two", page[0].Body)
	assert.Equal(t, "three", page[1].Body)

	older, err := f.pipeline.History(ctx, 7, roomID, 0, page[0].ID)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, "one", older[0].Body)

	_, err = f.pipeline.History(ctx, 9, roomID, 0, 0)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.pipeline.History(ctx, 9, models.BroadcastRoomID, 0, 0)
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3, 7)
	c3 := f.connect(t, 3, "h3")
	c7 := f.connect(t, 7, "h7")
	msg, err := f.pipeline.SendDirect(ctx, c3, direct(3, 7, "oops"))
	require.NoError(t, err)
	c3.Reset()
	c7.Reset()

	_, err = f.pipeline.Delete(ctx, c7, msg.ID, 7)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	deleted, err := f.pipeline.Delete(ctx, c3, msg.ID, 3)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	for _, c := range []*presencetest.Conn{c3, c7} {
		evts := c.Named(models.EventMessageDeleted)
		require.Len(t, evts, 1, c.Handle())
		assert.Equal(t, msg.ID, evts[0].Data.(models.MessageDeleted).MessageID)
	}
}
