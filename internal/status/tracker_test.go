package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatrelay/backend/internal/apperr"
	"chatrelay/backend/internal/models"
	"chatrelay/backend/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) AdvanceStatus(ctx context.Context, messageID, userID uint, to models.DeliveryStatus) (bool, error) {
	args := m.Called(ctx, messageID, userID, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ListUnread(ctx context.Context, userID uint) ([]models.Message, error) {
	args := m.Called(ctx, userID)
	msgs, _ := args.Get(0).([]models.Message)
	return msgs, args.Error(1)
}

func seedMessage(t *testing.T, mem *storagetest.Memory, from, to uint, body string) *models.Message {
	t.Helper()
	ctx := context.Background()
	room, err := mem.CreatePrivateRoom(ctx, from, to)
	require.NoError(t, err)
	msg := &models.Message{RoomID: room.ID, SenderID: from, Body: body}
	_, err = mem.SaveMessage(ctx, msg)
	require.NoError(t, err)
	return msg
}

func TestMarkRead_ThenDeliveredDoesNotRegress(t *testing.T) {
	ctx := context.Background()
	mem := storagetest.NewMemory()
	mem.AddUsers(3, 7)
	tr := NewTracker(mem)
	msg := seedMessage(t, mem, 3, 7, "hi")

	require.NoError(t, tr.MarkRead(ctx, msg.ID, 7))
	require.NoError(t, tr.MarkDelivered(ctx, msg.ID, 7))

	s, ok := mem.Status(msg.ID, 7)
	require.True(t, ok)
	assert.Equal(t, models.StatusRead, s)
}

func TestMarkDelivered_ThenRead(t *testing.T) {
	ctx := context.Background()
	mem := storagetest.NewMemory()
	mem.AddUsers(3, 7)
	tr := NewTracker(mem)
	msg := seedMessage(t, mem, 3, 7, "hi")

	require.NoError(t, tr.MarkDelivered(ctx, msg.ID, 7))
	s, _ := mem.Status(msg.ID, 7)
	assert.Equal(t, models.StatusDelivered, s)

	require.NoError(t, tr.MarkRead(ctx, msg.ID, 7))
	s, _ = mem.Status(msg.ID, 7)
	assert.Equal(t, models.StatusRead, s)
}

func TestMark_UnknownPairIsSilent(t *testing.T) {
	ctx := context.Background()
	mem := storagetest.NewMemory()
	mem.AddUsers(3, 7)
	tr := NewTracker(mem)
	msg := seedMessage(t, mem, 3, 7, "hi")

	assert.NoError(t, tr.MarkRead(ctx, msg.ID, 3), "sender has no status row")
	assert.NoError(t, tr.MarkDelivered(ctx, 9999, 7))
	_, ok := mem.Status(msg.ID, 3)
	assert.False(t, ok)
}

func TestMark_Validation(t *testing.T) {
	tr := NewTracker(new(MockStore))
	assert.ErrorIs(t, tr.MarkRead(context.Background(), 0, 7), apperr.ErrValidation)
	assert.ErrorIs(t, tr.MarkDelivered(context.Background(), 1, 0), apperr.ErrValidation)
}

func TestMark_PersistenceFailure(t *testing.T) {
	store := new(MockStore)
	store.On("AdvanceStatus", mock.Anything, uint(1), uint(7), models.StatusRead).
		Return(false, apperr.Persistence("advance status", errors.New("timeout"))).Once()
	tr := NewTracker(store)

	err := tr.MarkRead(context.Background(), 1, 7)
	assert.ErrorIs(t, err, apperr.ErrPersistenceUnavailable)
	store.AssertExpectations(t)
}

func TestFetchUnread_OrderedAndExcludesRead(t *testing.T) {
	ctx := context.Background()
	mem := storagetest.NewMemory()
	mem.AddUsers(3, 7, 9)
	tr := NewTracker(mem)

	first := seedMessage(t, mem, 3, 7, "first")
	read := seedMessage(t, mem, 9, 7, "already read")
	last := seedMessage(t, mem, 3, 7, "last")
	require.NoError(t, tr.MarkRead(ctx, read.ID, 7))

	msgs, err := tr.FetchUnread(ctx, 7)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, last.ID, msgs[1].ID)

	empty, err := tr.FetchUnread(ctx, 3)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestFetchUnread_SortsStoreOutput(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := new(MockStore)
	store.On("ListUnread", mock.Anything, uint(7)).Return([]models.Message{
		{ID: 3, CreatedAt: t0.Add(time.Minute)},
		{ID: 2, CreatedAt: t0},
		{ID: 1, CreatedAt: t0},
	}, nil)
	tr := NewTracker(store)

	msgs, err := tr.FetchUnread(context.Background(), 7)
	require.NoError(t, err)
	ids := []uint{msgs[0].ID, msgs[1].ID, msgs[2].ID}
	assert.Equal(t, []uint{1, 2, 3}, ids)
}
