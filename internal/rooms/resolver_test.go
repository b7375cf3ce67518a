package rooms

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chatrelay/backend/internal/apperr"
	"chatrelay/backend/internal/models"
	"chatrelay/backend/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStore is a testify mock of Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CountUsers(ctx context.Context, ids []uint) (int64, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) FindPrivateRoom(ctx context.Context, a, b uint) (*models.ChatRoom, error) {
	args := m.Called(ctx, a, b)
	room, _ := args.Get(0).(*models.ChatRoom)
	return room, args.Error(1)
}

func (m *MockStore) CreatePrivateRoom(ctx context.Context, a, b uint) (*models.ChatRoom, error) {
	args := m.Called(ctx, a, b)
	room, _ := args.Get(0).(*models.ChatRoom)
	return room, args.Error(1)
}

func (m *MockStore) CreateGroupRoom(ctx context.Context, name string, creator uint, members []uint) (*models.ChatRoom, error) {
	args := m.Called(ctx, name, creator, members)
	room, _ := args.Get(0).(*models.ChatRoom)
	return room, args.Error(1)
}

func TestResolvePrivate_OrderInsensitive(t *testing.T) {
	ctx := context.Background()
	mem := storagetest.NewMemory()
	mem.AddUsers(3, 7)
	r := NewResolver(mem)

	first, err := r.ResolvePrivate(ctx, 3, 7)
	require.NoError(t, err)
	second, err := r.ResolvePrivate(ctx, 7, 3)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, models.BroadcastRoomID, first)
	assert.Equal(t, 1, mem.RoomsCreated)
	participants, err := mem.ListParticipants(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, []uint{3, 7}, participants)
}

func TestResolvePrivate_ConcurrentCallsConverge(t *testing.T) {
	ctx := context.Background()
	mem := storagetest.NewMemory()
	mem.AddUsers(3, 7)
	r := NewResolver(mem)

	const callers = 32
	got := make([]uint, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := uint(3), uint(7)
			if i%2 == 0 {
				a, b = b, a
			}
			id, err := r.ResolvePrivate(ctx, a, b)
			assert.NoError(t, err)
			got[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range got {
		assert.Equal(t, got[0], id)
	}
	assert.Equal(t, 1, mem.RoomsCreated)
	assert.Empty(t, r.pairs, "pair locks are released")
}

func TestResolvePrivate_SelfConversationIsDistinct(t *testing.T) {
	ctx := context.Background()
	mem := storagetest.NewMemory()
	mem.AddUsers(3, 7)
	r := NewResolver(mem)

	pair, err := r.ResolvePrivate(ctx, 3, 7)
	require.NoError(t, err)
	self, err := r.ResolvePrivate(ctx, 3, 3)
	require.NoError(t, err)
	assert.NotEqual(t, pair, self)
}

func TestResolvePrivate_UnknownUser(t *testing.T) {
	mem := storagetest.NewMemory()
	mem.AddUsers(3)
	r := NewResolver(mem)

	_, err := r.ResolvePrivate(context.Background(), 3, 99)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, mem.RoomsCreated)
}

func TestResolvePrivate_ZeroIdentity(t *testing.T) {
	r := NewResolver(new(MockStore))
	_, err := r.ResolvePrivate(context.Background(), 0, 7)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestResolvePrivate_ExistingRoomSkipsCreate(t *testing.T) {
	store := new(MockStore)
	store.On("FindPrivateRoom", mock.Anything, uint(3), uint(7)).
		Return(&models.ChatRoom{ID: 12}, nil).Once()
	r := NewResolver(store)

	id, err := r.ResolvePrivate(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 12, id)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "CreatePrivateRoom", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolvePrivate_PersistenceFailure(t *testing.T) {
	boom := apperr.Persistence("find private room", errors.New("connection refused"))
	store := new(MockStore)
	store.On("FindPrivateRoom", mock.Anything, uint(3), uint(7)).Return(nil, boom).Once()
	r := NewResolver(store)

	_, err := r.ResolvePrivate(context.Background(), 3, 7)
	assert.ErrorIs(t, err, apperr.ErrPersistenceUnavailable)
	store.AssertExpectations(t)
}

func TestResolvePrivate_ConflictRereads(t *testing.T) {
	store := new(MockStore)
	store.On("FindPrivateRoom", mock.Anything, uint(3), uint(7)).Return(nil, nil).Once()
	store.On("CountUsers", mock.Anything, mock.Anything).Return(int64(2), nil).Once()
	store.On("CreatePrivateRoom", mock.Anything, uint(3), uint(7)).Return(nil, apperr.ErrConflict).Once()
	store.On("FindPrivateRoom", mock.Anything, uint(3), uint(7)).Return(&models.ChatRoom{ID: 21}, nil).Once()
	r := NewResolver(store)

	id, err := r.ResolvePrivate(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 21, id)
	store.AssertExpectations(t)
}

func TestCreateGroup(t *testing.T) {
	ctx := context.Background()
	mem := storagetest.NewMemory()
	mem.AddUsers(2, 3)
	r := NewResolver(mem)

	id, err := r.CreateGroup(ctx, "team", 1, []uint{1, 2, 3, 2})
	require.NoError(t, err)

	room, err := mem.GetRoom(ctx, id)
	require.NoError(t, err)
	assert.True(t, room.IsGroup)
	require.NotNil(t, room.Name)
	assert.Equal(t, "team", *room.Name)

	participants, err := mem.ListParticipants(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2, 3}, participants)
}

func TestCreateGroup_Rejections(t *testing.T) {
	mem := storagetest.NewMemory()
	mem.AddUsers(2)
	r := NewResolver(mem)
	ctx := context.Background()

	_, err := r.CreateGroup(ctx, "empty", 1, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidGroupMembership)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = r.CreateGroup(ctx, "no creator", 1, []uint{2})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = r.CreateGroup(ctx, "ghost", 1, []uint{1, 2, 404})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = r.CreateGroup(ctx, "anon", 0, []uint{2})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Zero(t, mem.RoomsCreated)
}
