package storage

import (
	"context"
	"fmt"
	"time"

	"chatrelay/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// OnlineUsersKey is the Redis set shared by every instance.
	OnlineUsersKey = "online_users"
	// PresenceChannel carries the id of the instance whose presence changed.
	PresenceChannel = "presence:changed"
)

// Storage is the relational datastore plus the shared presence store.
type Storage interface {
	SetSessionHandle(ctx context.Context, userID uint, handle string) (bool, error)
	ClearSessionHandle(ctx context.Context, userID uint, handle string) error
	CountUsers(ctx context.Context, ids []uint) (int64, error)

	FindPrivateRoom(ctx context.Context, a, b uint) (*models.ChatRoom, error)
	CreatePrivateRoom(ctx context.Context, a, b uint) (*models.ChatRoom, error)
	CreateGroupRoom(ctx context.Context, name string, creator uint, members []uint) (*models.ChatRoom, error)
	GetRoom(ctx context.Context, roomID uint) (*models.ChatRoom, error)
	ListParticipants(ctx context.Context, roomID uint) ([]uint, error)
	IsParticipant(ctx context.Context, roomID, userID uint) (bool, error)

	SaveMessage(ctx context.Context, msg *models.Message) ([]uint, error)
	ListRoomMessages(ctx context.Context, roomID uint, limit int, beforeID uint) ([]models.Message, error)
	SoftDeleteMessage(ctx context.Context, messageID, senderID uint) (*models.Message, error)

	AdvanceStatus(ctx context.Context, messageID, userID uint, to models.DeliveryStatus) (bool, error)
	ListUnread(ctx context.Context, userID uint) ([]models.Message, error)

	AddOnline(ctx context.Context, userID uint) error
	RemoveOnline(ctx context.Context, userID uint) error
	OnlineMembers(ctx context.Context) ([]uint, error)
	PublishPresenceChange(ctx context.Context, origin string) error
	SubscribePresence(ctx context.Context) (<-chan string, func() error)
}

type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

var _ Storage = (*Service)(nil)

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{DB: db, Redis: rdb}
}

// Connect opens Postgres, retrying while the database container starts.
func Connect(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// NewRedis builds a client and checks the connection.
func NewRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// Migrate creates the tables and seeds the admin user and the broadcast room.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.ChatRoom{},
		&models.RoomParticipant{},
		&models.Message{},
		&models.Attachment{},
		&models.MessageStatus{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	seeds := []struct {
		sql  string
		args []any
	}{
		{
			`INSERT INTO users (id, username, password_hash, email, gender, created_at)
			 VALUES (?, 'admin', '', 'admin@example.com', 'other', NOW()) ON CONFLICT DO NOTHING`,
			[]any{models.BroadcastOwnerID},
		},
		{
			`SELECT setval(pg_get_serial_sequence('users', 'id'), GREATEST((SELECT MAX(id) FROM users), 1))`,
			nil,
		},
		{
			`INSERT INTO chat_rooms (id, name, created_by, is_group, created_at)
			 VALUES (?, 'Broadcast', ?, TRUE, NOW()) ON CONFLICT DO NOTHING`,
			[]any{models.BroadcastRoomID, models.BroadcastOwnerID},
		},
	}
	for _, s := range seeds {
		if err := db.Exec(s.sql, s.args...).Error; err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return nil
}
