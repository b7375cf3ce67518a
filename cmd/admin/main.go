package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"chatrelay/backend/internal/auth"
	"chatrelay/backend/internal/config"
	"chatrelay/backend/internal/logging"
	"chatrelay/backend/internal/storage"

	"github.com/rs/zerolog/log"
)

const usage = `Usage: admin <command> [args]

Commands:
  migrate                      create tables and seed the broadcast room
  token <user_id> [ttl_hours]  print a signed websocket token
  online                       list users in the shared online set
  unread <user_id>             list unread messages of a user
  history <room_id> [limit]    list the latest messages of a room`

func main() {
	_ = config.LoadDotEnv()
	cfg := config.Load()
	logging.Init("dev", cfg.LogLevel)

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}
	ctx := context.Background()

	switch os.Args[1] {
	case "migrate":
		db := mustDB(cfg)
		if err := storage.Migrate(db.DB); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
		fmt.Println("Migrations applied.")
	case "token":
		if len(os.Args) < 3 {
			fmt.Println("Usage: admin token <user_id> [ttl_hours]")
			os.Exit(1)
		}
		userID := mustUint(os.Args[2], "user id")
		ttl := 24 * time.Hour
		if len(os.Args) > 3 {
			ttl = time.Duration(mustUint(os.Args[3], "ttl")) * time.Hour
		}
		token, err := auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer).Issue(userID, ttl)
		if err != nil {
			log.Fatal().Err(err).Msg("issue token")
		}
		fmt.Println(token)
	case "online":
		rdb, err := storage.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer rdb.Close()
		ids, err := storage.NewStorageService(nil, rdb).OnlineMembers(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("list online users")
		}
		printJSON(ids)
	case "unread":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin unread <user_id>")
			os.Exit(1)
		}
		msgs, err := mustDB(cfg).ListUnread(ctx, mustUint(os.Args[2], "user id"))
		if err != nil {
			log.Fatal().Err(err).Msg("list unread")
		}
		printJSON(msgs)
	case "history":
		if len(os.Args) < 3 {
			fmt.Println("Usage: admin history <room_id> [limit]")
			os.Exit(1)
		}
		limit := 50
		if len(os.Args) > 3 {
			limit = int(mustUint(os.Args[3], "limit"))
		}
		msgs, err := mustDB(cfg).ListRoomMessages(ctx, mustUint(os.Args[2], "room id"), limit, 0)
		if err != nil {
			log.Fatal().Err(err).Msg("list history")
		}
		printJSON(msgs)
	default:
		fmt.Printf("Unknown command: %s\n\n%s\n", os.Args[1], usage)
		os.Exit(1)
	}
}

// mustDB opens Postgres; the admin CLI needs no Redis for these commands.
func mustDB(cfg config.Config) *storage.Service {
	db, err := storage.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	return storage.NewStorageService(db, nil)
}

func mustUint(s, what string) uint {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		fmt.Printf("Invalid %s %q. Please provide a positive integer.\n", what, s)
		os.Exit(1)
	}
	return uint(v)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal().Err(err).Msg("encode output")
	}
}

