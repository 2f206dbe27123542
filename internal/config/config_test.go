package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"CHAT_MSG_LIMIT", "CHAT_WINDOW_MS", "CHAT_PENALTY_MS", "LEVEL_CAP", "RABBIT_QUEUE", "REDIS_DB"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.ChatMsgLimit != 5 {
		t.Fatalf("expected msg limit 5, got %d", cfg.ChatMsgLimit)
	}
	if cfg.ChatWindow != 5*time.Second {
		t.Fatalf("expected window 5s, got %s", cfg.ChatWindow)
	}
	if cfg.ChatPenalty != time.Minute {
		t.Fatalf("expected penalty 1m, got %s", cfg.ChatPenalty)
	}
	if cfg.LevelCap != 999 {
		t.Fatalf("expected level cap 999, got %d", cfg.LevelCap)
	}
	if cfg.RabbitQueue != "moderation_events" {
		t.Fatalf("unexpected queue: %q", cfg.RabbitQueue)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHAT_MSG_LIMIT", "3")
	t.Setenv("CHAT_PENALTY_MS", "1000")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("LEVEL_CAP", "bogus")

	cfg := Load()
	if cfg.ChatMsgLimit != 3 {
		t.Fatalf("expected 3, got %d", cfg.ChatMsgLimit)
	}
	if cfg.ChatPenalty != time.Second {
		t.Fatalf("expected 1s, got %s", cfg.ChatPenalty)
	}
	if cfg.RedisDB != 2 {
		t.Fatalf("expected redis db 2, got %d", cfg.RedisDB)
	}
	if cfg.LevelCap != 999 {
		t.Fatalf("malformed value should fall back, got %d", cfg.LevelCap)
	}
}
