package moderation

import (
	"context"
	"fmt"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&AuditEvent{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestAuditRepo_RecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditRepo(openTestDB(t))

	ev, err := NewMuteEvent("p1", "Hero", "global_chat/messages", 61_000, 1_000)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := repo.Record(ctx, ev); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	got, err := repo.ListByPlayer(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if got[0].Kind != string(EventMuted) || got[0].MuteUntil.UnixMilli() != 61_000 {
		t.Fatalf("unexpected row: %+v", got[0])
	}
}
