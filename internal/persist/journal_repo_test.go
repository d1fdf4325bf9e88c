package persist

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vmhost/server/internal/config"
	"go.uber.org/zap/zaptest"
)

func TestBuildJournalBatchOrder(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	now := time.Now()

	b := buildJournalBatch(
		[]LoadRecord{{ContainerID: id, Name: "lobby", Programs: 3, At: now}},
		[]UnloadRecord{{ContainerID: id, At: now}},
		[]FailureRecord{{ContainerID: id, Program: "door.lua", Kind: "callback", Callback: "_update", At: now}},
	)
	if b.Len() != 3 {
		t.Fatalf("batch len = %d", b.Len())
	}
	want := []string{insertLoadSQL, closeLoadSQL, insertFailureSQL}
	for i, q := range b.QueuedQueries {
		if q.SQL != want[i] {
			t.Errorf("statement %d = %q", i, q.SQL)
		}
	}

	if buildJournalBatch(nil, nil, nil).Len() != 0 {
		t.Error("empty frame should queue nothing")
	}
}

// Runs against a real database when VMHOST_TEST_DSN is set.
func TestJournalRepoRoundTrip(t *testing.T) {
	dsn := os.Getenv("VMHOST_TEST_DSN")
	if dsn == "" {
		t.Skip("VMHOST_TEST_DSN not set")
	}
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	db, err := NewDB(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 2, MaxIdleConns: 1, ConnMaxLifetime: time.Minute}, log)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()
	if err := RunMigrations(ctx, db.Pool, log); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	repo := NewJournalRepo(db)
	program := "roundtrip-" + uuid.NewString() + ".lua"
	f := FailureRecord{
		ContainerID: uuid.New(),
		Entity:      1<<32 | 7,
		Seq:         42,
		Program:     program,
		Kind:        "callback",
		Callback:    "_update",
		Error:       "boom",
		At:          time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := repo.Write(ctx, nil, nil, []FailureRecord{f}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := repo.RecentFailures(ctx, program, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Entity != f.Entity || got[0].Seq != 42 || got[0].ContainerID != f.ContainerID {
		t.Errorf("failures = %+v", got)
	}
}
