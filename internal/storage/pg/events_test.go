package pg

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/eternisai/doorbell-dispatch/internal/config"
	"github.com/eternisai/doorbell-dispatch/internal/ledger"
)

type recordingExecer struct {
	query string
	args  []any
	err   error
}

func (r *recordingExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	r.query = query
	r.args = args
	return nil, r.err
}

func TestPutEventArguments(t *testing.T) {
	exec := &recordingExecer{}
	store := NewEventStore(exec)
	cet := time.FixedZone("CET", 3600)
	entry := ledger.Entry{
		EventID:             "e1",
		DeviceID:            "dev1",
		EventType:           "doorbell",
		Timestamp:           time.Date(2024, 1, 1, 13, 0, 0, 0, cet),
		NotificationsSent:   3,
		NotificationsFailed: 1,
		CreatedAt:           time.Date(2024, 1, 1, 13, 0, 1, 0, cet),
	}

	if err := store.PutEvent(context.Background(), entry); err != nil {
		t.Fatalf("PutEvent failed: %v", err)
	}

	if !strings.Contains(exec.query, "ON CONFLICT (event_id) DO NOTHING") {
		t.Error("Expected the insert to ignore replayed events")
	}
	if len(exec.args) != 7 {
		t.Fatalf("Expected 7 args, got %d", len(exec.args))
	}
	if ts := exec.args[3].(time.Time); ts.Location() != time.UTC || ts.Hour() != 12 {
		t.Errorf("Expected timestamp normalized to UTC, got %v", ts)
	}
	if exec.args[4] != 3 || exec.args[5] != 1 {
		t.Errorf("Unexpected counts %v %v", exec.args[4], exec.args[5])
	}
}

func TestPutEventError(t *testing.T) {
	dbErr := errors.New("connection refused")
	store := NewEventStore(&recordingExecer{err: dbErr})

	if err := store.PutEvent(context.Background(), ledger.Entry{EventID: "e1"}); !errors.Is(err, dbErr) {
		t.Errorf("Expected wrapped db error, got %v", err)
	}
}

func TestEventStoreAgainstDatabase(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := InitDatabase(&config.Config{DatabaseURL: url, DBMaxOpenConns: 2, DBMaxIdleConns: 1, DBConnMaxIdleTime: 1, DBConnMaxLifetime: 5})
	if err != nil {
		t.Fatalf("InitDatabase failed: %v", err)
	}
	defer db.Close()

	store := NewEventStore(db.DB)
	entry := ledger.Entry{
		EventID:   "test_" + time.Now().Format("150405.000000"),
		DeviceID:  "dev1",
		EventType: ledger.EventTypeDoorbell,
		Timestamp: time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	for i := 0; i < 2; i++ {
		if err := store.PutEvent(context.Background(), entry); err != nil {
			t.Fatalf("PutEvent #%d failed: %v", i+1, err)
		}
	}

	var count int
	if err := db.DB.QueryRow("SELECT COUNT(*) FROM doorbell_events WHERE event_id = $1", entry.EventID).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 row, got %d", count)
	}
}
