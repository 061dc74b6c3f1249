package fsdb

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/eternisai/doorbell-dispatch/internal/config"
	"github.com/eternisai/doorbell-dispatch/internal/devices"
	"github.com/eternisai/doorbell-dispatch/internal/ledger"
)

// newEmulatorStore connects to the Firestore emulator, skipping when it is not running.
func newEmulatorStore(t *testing.T) (*Store, *firestore.Client) {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, "doorbell-test")
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	tables := config.DefaultTables()
	suffix := "_" + time.Now().Format("150405.000000")
	tables.Devices += suffix
	tables.UserDevices += suffix
	tables.UserTokens += suffix
	tables.Events += suffix

	store := NewStore(func(ctx context.Context) (*firestore.Client, error) { return client, nil }, tables)
	return store, client
}

func TestStoreAgainstEmulator(t *testing.T) {
	store, client := newEmulatorStore(t)
	ctx := context.Background()
	tables := store.tables

	mustSet := func(coll, id string, data interface{}) {
		if _, err := client.Collection(coll).Doc(id).Set(ctx, data); err != nil {
			t.Fatalf("seed %s/%s: %v", coll, id, err)
		}
	}
	mustSet(tables.Devices, "dev1", map[string]interface{}{"name": "Front Door"})
	mustSet(tables.UserDevices, "alice-dev1", map[string]interface{}{"userId": "alice", "deviceId": "dev1"})
	mustSet(tables.UserDevices, "bob-dev1", map[string]interface{}{"userId": "bob", "deviceId": "dev1"})
	mustSet(tables.UserTokens, "alice", map[string]interface{}{"fcmTokens": []string{"tokA", "shared"}})
	mustSet(tables.UserTokens, "bob", map[string]interface{}{"fcmTokens": []string{"shared"}})

	info, err := store.Lookup(ctx, "dev1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if info.Name != "Front Door" || info.LocationOrDefault() != devices.DefaultLocation {
		t.Errorf("Unexpected device %+v", info)
	}

	if _, err := store.Lookup(ctx, "missing"); !errors.Is(err, devices.ErrDeviceNotFound) {
		t.Errorf("Expected ErrDeviceNotFound, got %v", err)
	}

	users, err := store.UsersForDevice(ctx, "dev1")
	if err != nil || len(users) != 2 {
		t.Fatalf("Expected 2 users, got %v, %v", users, err)
	}

	updated, err := store.RemoveToken(ctx, "shared")
	if err != nil || updated != 2 {
		t.Fatalf("Expected 2 users updated, got %d, %v", updated, err)
	}
	if updated, err := store.RemoveToken(ctx, "shared"); err != nil || updated != 0 {
		t.Errorf("Second removal should be a no-op, got %d, %v", updated, err)
	}

	tokens, err := store.TokensForUser(ctx, "alice")
	if err != nil || len(tokens) != 1 || tokens[0] != "tokA" {
		t.Errorf("Expected alice to keep tokA, got %v, %v", tokens, err)
	}
	if tokens, err := store.TokensForUser(ctx, "nobody"); err != nil || len(tokens) != 0 {
		t.Errorf("Expected no tokens for unknown user, got %v, %v", tokens, err)
	}

	entry := ledger.Entry{EventID: "e1", DeviceID: "dev1", EventType: "doorbell", Timestamp: time.Now().UTC()}
	if err := store.PutEvent(ctx, entry); err != nil {
		t.Fatalf("PutEvent failed: %v", err)
	}
	if err := store.PutEvent(ctx, entry); err != nil {
		t.Errorf("Replayed PutEvent should succeed, got %v", err)
	}
}
