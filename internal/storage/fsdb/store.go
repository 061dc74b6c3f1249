package fsdb

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/eternisai/doorbell-dispatch/internal/config"
	"github.com/eternisai/doorbell-dispatch/internal/devices"
	"github.com/eternisai/doorbell-dispatch/internal/ledger"
)

// Field names shared with the mobile app.
const (
	fieldDeviceID  = "deviceId"
	fieldUserID    = "userId"
	fieldFCMTokens = "fcmTokens"
)

// ClientSource returns the Firestore client, creating it on first use.
type ClientSource func(ctx context.Context) (*firestore.Client, error)

// Store serves the device directory, subscriber lookups, token hygiene and
// the event ledger from Firestore collections.
//
// Layout:
//
//	devices/{deviceId}       {name, location}
//	user_devices/{any}       {userId, deviceId}
//	user_tokens/{userId}     {fcmTokens: [...]}
//	doorbell_events/{eventId} ledger.Entry
type Store struct {
	client ClientSource
	tables config.Tables
}

func NewStore(client ClientSource, tables config.Tables) *Store {
	return &Store{client: client, tables: tables}
}

type deviceDoc struct {
	Name     string `firestore:"name"`
	Location string `firestore:"location"`
}

type userTokensDoc struct {
	FCMTokens []string `firestore:"fcmTokens"`
}

// Lookup implements devices.Directory.
func (s *Store) Lookup(ctx context.Context, deviceID string) (*devices.DeviceInfo, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := client.Collection(s.tables.Devices).Doc(deviceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, devices.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device %s: %w", deviceID, err)
	}

	var d deviceDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, fmt.Errorf("failed to parse device %s: %w", deviceID, err)
	}

	return &devices.DeviceInfo{
		DeviceID: deviceID,
		Name:     d.Name,
		Location: d.Location,
	}, nil
}

// UsersForDevice implements devices.SubscriberIndex.
func (s *Store) UsersForDevice(ctx context.Context, deviceID string) ([]string, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	iter := client.Collection(s.tables.UserDevices).Where(fieldDeviceID, "==", deviceID).Documents(ctx)
	defer iter.Stop()

	var userIDs []string
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query subscribers of %s: %w", deviceID, err)
		}

		userID, ok := doc.Data()[fieldUserID].(string)
		if !ok || userID == "" {
			continue
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, nil
}

// TokensForUser implements devices.TokenSource. A user without a document has no tokens.
func (s *Store) TokensForUser(ctx context.Context, userID string) ([]string, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := client.Collection(s.tables.UserTokens).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tokens of user %s: %w", userID, err)
	}

	var t userTokensDoc
	if err := doc.DataTo(&t); err != nil {
		return nil, fmt.Errorf("failed to parse tokens of user %s: %w", userID, err)
	}
	return t.FCMTokens, nil
}

// RemoveToken implements tokens.Store. ArrayRemove is atomic on the server,
// so concurrent registrations on the same document are not lost.
func (s *Store) RemoveToken(ctx context.Context, token string) (int, error) {
	client, err := s.client(ctx)
	if err != nil {
		return 0, err
	}

	docs, err := client.Collection(s.tables.UserTokens).
		Where(fieldFCMTokens, "array-contains", token).
		Documents(ctx).
		GetAll()
	if err != nil {
		return 0, fmt.Errorf("failed to find holders of token: %w", err)
	}

	updated := 0
	for _, doc := range docs {
		_, err := doc.Ref.Update(ctx, []firestore.Update{
			{Path: fieldFCMTokens, Value: firestore.ArrayRemove(token)},
		})
		if err != nil {
			if status.Code(err) == codes.NotFound {
				continue
			}
			return updated, fmt.Errorf("failed to remove token from user %s: %w", doc.Ref.ID, err)
		}
		updated++
	}
	return updated, nil
}

// PutEvent implements ledger.Store. Replaying an event id is a no-op.
func (s *Store) PutEvent(ctx context.Context, entry ledger.Entry) error {
	client, err := s.client(ctx)
	if err != nil {
		return err
	}

	_, err = client.Collection(s.tables.Events).Doc(entry.EventID).Create(ctx, entry)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("failed to write event %s: %w", entry.EventID, err)
	}
	return nil
}
