package devices

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eternisai/doorbell-dispatch/internal/logger"
)

// Resolver expands a device into the push tokens of every user subscribed to it.
type Resolver struct {
	index  SubscriberIndex
	tokens TokenSource
	logger *logger.Logger
}

// NewResolver creates a Resolver over the two subscriber lookups.
func NewResolver(index SubscriberIndex, tokens TokenSource, logger *logger.Logger) *Resolver {
	return &Resolver{
		index:  index,
		tokens: tokens,
		logger: logger,
	}
}

// ResolveEndpoints returns the tokens of all users with access to deviceID,
// in index order. Tokens shared by several users are returned once per user.
//
// A failed index query is returned as an error. A failed per-user read only
// drops that user's tokens so the remaining subscribers are still notified.
func (r *Resolver) ResolveEndpoints(ctx context.Context, deviceID string) ([]string, error) {
	log := r.logger.WithContext(ctx).WithComponent("subscriber-resolver")

	userIDs, err := r.index.UsersForDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers for device %s: %w", deviceID, err)
	}

	seen := make(map[string]struct{}, len(userIDs))
	var endpoints []string
	for _, userID := range userIDs {
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}

		tokens, err := r.tokens.TokensForUser(ctx, userID)
		if err != nil {
			log.Warn("failed to read user tokens, skipping user",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			continue
		}
		endpoints = append(endpoints, tokens...)
	}

	log.Debug("resolved subscriber endpoints",
		slog.Int("users", len(seen)),
		slog.Int("endpoints", len(endpoints)))

	return endpoints, nil
}
