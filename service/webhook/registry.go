// Package webhook delivers settlement notifications to callback URLs that
// wallets register. Registrations live in Redis; deliveries are signed with
// the shared API secret and sent fire-and-forget.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	webhookKeyPrefix = "webhook:"

	// registrationTTL bounds how long an unrefreshed registration lives.
	registrationTTL = 30 * 24 * time.Hour
)

// ErrNotRegistered is returned when a wallet has no webhook URL.
var ErrNotRegistered = errors.New("no webhook registered")

// Registry stores webhook URLs per wallet address.
type Registry struct {
	rdb *redis.Client
}

// NewRegistry creates a Registry backed by the given Redis client.
func NewRegistry(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

// Register stores a callback URL for a wallet. Re-registering refreshes the
// TTL. Only http and https URLs are accepted.
func (r *Registry) Register(ctx context.Context, wallet, callbackURL string) error {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook URL must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook URL is missing a host")
	}

	if err := r.rdb.Set(ctx, webhookKeyPrefix+wallet, callbackURL, registrationTTL).Err(); err != nil {
		return fmt.Errorf("failed to store webhook registration: %w", err)
	}
	return nil
}

// Lookup returns the callback URL for a wallet, or ErrNotRegistered.
func (r *Registry) Lookup(ctx context.Context, wallet string) (string, error) {
	callbackURL, err := r.rdb.Get(ctx, webhookKeyPrefix+wallet).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotRegistered
		}
		return "", fmt.Errorf("failed to read webhook registration: %w", err)
	}
	return callbackURL, nil
}

// Unregister removes a wallet's webhook.
func (r *Registry) Unregister(ctx context.Context, wallet string) error {
	if err := r.rdb.Del(ctx, webhookKeyPrefix+wallet).Err(); err != nil {
		return fmt.Errorf("failed to delete webhook registration: %w", err)
	}
	return nil
}
