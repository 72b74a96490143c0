package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ProducerStore abstracts the producers table for testability.
type ProducerStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*producerRow, error)
}

type producerRow struct {
	ProducerID string
	Name       string
	APIKeyHash string
	Enabled    bool
}

type sqlProducerStore struct {
	db *sql.DB
}

func (s *sqlProducerStore) LookupByPrefix(ctx context.Context, prefix string) (*producerRow, error) {
	row := &producerRow{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, api_key_hash, enabled
		 FROM producers
		 WHERE api_key_prefix = $1`,
		prefix,
	).Scan(&row.ProducerID, &row.Name, &row.APIKeyHash, &row.Enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No producer with this prefix. Reject, don't degrade.
			return nil, ErrInvalidAPIKey
		}
		return nil, fmt.Errorf("sqlProducerStore.LookupByPrefix: %w", err)
	}
	return row, nil
}

// PostgresAuthenticator validates producer API keys against the producers
// table. The AuthCache keeps the bcrypt compare and DB round trip off the
// ingest hot path via stale-while-revalidate.
type PostgresAuthenticator struct {
	store  ProducerStore
	cache  *AuthCache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration // default 30s
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates an authenticator backed by PostgreSQL.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &PostgresAuthenticator{
		store:  &sqlProducerStore{db: cfg.DB},
		cache:  NewAuthCache(ttl),
		logger: cfg.Logger,
	}
}

// newPostgresAuthenticatorWithStore injects a store, for tests.
func newPostgresAuthenticatorWithStore(store ProducerStore, cache *AuthCache, logger *zap.Logger) *PostgresAuthenticator {
	return &PostgresAuthenticator{store: store, cache: cache, logger: logger}
}

// Authenticate resolves the API key to a producer.
//
// Flow:
//  1. Format check on the raw key.
//  2. Cache lookup: fresh hit returns immediately; stale hit returns the
//     stale producer and spawns one background refresh; miss falls through
//     to a synchronous DB + bcrypt lookup.
//  3. DB errors surface as ErrAuthUnavailable — telemetry is never
//     accepted from an unverified producer.
func (a *PostgresAuthenticator) Authenticate(ctx context.Context, apiKey string) (*ProducerContext, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if !strings.HasPrefix(apiKey, keyPrefix) {
		return nil, ErrInvalidAPIKey
	}

	result := a.cache.Get(apiKey)
	if result.Hit {
		if result.NeedsRefresh {
			go a.backgroundRefresh(apiKey)
		}
		return result.Producer, nil
	}

	producer, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		return a.handleLookupError(err)
	}

	a.cache.Set(apiKey, producer)
	return producer, nil
}

// backgroundRefresh re-verifies a stale key off the request path. On
// failure the entry is evicted so the next stale read retries.
func (a *PostgresAuthenticator) backgroundRefresh(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	producer, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		a.logger.Warn("background auth refresh failed", zap.Error(err))
		a.cache.Delete(apiKey)
		return
	}

	a.cache.Set(apiKey, producer)
}

// lookupAndVerify does the prefix lookup plus bcrypt verification.
func (a *PostgresAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*ProducerContext, error) {
	// api_key_prefix is the first 8 chars of the key (e.g. "crk_a1b2").
	if len(apiKey) < 8 {
		return nil, ErrInvalidAPIKey
	}
	prefix := apiKey[:8]

	row, err := a.store.LookupByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidAPIKey
	}
	if !row.Enabled {
		return nil, ErrInvalidAPIKey
	}

	return &ProducerContext{
		ProducerID: row.ProducerID,
		Name:       row.Name,
	}, nil
}

func (a *PostgresAuthenticator) handleLookupError(lookupErr error) (*ProducerContext, error) {
	if errors.Is(lookupErr, ErrInvalidAPIKey) {
		return nil, ErrInvalidAPIKey
	}

	a.logger.Warn("auth DB unreachable", zap.Error(lookupErr))
	return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, lookupErr)
}
