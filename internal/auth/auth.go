package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrMissingAPIKey   = errors.New("missing x-api-key header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
)

// keyPrefix is the fixed prefix of producer API keys, e.g. "crk_a1b2...".
const keyPrefix = "crk_"

// ProducerContext identifies the authenticated telemetry producer.
type ProducerContext struct {
	ProducerID string
	Name       string
}

// Authenticator validates a producer API key presented at the ingest
// boundary.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*ProducerContext, error)
}

// StaticAuthenticator validates keys against a fixed in-memory set, loaded
// from configuration at startup. With an empty set it degrades to format
// validation only, which is the bootstrap mode for local development.
type StaticAuthenticator struct {
	// keys maps a raw API key to its producer id.
	keys map[string]string
}

// NewStaticAuthenticator creates an authenticator over the given key set.
func NewStaticAuthenticator(keys map[string]string) *StaticAuthenticator {
	return &StaticAuthenticator{keys: keys}
}

// ParseStaticKeys parses "producer:key,producer:key" configuration into the
// map NewStaticAuthenticator expects. Malformed entries are skipped.
func ParseStaticKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		producer, key, ok := strings.Cut(entry, ":")
		if !ok || producer == "" || !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		keys[key] = producer
	}
	return keys
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, apiKey string) (*ProducerContext, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if !strings.HasPrefix(apiKey, keyPrefix) {
		return nil, ErrInvalidAPIKey
	}

	if len(a.keys) == 0 {
		// Bootstrap mode: any well-formed key maps to a default producer.
		return &ProducerContext{ProducerID: "default", Name: "default"}, nil
	}

	producer, ok := a.keys[apiKey]
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	return &ProducerContext{ProducerID: producer, Name: producer}, nil
}
