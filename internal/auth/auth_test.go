package auth

import (
	"context"
	"errors"
	"testing"
)

func TestStaticAuth_KnownKey(t *testing.T) {
	a := NewStaticAuthenticator(map[string]string{
		"crk_sandbox_agent_key_0001": "sandbox-1",
	})

	p, err := a.Authenticate(context.Background(), "crk_sandbox_agent_key_0001")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if p.ProducerID != "sandbox-1" {
		t.Errorf("expected producer sandbox-1, got %s", p.ProducerID)
	}
}

func TestStaticAuth_UnknownKeyRejected(t *testing.T) {
	a := NewStaticAuthenticator(map[string]string{
		"crk_sandbox_agent_key_0001": "sandbox-1",
	})

	_, err := a.Authenticate(context.Background(), "crk_some_other_key")
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey, got: %v", err)
	}
}

func TestStaticAuth_MissingKey(t *testing.T) {
	a := NewStaticAuthenticator(nil)

	_, err := a.Authenticate(context.Background(), "  ")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got: %v", err)
	}
}

func TestStaticAuth_BadPrefix(t *testing.T) {
	a := NewStaticAuthenticator(nil)

	_, err := a.Authenticate(context.Background(), "tsk_wrong_family")
	if !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("expected ErrInvalidAPIKey, got: %v", err)
	}
}

func TestStaticAuth_BootstrapMode(t *testing.T) {
	// Empty key set accepts any well-formed key as the default producer.
	a := NewStaticAuthenticator(nil)

	p, err := a.Authenticate(context.Background(), "crk_anything_goes")
	if err != nil {
		t.Fatalf("expected no error in bootstrap mode, got: %v", err)
	}
	if p.ProducerID != "default" {
		t.Errorf("expected default producer, got %s", p.ProducerID)
	}
}

func TestParseStaticKeys(t *testing.T) {
	keys := ParseStaticKeys("sandbox-1:crk_aaa, sandbox-2:crk_bbb,malformed,:crk_ccc,sandbox-3:nope")

	if len(keys) != 2 {
		t.Fatalf("expected 2 parsed keys, got %d: %v", len(keys), keys)
	}
	if keys["crk_aaa"] != "sandbox-1" || keys["crk_bbb"] != "sandbox-2" {
		t.Errorf("unexpected key map: %v", keys)
	}
}
