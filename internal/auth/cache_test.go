package auth

import (
	"testing"
	"time"
)

func TestAuthCache_Miss(t *testing.T) {
	c := NewAuthCache(time.Minute)

	res := c.Get("crk_unknown")
	if res.Hit {
		t.Error("expected miss for unknown key")
	}
	if res.NeedsRefresh {
		t.Error("miss must not request a refresh")
	}
}

func TestAuthCache_FreshHit(t *testing.T) {
	c := NewAuthCache(time.Minute)
	c.Set("crk_k", &ProducerContext{ProducerID: "p1"})

	res := c.Get("crk_k")
	if !res.Hit {
		t.Fatal("expected hit")
	}
	if res.NeedsRefresh {
		t.Error("fresh hit must not request a refresh")
	}
	if res.Producer.ProducerID != "p1" {
		t.Errorf("expected p1, got %s", res.Producer.ProducerID)
	}
}

func TestAuthCache_StaleHit_SingleRefresh(t *testing.T) {
	c := NewAuthCache(time.Millisecond)
	c.Set("crk_k", &ProducerContext{ProducerID: "p1"})

	time.Sleep(5 * time.Millisecond)

	// First stale read wins the refresh; later ones serve stale only.
	first := c.Get("crk_k")
	if !first.Hit || !first.NeedsRefresh {
		t.Fatalf("expected stale hit with refresh, got %+v", first)
	}

	second := c.Get("crk_k")
	if !second.Hit {
		t.Fatal("expected stale hit")
	}
	if second.NeedsRefresh {
		t.Error("only one reader should be told to refresh")
	}
	if second.Producer.ProducerID != "p1" {
		t.Errorf("stale read must still serve the old value, got %s", second.Producer.ProducerID)
	}
}

func TestAuthCache_SetResetsRefreshFlag(t *testing.T) {
	c := NewAuthCache(time.Millisecond)
	c.Set("crk_k", &ProducerContext{ProducerID: "p1"})
	time.Sleep(5 * time.Millisecond)

	_ = c.Get("crk_k") // claims the refresh

	c.Set("crk_k", &ProducerContext{ProducerID: "p1"})
	res := c.Get("crk_k")
	if !res.Hit || res.NeedsRefresh {
		t.Errorf("refreshed entry should be fresh again, got %+v", res)
	}
}

func TestAuthCache_Delete(t *testing.T) {
	c := NewAuthCache(time.Minute)
	c.Set("crk_k", &ProducerContext{ProducerID: "p1"})
	c.Delete("crk_k")

	if res := c.Get("crk_k"); res.Hit {
		t.Error("expected miss after delete")
	}
}
