package routes

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/bufcache/internal/cache"
	"github.com/any-hub/bufcache/internal/policy"
	"github.com/any-hub/bufcache/internal/proxy"
)

type fakeSource struct {
	stats   cache.Stats
	handles []proxy.Session
}

func (f fakeSource) Stats() cache.Stats       { return f.stats }
func (f fakeSource) Handles() []proxy.Session { return f.handles }

func TestEncodeStatsDerivesRatioAndBytes(t *testing.T) {
	encoded := encodeStats(cache.Stats{
		Policy:    policy.LRU,
		ChunkSize: 4096,
		Capacity:  1280,
		Hits:      3,
		Misses:    1,
	})
	if encoded.Policy != "lru" {
		t.Fatalf("expected policy lru, got %s", encoded.Policy)
	}
	if encoded.CapacityBytes != 1280*4096 {
		t.Fatalf("unexpected capacity bytes %d", encoded.CapacityBytes)
	}
	if encoded.HitRatio != 0.75 {
		t.Fatalf("expected hit ratio 0.75, got %v", encoded.HitRatio)
	}
}

func TestCacheRoutes(t *testing.T) {
	source := fakeSource{
		stats: cache.Stats{Policy: policy.Random, ChunkSize: 4096, Capacity: 8, Occupied: 2},
		handles: []proxy.Session{
			{ID: "h1", Path: "a.bin", Mode: "rw", Opened: time.Unix(1, 0)},
		},
	}
	app := fiber.New()
	RegisterCacheRoutes(app, source)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/cache", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Cache       statsPayload    `json:"cache"`
		OpenHandles int             `json:"open_handles"`
		Handles     []proxy.Session `json:"handles"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode payload: %v (%s)", err, body)
	}
	if payload.Cache.Policy != "random" || payload.Cache.Occupied != 2 {
		t.Fatalf("unexpected cache payload: %+v", payload.Cache)
	}
	if payload.OpenHandles != 1 || payload.Handles[0].ID != "h1" {
		t.Fatalf("unexpected handles payload: %+v", payload)
	}

	for target, want := range map[string]int{
		"/-/cache/handles/h1":  fiber.StatusOK,
		"/-/cache/handles/zzz": fiber.StatusNotFound,
	} {
		resp, err := app.Test(httptest.NewRequest("GET", target, nil))
		if err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		if resp.StatusCode != want {
			t.Fatalf("%s: expected %d, got %d", target, want, resp.StatusCode)
		}
	}
}
