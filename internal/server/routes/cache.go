package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/bufcache/internal/cache"
	"github.com/any-hub/bufcache/internal/proxy"
)

// CacheSource 提供诊断接口所需的缓存统计与句柄列表，proxy.Manager 即实现。
type CacheSource interface {
	Stats() cache.Stats
	Handles() []proxy.Session
}

// RegisterCacheRoutes 暴露 /-/cache 诊断接口，供运维查询命中率、占用与打开的句柄。
func RegisterCacheRoutes(app *fiber.App, source CacheSource) {
	if app == nil || source == nil {
		return
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		handles := source.Handles()
		return c.JSON(fiber.Map{
			"cache":        encodeStats(source.Stats()),
			"open_handles": len(handles),
			"handles":      handles,
		})
	})

	app.Get("/-/cache/handles/:id", func(c fiber.Ctx) error {
		id := strings.TrimSpace(c.Params("id"))
		if id == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "handle_id_required"})
		}
		for _, session := range source.Handles() {
			if session.ID == id {
				return c.JSON(session)
			}
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "handle_not_found"})
	})
}

type statsPayload struct {
	Policy            string  `json:"policy"`
	ChunkSize         int     `json:"chunk_size"`
	Capacity          int     `json:"capacity"`
	CapacityBytes     int64   `json:"capacity_bytes"`
	Created           int     `json:"created"`
	Occupied          int     `json:"occupied"`
	Hits              uint64  `json:"hits"`
	Misses            uint64  `json:"misses"`
	HitRatio          float64 `json:"hit_ratio"`
	Evictions         uint64  `json:"evictions"`
	WriteBacks        uint64  `json:"write_backs"`
	WriteBackFailures uint64  `json:"write_back_failures"`
	Passthrough       uint64  `json:"passthrough"`
}

func encodeStats(s cache.Stats) statsPayload {
	return statsPayload{
		Policy:            s.Policy.String(),
		ChunkSize:         s.ChunkSize,
		Capacity:          s.Capacity,
		CapacityBytes:     int64(s.Capacity) * int64(s.ChunkSize),
		Created:           s.Created,
		Occupied:          s.Occupied,
		Hits:              s.Hits,
		Misses:            s.Misses,
		HitRatio:          s.HitRatio(),
		Evictions:         s.Evictions,
		WriteBacks:        s.WriteBacks,
		WriteBackFailures: s.WriteBackFailures,
		Passthrough:       s.Passthrough,
	}
}
