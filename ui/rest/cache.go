package rest

import (
	"time"

	"github.com/gofiber/fiber/v2"

	domainArtifact "github.com/orbitalweb/ow-agent/domains/artifact"
	"github.com/orbitalweb/ow-agent/pkg/utils"
)

type Cache struct {
	Service domainArtifact.IArtifactCacheUsecase
}

func InitRestCache(app fiber.Router, service domainArtifact.IArtifactCacheUsecase) Cache {
	rest := Cache{Service: service}
	app.Post("/artifacts", rest.Write)
	app.Get("/artifacts/:key", rest.Read)
	app.Put("/artifacts/:key", rest.Update)
	app.Delete("/artifacts/:key", rest.Delete)
	app.Get("/sessions/:id/artifacts", rest.List)
	app.Get("/sessions/:id/stats", rest.GetStats)
	app.Post("/sessions/:id/evict", rest.EvictOldest)
	app.Delete("/sessions/:id", rest.ClearSession)
	app.Get("/cache/stats", rest.GetGlobalStats)
	app.Get("/cache/quota", rest.CheckGlobalQuota)
	app.Get("/cache/config", rest.GetConfig)
	app.Put("/cache/config", rest.UpdateConfig)
	app.Post("/cache/cleanup/orphans", rest.CleanupOrphans)
	app.Post("/cache/cleanup/outdated", rest.CleanupOutdated)

	return rest
}

func (handler *Cache) Write(c *fiber.Ctx) error {
	var request domainArtifact.WriteRequest
	if err := c.BodyParser(&request); err != nil {
		return c.Status(400).JSON(utils.ResponseData{
			Status:  400,
			Code:    "BAD_REQUEST",
			Message: err.Error(),
		})
	}

	metadata, err := handler.Service.Write(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Artifact cached",
		Results: metadata,
	})
}

func (handler *Cache) Read(c *fiber.Ctx) error {
	key := c.Params("key")
	item, err := handler.Service.Read(c.UserContext(), key)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Artifact retrieved",
		Results: item,
	})
}

func (handler *Cache) Update(c *fiber.Ctx) error {
	var request domainArtifact.UpdateRequest
	if err := c.BodyParser(&request); err != nil {
		return c.Status(400).JSON(utils.ResponseData{
			Status:  400,
			Code:    "BAD_REQUEST",
			Message: err.Error(),
		})
	}
	request.StorageKey = c.Params("key")

	metadata, err := handler.Service.Update(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Artifact updated",
		Results: metadata,
	})
}

func (handler *Cache) Delete(c *fiber.Ctx) error {
	key := c.Params("key")
	deleted, err := handler.Service.Delete(c.UserContext(), key)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Delete processed",
		Results: fiber.Map{"storageKey": key, "deleted": deleted},
	})
}

func (handler *Cache) List(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	items, err := handler.Service.List(c.UserContext(), sessionID)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session artifacts listed",
		Results: items,
	})
}

func (handler *Cache) GetStats(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	stats, err := handler.Service.GetStats(c.UserContext(), sessionID)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session stats retrieved",
		Results: stats,
	})
}

func (handler *Cache) EvictOldest(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	removed, err := handler.Service.EvictOldest(c.UserContext(), sessionID)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Eviction pass completed",
		Results: fiber.Map{"removed": removed},
	})
}

func (handler *Cache) ClearSession(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	removed, err := handler.Service.ClearSession(c.UserContext(), sessionID)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Session cleared",
		Results: fiber.Map{"removed": removed},
	})
}

func (handler *Cache) GetGlobalStats(c *fiber.Ctx) error {
	stats, err := handler.Service.GetGlobalStats(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Global cache stats retrieved",
		Results: stats,
	})
}

func (handler *Cache) CheckGlobalQuota(c *fiber.Ctx) error {
	exceeded, err := handler.Service.CheckGlobalQuota(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Global quota checked",
		Results: fiber.Map{"exceeded": exceeded},
	})
}

func (handler *Cache) GetConfig(c *fiber.Ctx) error {
	config, err := handler.Service.GetConfig(c.UserContext())
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Cache config retrieved",
		Results: config,
	})
}

func (handler *Cache) UpdateConfig(c *fiber.Ctx) error {
	var update domainArtifact.CacheConfigUpdate
	if err := c.BodyParser(&update); err != nil {
		return c.Status(400).JSON(utils.ResponseData{
			Status:  400,
			Code:    "BAD_REQUEST",
			Message: err.Error(),
		})
	}

	config, err := handler.Service.SetConfig(c.UserContext(), update)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Cache config updated",
		Results: config,
	})
}

type cleanupOrphansRequest struct {
	MaxAgeHours int `json:"maxAgeHours"`
}

func (handler *Cache) CleanupOrphans(c *fiber.Ctx) error {
	var request cleanupOrphansRequest
	_ = c.BodyParser(&request)

	removed, err := handler.Service.CleanupOrphans(c.UserContext(), time.Duration(request.MaxAgeHours)*time.Hour)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Orphan cleanup completed",
		Results: fiber.Map{"removed": removed},
	})
}

type cleanupOutdatedRequest struct {
	MaxAgeDays int `json:"maxAgeDays"`
}

func (handler *Cache) CleanupOutdated(c *fiber.Ctx) error {
	var request cleanupOutdatedRequest
	_ = c.BodyParser(&request)

	removed, err := handler.Service.CleanupOutdated(c.UserContext(), request.MaxAgeDays)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: "Outdated cleanup completed",
		Results: fiber.Map{"removed": removed},
	})
}
