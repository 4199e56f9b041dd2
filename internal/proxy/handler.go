package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/bufcache/internal/backing"
	"github.com/any-hub/bufcache/internal/cache"
	"github.com/any-hub/bufcache/internal/server"
)

var errBadRequest = errors.New("bad request")

// Handler 把 /v1/handles 的 HTTP 请求翻译为 Manager 调用，实现 server.FileHandler。
type Handler struct {
	files  *Manager
	logger *logrus.Logger
}

// NewHandler 基于 Manager 构造 HTTP 适配层。
func NewHandler(files *Manager, logger *logrus.Logger) *Handler {
	return &Handler{files: files, logger: logger}
}

type openRequest struct {
	Path   string `json:"path"`
	Mode   string `json:"mode"`
	Create bool   `json:"create"`
}

// Open 处理 POST /v1/handles。
func (h *Handler) Open(c fiber.Ctx) error {
	var req openRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return h.respondError(c, "handle_open", fmt.Errorf("%w: %v", errBadRequest, err))
	}
	if strings.TrimSpace(req.Path) == "" {
		return h.respondError(c, "handle_open", fmt.Errorf("%w: path is required", errBadRequest))
	}
	flags, err := backing.ParseMode(req.Mode)
	if err != nil {
		return h.respondError(c, "handle_open", fmt.Errorf("%w: %v", errBadRequest, err))
	}
	session, err := h.files.Open(req.Path, flags, req.Create)
	if err != nil {
		return h.respondError(c, "handle_open", err)
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

// Read 处理 GET /v1/handles/:id?offset=&length=。
func (h *Handler) Read(c fiber.Ctx) error {
	off, err := queryInt(c, "offset", true)
	if err != nil {
		return h.respondError(c, "handle_read", err)
	}
	length, err := queryInt(c, "length", false)
	if err != nil {
		return h.respondError(c, "handle_read", err)
	}
	data, err := h.files.Read(c.Params("id"), off, int(length))
	if err != nil {
		return h.respondError(c, "handle_read", err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Status(fiber.StatusOK).Send(data)
}

// Write 处理 PUT /v1/handles/:id?offset=，请求体即写入内容。
func (h *Handler) Write(c fiber.Ctx) error {
	off, err := queryInt(c, "offset", true)
	if err != nil {
		return h.respondError(c, "handle_write", err)
	}
	n, err := h.files.Write(c.Params("id"), off, c.Body())
	if err != nil {
		return h.respondError(c, "handle_write", err)
	}
	return c.JSON(fiber.Map{"written": n})
}

// Sync 处理 POST /v1/handles/:id/sync。
func (h *Handler) Sync(c fiber.Ctx) error {
	if err := h.files.Sync(c.Params("id")); err != nil {
		return h.respondError(c, "handle_sync", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Close 处理 DELETE /v1/handles/:id。
func (h *Handler) Close(c fiber.Ctx) error {
	if err := h.files.Close(c.Params("id")); err != nil {
		return h.respondError(c, "handle_close", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// queryInt 解析非负整数查询参数；optional 为 true 时缺省为 0。
func queryInt(c fiber.Ctx, key string, optional bool) (int64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		if optional {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %s is required", errBadRequest, key)
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return value, nil
}

func (h *Handler) respondError(c fiber.Ctx, action string, err error) error {
	status, code := classifyError(err)
	fields := logrus.Fields{
		"action": action,
		"handle": c.Params("id"),
		"status": status,
		"error":  code,
	}
	if reqID := server.RequestID(c); reqID != "" {
		fields["request_id"] = reqID
	}
	entry := h.logger.WithFields(fields)
	if status >= fiber.StatusInternalServerError {
		entry.Error(err.Error())
	} else {
		entry.Warn(err.Error())
	}
	return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
}

// classifyError 将领域错误映射为 HTTP 状态码与稳定的错误码。
func classifyError(err error) (int, string) {
	var short *cache.ShortTransferError
	switch {
	case errors.Is(err, errBadRequest):
		return fiber.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrInvalidRange), errors.Is(err, cache.ErrInvalidArgument):
		return fiber.StatusBadRequest, "invalid_argument"
	case errors.Is(err, backing.ErrInvalidPath):
		return fiber.StatusBadRequest, "invalid_path"
	case errors.Is(err, ErrHandleNotFound):
		return fiber.StatusNotFound, "handle_not_found"
	case errors.Is(err, backing.ErrNotFound):
		return fiber.StatusNotFound, "file_not_found"
	case errors.Is(err, cache.ErrReadOnly):
		return fiber.StatusForbidden, "read_only"
	case errors.Is(err, ErrWriteOnly):
		return fiber.StatusForbidden, "write_only"
	case errors.Is(err, ErrManagerClosed):
		return fiber.StatusServiceUnavailable, "shutting_down"
	case errors.As(err, &short):
		return fiber.StatusBadGateway, "short_transfer"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}
