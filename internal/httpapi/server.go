// Package httpapi serves the REST query views over the room registry.
package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/park285/chessroom/internal/msgcat"
	"github.com/park285/chessroom/internal/obslog"
	"github.com/park285/chessroom/internal/room"
	"github.com/park285/chessroom/pkg/roomdto"
	"go.uber.org/zap"
)

// Error codes in REST error bodies.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeRoomNotFound   = "ROOM_NOT_FOUND"
	CodeTimeControl    = "TIME_CONTROL_NOT_ALLOWED"
	CodeRateLimited    = "RATE_LIMIT_EXCEEDED"
	CodeInternal       = "INTERNAL_ERROR"
)

// RoomCloser deletes a room and tells its connected members.
type RoomCloser interface {
	CloseRoom(ctx context.Context, code string) error
}

// Lobby lists rooms mirrored by every instance sharing the directory.
type Lobby interface {
	List(ctx context.Context) ([]room.Summary, error)
	ListLobby(ctx context.Context) ([]room.Summary, error)
}

type Options struct {
	AllowedOrigins []string
	// Directory backs the cross-instance views; nil serves local rooms only.
	Directory Lobby
	// CreatePerMinute limits room creation per client IP; zero disables it.
	CreatePerMinute int
	Messages        *msgcat.Catalog
	// AccessLog enables the request log middleware.
	AccessLog bool
}

type Handler struct {
	reg    *room.Registry
	closer RoomCloser
	dir    Lobby
	msgs   *msgcat.Catalog
}

// NewApp builds the fiber app. closer may be nil, in which case rooms are
// deleted from the registry without notifying anyone.
func NewApp(reg *room.Registry, closer RoomCloser, opts Options) *fiber.App {
	h := &Handler{reg: reg, closer: closer, dir: opts.Directory, msgs: opts.Messages}
	if h.msgs == nil {
		h.msgs = msgcat.MustDefault()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          15 * time.Second,
		IdleTimeout:           60 * time.Second,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "${status} ${method} ${path} ${latency}\n",
			Output: zap.NewStdLog(obslog.L()).Writer(),
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins(opts.AllowedOrigins),
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/health", h.Health)

	api := app.Group("/api")
	create := []fiber.Handler{}
	if opts.CreatePerMinute > 0 {
		create = append(create, limiter.New(limiter.Config{
			Max:        opts.CreatePerMinute,
			Expiration: time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(roomdto.ErrorResponse{
					Error: "rate limit exceeded",
					Code:  CodeRateLimited,
				})
			},
		}))
	}
	create = append(create, h.CreateRoom)
	api.Post("/rooms", create...)
	api.Get("/rooms", h.ListRooms)
	api.Get("/lobby", h.Lobby)
	api.Get("/rooms/:code", h.GetRoom)
	api.Get("/rooms/:code/status", h.RoomStatus)
	api.Delete("/rooms/:code", h.DeleteRoom)

	return app
}

// corsOrigins turns websocket host patterns into CORS origins.
func corsOrigins(patterns []string) string {
	var out []string
	for _, p := range patterns {
		switch {
		case p == "*":
			return "*"
		case strings.Contains(p, "://"):
			out = append(out, p)
		default:
			out = append(out, "http://"+p, "https://"+p)
		}
	}
	if len(out) == 0 {
		return "*"
	}
	return strings.Join(out, ",")
}

func errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	body := roomdto.ErrorResponse{Error: "internal server error", Code: CodeInternal}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		body.Error = fe.Message
		switch status {
		case fiber.StatusNotFound:
			body.Code = "NOT_FOUND"
		case fiber.StatusBadRequest:
			body.Code = CodeInvalidRequest
		case fiber.StatusMethodNotAllowed:
			body.Code = "METHOD_NOT_ALLOWED"
		}
	} else {
		obslog.L().Error("http_internal_error", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(body)
}
