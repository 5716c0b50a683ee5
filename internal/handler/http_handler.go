package handler

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/roomchat/internal/avatar"
	"github.com/weiawesome/roomchat/internal/search"
	"github.com/weiawesome/roomchat/internal/service"
	"github.com/weiawesome/roomchat/internal/store"
	"github.com/weiawesome/roomchat/pkg/log"
	"github.com/weiawesome/roomchat/pkg/response"
)

// HTTPHandler serves the request/response side of the chat: room listings,
// history pages, history clearing, message search and avatar choices.
type HTTPHandler struct {
	service  service.ChatService
	avatars  *avatar.Catalog
	searcher *search.Searcher
}

// NewHTTPHandler wires the REST routes. searcher may be nil, in which case
// the search route is not registered.
func NewHTTPHandler(svc service.ChatService, avatars *avatar.Catalog, searcher *search.Searcher) *HTTPHandler {
	return &HTTPHandler{
		service:  svc,
		avatars:  avatars,
		searcher: searcher,
	}
}

// ActiveRoom is an occupied room and its member count.
type ActiveRoom struct {
	Room    string `json:"room"`
	Members int    `json:"members"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	Store           string `json:"store"`
	PersistFailures int64  `json:"persist_failures"`
	Rooms           int    `json:"rooms"`
}

// RegisterRoutes registers all routes.
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	{
		rooms := api.Group("/rooms")
		{
			rooms.GET("", h.ListRooms)
			rooms.GET("/active", h.ListActiveRooms)
			rooms.GET("/:room", h.GetRoom)
			rooms.DELETE("/:room/messages", h.ClearHistory)
		}

		api.GET("/avatars", h.ListAvatars)
		api.GET("/avatars/:name", h.GetAvatar)

		if h.searcher != nil {
			api.GET("/search", h.Search)
		}
	}
}

// ListRooms handles GET /api/v1/rooms
func (h *HTTPHandler) ListRooms(c *gin.Context) {
	ctx := c.Request.Context()

	rooms, err := h.service.ListRooms(ctx)
	if err != nil {
		h.storeError(c, err, "failed to list rooms")
		return
	}
	response.Success(c, gin.H{"rooms": rooms})
}

// ListActiveRooms handles GET /api/v1/rooms/active
func (h *HTTPHandler) ListActiveRooms(c *gin.Context) {
	counts := h.service.ActiveRooms()

	rooms := make([]ActiveRoom, 0, len(counts))
	for room, n := range counts {
		rooms = append(rooms, ActiveRoom{Room: room, Members: n})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Room < rooms[j].Room })

	response.Success(c, gin.H{"rooms": rooms})
}

// GetRoom handles GET /api/v1/rooms/:room
func (h *HTTPHandler) GetRoom(c *gin.Context) {
	ctx := c.Request.Context()

	page, err := h.service.GetRoomPage(ctx, c.Param("room"))
	if err != nil {
		h.storeError(c, err, "failed to load room")
		return
	}
	response.Success(c, page)
}

// ClearHistory handles DELETE /api/v1/rooms/:room/messages
func (h *HTTPHandler) ClearHistory(c *gin.Context) {
	ctx := c.Request.Context()
	room := c.Param("room")

	deleted, err := h.service.HandleClearHistory(ctx, room)
	if err != nil {
		h.storeError(c, err, "failed to clear history")
		return
	}
	response.Success(c, gin.H{"room": room, "deleted": deleted})
}

// Search handles GET /api/v1/search?q=&room=&offset=&limit=
func (h *HTTPHandler) Search(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var q search.Query
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "invalid search query: q is required, offset and limit must be integers")
		return
	}

	res, err := h.searcher.Search(ctx, q)
	if err != nil {
		l.Error().Err(err).Str(log.FieldRoom, q.Room).Msg("search failed")
		response.Error(c, http.StatusServiceUnavailable, response.CodeSearchUnavailable, "search unavailable")
		return
	}
	response.Success(c, res)
}

// ListAvatars handles GET /api/v1/avatars
func (h *HTTPHandler) ListAvatars(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	avatars, err := h.avatars.List(ctx)
	if err != nil {
		l.Error().Err(err).Msg("failed to list avatars")
		response.InternalError(c, "failed to list avatars")
		return
	}
	response.Success(c, gin.H{"avatars": avatars})
}

// GetAvatar handles GET /api/v1/avatars/:name by redirecting to the image.
func (h *HTTPHandler) GetAvatar(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	url, err := h.avatars.URL(ctx, c.Param("name"))
	if err != nil {
		if errors.Is(err, avatar.ErrNotFound) {
			response.NotFound(c, "avatar not found")
			return
		}
		l.Error().Err(err).Msg("failed to resolve avatar")
		response.InternalError(c, "failed to resolve avatar")
		return
	}
	c.Redirect(http.StatusFound, url)
}

// Health handles GET /health. A store outage reports "degraded" but keeps
// a 200 status: live chat still works without it.
func (h *HTTPHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	stats := h.service.Stats()

	resp := HealthResponse{
		Status:          "ok",
		Store:           "ok",
		PersistFailures: stats.PersistFailures,
		Rooms:           stats.Rooms,
	}
	if _, err := h.service.ListRooms(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = "unavailable"
	}
	c.JSON(http.StatusOK, resp)
}

func (h *HTTPHandler) storeError(c *gin.Context, err error, msg string) {
	l := log.Ctx(c.Request.Context())
	if errors.Is(err, store.ErrStoreUnavailable) {
		l.Warn().Err(err).Msg(msg)
		response.ServiceUnavailable(c, "message store unavailable")
		return
	}
	l.Error().Err(err).Msg(msg)
	response.InternalError(c, msg)
}
