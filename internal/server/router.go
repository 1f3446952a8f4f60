package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/auth"
	"github.com/MarcoPoloResearchLab/remindful/internal/documents"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "remindful_user_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingDocumentStore    = errors.New("document store dependency required")
)

// SessionValidator authenticates an incoming request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies describes the HTTP handler collaborators.
type Dependencies struct {
	SessionValidator SessionValidator
	Store            documents.Store
	AllowedOrigins   []string
	Logger           *zap.Logger
}

// NewHTTPHandler builds the document API router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Store == nil {
		return nil, errMissingDocumentStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		sessions: deps.SessionValidator,
		store:    deps.Store,
		logger:   logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/v1")
	protected.Use(handler.authorizeRequest)
	protected.GET("/collections/:collection", handler.handleList)
	protected.GET("/collections/:collection/:id", handler.handleGet)
	protected.PUT("/collections/:collection/:id", handler.handleSet)
	protected.DELETE("/collections/:collection/:id", handler.handleDelete)
	protected.POST("/batch", handler.handleBatch)

	return router, nil
}

func corsMiddleware(origins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

type httpHandler struct {
	sessions SessionValidator
	store    documents.Store
	logger   *zap.Logger
}

type listResponsePayload struct {
	Documents []documents.WireDocument `json:"documents"`
}

type setRequestPayload struct {
	Data             map[string]any `json:"data"`
	Merge            bool           `json:"merge"`
	ServerTimestamps []string       `json:"server_timestamps"`
}

type batchRequestPayload struct {
	Writes []documents.WireWrite `json:"writes"`
}

func (h *httpHandler) handleList(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	query := documents.Query{
		OrderBy: strings.TrimSpace(c.Query("order_by")),
		Exists:  splitFields(c.Query("exists")),
		Missing: splitFields(c.Query("missing")),
	}
	docs, err := h.store.List(c.Request.Context(), userID, c.Param("collection"), query)
	if err != nil {
		h.respondError(c, "list", err)
		return
	}
	response := listResponsePayload{Documents: make([]documents.WireDocument, 0, len(docs))}
	for _, doc := range docs {
		response.Documents = append(response.Documents, documents.ToWire(doc))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGet(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	doc, found, err := h.store.Get(c.Request.Context(), userID, c.Param("collection"), c.Param("id"))
	if err != nil {
		h.respondError(c, "get", err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, documents.WireError{Error: "not_found", Code: "documents.get.not_found"})
		return
	}
	c.JSON(http.StatusOK, documents.ToWire(doc))
}

func (h *httpHandler) handleSet(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request setRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, documents.WireError{Error: "invalid_request"})
		return
	}
	doc, err := h.store.Set(c.Request.Context(), userID, documents.Write{
		Collection:       c.Param("collection"),
		DocID:            c.Param("id"),
		Data:             request.Data,
		Merge:            request.Merge,
		ServerTimestamps: request.ServerTimestamps,
	})
	if err != nil {
		h.respondError(c, "set", err)
		return
	}
	c.JSON(http.StatusOK, documents.ToWire(doc))
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.store.Delete(c.Request.Context(), userID, c.Param("collection"), c.Param("id")); err != nil {
		h.respondError(c, "delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleBatch(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request batchRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Writes) == 0 {
		c.JSON(http.StatusBadRequest, documents.WireError{Error: "invalid_request"})
		return
	}
	writes := make([]documents.Write, 0, len(request.Writes))
	for _, write := range request.Writes {
		writes = append(writes, documents.WriteFromWire(write))
	}
	if err := h.store.Commit(c.Request.Context(), userID, writes); err != nil {
		h.respondError(c, "batch", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	status := documents.HTTPStatus(err)
	code := documents.ErrorCode(err)
	reason := "request_failed"
	if status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge {
		reason = "invalid_request"
		h.logger.Info("document request rejected", zap.String("operation", operation), zap.String("code", code), zap.Error(err))
	} else {
		h.logger.Error("document request failed", zap.String("operation", operation), zap.String("code", code), zap.Error(err))
	}
	c.JSON(status, documents.WireError{Error: reason, Code: code})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrExpiredSessionToken), errors.Is(err, auth.ErrMissingSessionToken):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, documents.WireError{Error: "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

func splitFields(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	fields := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			fields = append(fields, trimmed)
		}
	}
	return fields
}
