package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mathysIN/copyman/internal/auth"
	"github.com/mathysIN/copyman/internal/room"
	"github.com/mathysIN/copyman/internal/session"
	"go.uber.org/zap"
)

const (
	// senderHeader carries the ephemeral sender id of a one-shot HTTP
	// mutation. The caller already applied the mutation from the call's
	// direct response, so broadcast excludes this id like a connection id.
	senderHeader = "X-Sender-Id"

	cookieMaxAge = 10 * 365 * 24 * 60 * 60
)

var (
	errMissingStore    = errors.New("session store dependency required")
	errMissingGate     = errors.New("access gate dependency required")
	errMissingHasher   = errors.New("password hasher dependency required")
	errMissingRegistry = errors.New("room registry dependency required")
)

// Dependencies wires the engine's services into the HTTP surface.
type Dependencies struct {
	Store       *session.Store
	Gate        *auth.Gate
	Hasher      *auth.PasswordHasher
	ShareTokens *auth.ShareTokenIssuer
	Registry    *room.Registry
	Storage     ObjectStorage
	Logger      *zap.Logger
}

// NewHTTPHandler builds the router exposing the session API and the
// realtime channel.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Gate == nil {
		return nil, errMissingGate
	}
	if deps.Hasher == nil {
		return nil, errMissingHasher
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	storage := deps.Storage
	if storage == nil {
		storage = NoopObjectStorage{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", senderHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		store:       deps.Store,
		gate:        deps.Gate,
		hasher:      deps.Hasher,
		shareTokens: deps.ShareTokens,
		registry:    deps.Registry,
		storage:     storage,
		logger:      logger,
	}

	api := router.Group("/api")
	api.GET("/sessions", handler.handleSessionLookup)
	api.POST("/sessions", handler.handleSessionCreateOrJoin)
	api.PATCH("/sessions", handler.handleSessionPassword)
	api.PATCH("/sessions/background", handler.handleSessionBackground)
	api.POST("/sessions/share", handler.handleSessionShare)

	api.GET("/content", handler.handleContentList)
	api.POST("/content/notes", handler.handleNoteCreate)
	api.POST("/content/attachments", handler.handleAttachmentCreate)
	api.PATCH("/content", handler.handleContentUpdate)
	api.DELETE("/content", handler.handleContentDelete)
	api.PUT("/content/order", handler.handleContentOrder)

	router.GET("/socket", handler.handleRealtime)

	return router, nil
}

type httpHandler struct {
	store       *session.Store
	gate        *auth.Gate
	hasher      *auth.PasswordHasher
	shareTokens *auth.ShareTokenIssuer
	registry    *room.Registry
	storage     ObjectStorage
	logger      *zap.Logger
}

// authenticatedSession gates a request and writes the failure response
// itself when the credentials do not hold.
func (h *httpHandler) authenticatedSession(c *gin.Context) (session.Session, bool) {
	record, err := h.gate.SessionFromRequest(c.Request.Context(), c.Request)
	if err != nil {
		h.respondError(c, err)
		return session.Session{}, false
	}
	return record, true
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrNoCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	case errors.Is(err, auth.ErrPasswordMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrContentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, session.ErrSessionExists):
		c.JSON(http.StatusConflict, gin.H{"error": "session_exists"})
	case errors.Is(err, session.ErrInvalidSessionID), errors.Is(err, session.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) senderID(c *gin.Context) string {
	return c.GetHeader(senderHeader)
}

func (h *httpHandler) broadcast(c *gin.Context, sessionID, event string, payload any) {
	encoded, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error("failed to encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	h.registry.Broadcast(sessionID, h.senderID(c), encoded)
}

func (h *httpHandler) setSessionCookies(c *gin.Context, sessionID, passwordHash string) {
	c.SetCookie(h.gate.SessionCookieName(), sessionID, cookieMaxAge, "/", "", false, false)
	if passwordHash != "" {
		c.SetCookie(h.gate.PasswordCookieName(), passwordHash, cookieMaxAge, "/", "", false, false)
	}
}

type sessionLookupResponse struct {
	CreateNewSession bool   `json:"createNewSession,omitempty"`
	SessionID        string `json:"sessionId,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
	HasPassword      bool   `json:"hasPassword"`
	IsValidPassword  bool   `json:"isValidPassword"`
}

func (h *httpHandler) handleSessionLookup(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.store.Get(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrInvalidSessionID) {
			c.JSON(http.StatusOK, sessionLookupResponse{CreateNewSession: true})
			return
		}
		h.respondError(c, err)
		return
	}

	candidate := ""
	if rawPassword := c.Query("password"); rawPassword != "" {
		candidate = h.hasher.Hash(rawPassword)
	}
	c.JSON(http.StatusOK, sessionLookupResponse{
		SessionID:       record.SessionID,
		CreatedAt:       record.CreatedAt,
		HasPassword:     record.HasPassword(),
		IsValidPassword: h.gate.Verify(record, candidate),
	})
}

type sessionCreateRequest struct {
	Session  string `json:"session"`
	Password string `json:"password"`
	Join     bool   `json:"join"`
}

func (h *httpHandler) handleSessionCreateOrJoin(c *gin.Context) {
	var request sessionCreateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	candidate := ""
	if request.Password != "" {
		candidate = h.hasher.Hash(request.Password)
	}

	if request.Join {
		record, err := h.store.Get(c.Request.Context(), request.Session)
		if err != nil {
			h.respondError(c, err)
			return
		}
		if !h.gate.Verify(record, candidate) {
			h.respondError(c, auth.ErrPasswordMismatch)
			return
		}
		h.setSessionCookies(c, record.SessionID, candidate)
		c.JSON(http.StatusOK, record)
		return
	}

	record, err := h.store.Create(c.Request.Context(), request.Session, session.NewSession{PasswordHash: candidate})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.setSessionCookies(c, record.SessionID, candidate)
	c.JSON(http.StatusCreated, record)
}

type sessionPasswordRequest struct {
	Password string `json:"password"`
}

func (h *httpHandler) handleSessionPassword(c *gin.Context) {
	record, ok := h.authenticatedSession(c)
	if !ok {
		return
	}

	var request sessionPasswordRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	hash := ""
	if request.Password != "" {
		hash = h.hasher.Hash(request.Password)
	}
	if err := h.store.SetField(c.Request.Context(), record.SessionID, map[string]string{"password": hash}); err != nil {
		h.respondError(c, err)
		return
	}
	h.setSessionCookies(c, record.SessionID, hash)
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

type sessionBackgroundRequest struct {
	BackgroundImageURL string `json:"backgroundImageURL"`
}

func (h *httpHandler) handleSessionBackground(c *gin.Context) {
	record, ok := h.authenticatedSession(c)
	if !ok {
		return
	}

	var request sessionBackgroundRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.store.SetField(c.Request.Context(), record.SessionID, map[string]string{"backgroundImageURL": request.BackgroundImageURL}); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "background updated"})
}

func (h *httpHandler) handleSessionShare(c *gin.Context) {
	record, ok := h.authenticatedSession(c)
	if !ok {
		return
	}
	if h.shareTokens == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sharing_disabled"})
		return
	}
	token, expiresIn, err := h.shareTokens.Issue(record.SessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expiresIn": expiresIn})
}

func (h *httpHandler) handleContentList(c *gin.Context) {
	record, ok := h.authenticatedSession(c)
	if !ok {
		return
	}

	records, err := h.store.ListContent(c.Request.Context(), record.SessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	session.SortContent(records, session.DecodeOrder(record.RawContentOrder))
	c.JSON(http.StatusOK, records)
}

type noteCreateRequest struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleNoteCreate(c *gin.Context) {
	record, ok := h.authenticatedSession(c)
	if !ok {
		return
	}

	var request noteCreateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	created, err := h.store.CreateNote(c.Request.Context(), record.SessionID, session.NewNote{Body: request.Content})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.broadcast(c, record.SessionID, EventAddContent, []session.Content{created})
	c.JSON(http.StatusCreated, created)
}

type attachmentCreateRequest struct {
	AttachmentPath string `json:"attachmentPath"`
	AttachmentURL  string `json:"attachmentURL"`
	FileKey        string `json:"fileKey"`
	Size           int64  `json:"size"`
}

func (h *httpHandler) handleAttachmentCreate(c *gin.Context) {
	record, ok := h.authenticatedSession(c)
	if !ok {
		return
	}

	var request attachmentCreateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	created, err := h.store.CreateAttachment(c.Request.Context(), record.SessionID, session.NewAttachment{
		AttachmentPath: request.AttachmentPath,
		AttachmentURL:  request.AttachmentURL,
		FileKey:        request.FileKey,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	size := request.Size
	if size == 0 {
		if measured, err := h.storage.ObjectSize(c.Request.Context(), request.FileKey); err == nil {
			size = measured
		} else {
			h.logger.Info("object size lookup failed", zap.String("file_key", request.FileKey), zap.Error(err))
		}
	}
	if size > 0 {
		if err := h.store.AdjustUsedSpace(c.Request.Context(), record.SessionID, size); err != nil {
			h.logger.Error("failed to credit used space",
				zap.String("session_id", record.SessionID), zap.Error(err))
		}
	}

	h.broadcast(c, record.SessionID, EventAddContent, []session.Content{created})
	c.JSON(http.StatusCreated, created)
}

type contentUpdateRequest struct {
	Content        string `json:"content"`
	AttachmentPath string `json:"attachmentPath"`
}

func (h *httpHandler) handleContentUpdate(c *gin.Context) {
	record, ok := h.authenticatedSession(c)
	if !ok {
		return
	}
	contentID := c.Query("contentId")
	if contentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "contentId is required"})
		return
	}

	var request contentUpdateRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	existing, err := h.store.GetContent(c.Request.Context(), record.SessionID, contentID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	updates := make(map[string]string)
	switch existing.(type) {
	case session.Note:
		if request.Content == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
			return
		}
		updates["content"] = request.Content
	case session.Attachment:
		if request.AttachmentPath == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "attachmentPath is required"})
			return
		}
		updates["attachmentPath"] = request.AttachmentPath
	}

	updated, err := h.store.UpdateContent(c.Request.Context(), record.SessionID, contentID, updates)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.broadcast(c, record.SessionID, EventUpdatedContent, updated)
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleContentDelete(c *gin.Context) {
	record, ok := h.authenticatedSession(c)
	if !ok {
		return
	}
	contentID := c.Query("contentId")
	if contentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "contentId is required"})
		return
	}

	deleted, err := h.store.DeleteContent(c.Request.Context(), record.SessionID, contentID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if attachment, ok := deleted.(session.Attachment); ok {
		if size, err := h.storage.ObjectSize(c.Request.Context(), attachment.FileKey); err == nil && size > 0 {
			if err := h.store.AdjustUsedSpace(c.Request.Context(), record.SessionID, -size); err != nil {
				h.logger.Error("failed to debit used space",
					zap.String("session_id", record.SessionID), zap.Error(err))
			}
		}
		if err := h.storage.DeleteObject(c.Request.Context(), attachment.FileKey); err != nil {
			h.logger.Error("failed to delete stored object",
				zap.String("file_key", attachment.FileKey), zap.Error(err))
		}
	}

	h.broadcast(c, record.SessionID, EventDeleteContent, contentID)
	c.JSON(http.StatusOK, deleted)
}

func (h *httpHandler) handleContentOrder(c *gin.Context) {
	record, ok := h.authenticatedSession(c)
	if !ok {
		return
	}

	var order []string
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	for _, id := range order {
		if _, err := uuid.Parse(id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_order"})
			return
		}
	}

	if err := h.store.SetContentOrder(c.Request.Context(), record.SessionID, order); err != nil {
		h.respondError(c, err)
		return
	}
	h.broadcast(c, record.SessionID, EventUpdatedContentOrder, order)
	c.JSON(http.StatusOK, gin.H{"message": "order updated"})
}
