package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pagecraft/pagecraft/backend/internal/auth"
	"github.com/pagecraft/pagecraft/backend/internal/notes"
	"github.com/pagecraft/pagecraft/backend/internal/realtime"
	"github.com/pagecraft/pagecraft/backend/internal/users"
)

const (
	userIDContextKey   = "pagecraft_user_id"
	usernameContextKey = "pagecraft_username"
)

var (
	errMissingTokenIssuer  = errors.New("token issuer dependency required")
	errMissingUsersService = errors.New("users service dependency required")
	errMissingNotesService = errors.New("notes service dependency required")
	errMissingHub          = errors.New("realtime hub dependency required")
)

// TokenIssuer validates bearer tokens and issues fresh session tokens.
type TokenIssuer interface {
	IssueSessionToken(userID, username string) (string, int64, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

type Dependencies struct {
	TokenIssuer    TokenIssuer
	UsersService   *users.Service
	NotesService   *notes.Service
	Hub            *realtime.Hub
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenIssuer == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:       deps.TokenIssuer,
		usersService: deps.UsersService,
		notesService: deps.NotesService,
		hub:          deps.Hub,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(origins),
		},
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notes", handler.handleListNotes)
	protected.POST("/notes", handler.handleCreateNote)
	protected.GET("/notes/:id", handler.handleGetNote)
	protected.PATCH("/notes/:id", handler.handleUpdateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)
	protected.GET("/notes/:id/blocks", handler.handleNoteBlocks)
	protected.GET("/ws", handler.handleWebSocket)

	return router, nil
}

type httpHandler struct {
	tokens       TokenIssuer
	usersService *users.Service
	notesService *notes.Service
	hub          *realtime.Hub
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionPayload struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

type userPayload struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.usersService.Register(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "username_taken"})
		case errors.Is(err, users.ErrInvalidUsername), errors.Is(err, users.ErrInvalidPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		default:
			h.logger.Error("failed to register user", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		}
		return
	}

	h.respondWithSession(c, http.StatusCreated, user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.usersService.Authenticate(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
			return
		}
		h.logger.Error("failed to authenticate user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.respondWithSession(c, http.StatusOK, user)
}

func (h *httpHandler) respondWithSession(c *gin.Context, status int, user users.User) {
	token, expiresIn, err := h.tokens.IssueSessionToken(user.ID, user.Username)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, sessionPayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User: userPayload{
			ID:        user.ID,
			Username:  user.Username,
			AvatarURL: user.AvatarURL,
		},
	})
}

type notePayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Icon      string `json:"icon,omitempty"`
	CreatedAt int64  `json:"created_at_s"`
	UpdatedAt int64  `json:"updated_at_s"`
}

func notePayloadFrom(note notes.Note) notePayload {
	return notePayload{
		ID:        note.ID,
		Title:     note.Title,
		Icon:      note.Icon,
		CreatedAt: note.CreatedAt.Unix(),
		UpdatedAt: note.UpdatedAt.Unix(),
	}
}

type createNotePayload struct {
	Title string `json:"title"`
	Icon  string `json:"icon"`
}

type patchNotePayload struct {
	Title *string `json:"title"`
	Icon  *string `json:"icon"`
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	list, err := h.notesService.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list notes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payload := make([]notePayload, 0, len(list))
	for _, note := range list {
		payload = append(payload, notePayloadFrom(note))
	}
	c.JSON(http.StatusOK, gin.H{"notes": payload})
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request createNotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.notesService.Create(c.Request.Context(), userID, request.Title, request.Icon)
	if err != nil {
		if errors.Is(err, notes.ErrInvalidTitle) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_title"})
			return
		}
		h.logger.Error("failed to create note", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, notePayloadFrom(note))
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	note, err := h.notesService.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondNoteError(c, err, "fetch_failed")
		return
	}
	c.JSON(http.StatusOK, notePayloadFrom(note))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var request patchNotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	note, err := h.notesService.Update(c.Request.Context(), c.Param("id"), userID, notes.NotePatch{
		Title: request.Title,
		Icon:  request.Icon,
	})
	if err != nil {
		if errors.Is(err, notes.ErrInvalidTitle) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_title"})
			return
		}
		h.respondNoteError(c, err, "update_failed")
		return
	}
	c.JSON(http.StatusOK, notePayloadFrom(note))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.notesService.Remove(c.Request.Context(), c.Param("id"), userID); err != nil {
		h.respondNoteError(c, err, "delete_failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// handleNoteBlocks serves the snapshot fetch used by clients before or
// outside a live session. The same list is returned by the joinedNote event.
func (h *httpHandler) handleNoteBlocks(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	noteID := c.Param("id")
	if _, err := h.notesService.Get(c.Request.Context(), noteID, userID); err != nil {
		h.respondNoteError(c, err, "fetch_failed")
		return
	}
	list, err := h.hub.Blocks(c.Request.Context(), noteID)
	if err != nil {
		h.logger.Error("failed to load blocks", zap.Error(err), zap.String("note_id", noteID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch_failed"})
		return
	}
	c.JSON(http.StatusOK, realtime.JoinedPayload{
		NoteID: noteID,
		Blocks: realtime.PayloadsFromBlocks(list),
	})
}

func (h *httpHandler) respondNoteError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, notes.ErrNoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, notes.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		h.logger.Error("note operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func (h *httpHandler) handleWebSocket(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := realtime.NewClient(h.hub, conn, userID, h.logger)
	client.Run(c.Request.Context())
}

// authorizeRequest accepts a bearer header, or a token query parameter for
// websocket handshakes where custom headers are unavailable.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Set(usernameContextKey, claims.Username)
	c.Next()
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	permitted := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		permitted[origin] = true
	}
	return func(r *http.Request) bool {
		return permitted[r.Header.Get("Origin")]
	}
}
