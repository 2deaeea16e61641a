package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"formulachat/internal/auth"
	"formulachat/internal/models"
	"formulachat/internal/ocr"
	"formulachat/internal/relay"
	"formulachat/internal/store"
)

// Handler wires HTTP routes to the store, the auth gate and the stream proxy.
type Handler struct {
	store *store.Store
	auth  *auth.Service
	proxy *relay.Proxy
	ocr   *ocr.Client
	log   zerolog.Logger
}

// NewHandler constructs a Handler instance. ocrClient may be nil when no
// recognition credentials are configured.
func NewHandler(st *store.Store, authService *auth.Service, proxy *relay.Proxy, ocrClient *ocr.Client, log zerolog.Logger) *Handler {
	return &Handler{
		store: st,
		auth:  authService,
		proxy: proxy,
		ocr:   ocrClient,
		log:   log,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	gate := h.auth.Gate()

	authRoutes := router.Group("/v1/auth")
	authRoutes.POST("/register", h.register)
	authRoutes.POST("/login", h.login)
	authRoutes.POST("/logout", gate, h.logout)

	chatRoutes := router.Group("/v1/chat")
	chatRoutes.Use(gate)
	chatRoutes.GET("/index", h.index)
	chatRoutes.POST("/new", h.chatNew)
	chatRoutes.GET("/history", h.chatHistory)
	chatRoutes.GET("/:chat_id", h.chatContent)
	chatRoutes.DELETE("/:chat_id", h.chatDelete)
	chatRoutes.POST("/generate", h.generate)

	router.POST("/v1/ocr", gate, h.recognizeFormula)
}

// requireSession reads the gate's verdict. Every protected route answers
// the same 401 so a caller cannot tell which gate check failed.
func (h *Handler) requireSession(c *gin.Context) (*models.Session, bool) {
	ident := auth.IdentityFromContext(c)
	if !ident.Authenticated {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, false
	}
	return ident.Session, true
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	if _, err := h.store.FindUserByName(c.Request.Context(), req.Username); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "username already registered"})
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup user failed"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	user := &models.User{
		ID:           uuid.New(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.store.InsertUser(c.Request.Context(), user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "registration successful"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := h.store.FindUserByName(c.Request.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup user failed"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	session, err := h.auth.Issue(c.Request.Context(), user.ID)
	if err != nil {
		h.log.Error().Err(err).Str("user", user.Username).Msg("issue session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue session failed"})
		return
	}
	// The bearer credential is reflected back in the response header.
	c.Header("Authorization", "Bearer "+session.Token)
	c.JSON(http.StatusOK, gin.H{"message": "Login successful"})
}

func (h *Handler) logout(c *gin.Context) {
	session, ok := h.requireSession(c)
	if !ok {
		return
	}
	if err := h.auth.Logout(c.Request.Context(), session); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

func (h *Handler) index(c *gin.Context) {
	session, ok := h.requireSession(c)
	if !ok {
		return
	}
	c.String(http.StatusOK, "hello %s", session.ID)
}

type newChatRequest struct {
	Title string `json:"title"`
}

func (h *Handler) chatNew(c *gin.Context) {
	session, ok := h.requireSession(c)
	if !ok {
		return
	}
	var req newChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if utf8.RuneCountInString(req.Title) < 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title too short"})
		return
	}

	chat := &models.Chat{
		ID:        uuid.New(),
		UserID:    session.UserID,
		Title:     req.Title,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.InsertChat(c.Request.Context(), chat); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create chat failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"chat": chat})
}

func (h *Handler) chatHistory(c *gin.Context) {
	session, ok := h.requireSession(c)
	if !ok {
		return
	}
	chats, err := h.store.ListChats(c.Request.Context(), session.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list chats failed"})
		return
	}
	if chats == nil {
		chats = make([]models.Chat, 0)
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (h *Handler) chatContent(c *gin.Context) {
	session, ok := h.requireSession(c)
	if !ok {
		return
	}
	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	chat, err := h.store.FindChat(c.Request.Context(), chatID, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup chat failed"})
		return
	}
	messages, err := h.store.ListMessages(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list messages failed"})
		return
	}
	if messages == nil {
		messages = make([]models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{"chat": chat, "messages": messages})
}

func (h *Handler) chatDelete(c *gin.Context) {
	session, ok := h.requireSession(c)
	if !ok {
		return
	}
	chatID, err := uuid.Parse(c.Param("chat_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	if err := h.store.DeleteChat(c.Request.Context(), chatID, session.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete chat failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type generateRequest struct {
	ChatID string `json:"chat_id"`
	Prompt string `json:"prompt"`
}

func (h *Handler) generate(c *gin.Context) {
	session, ok := h.requireSession(c)
	if !ok {
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	chatID, err := uuid.Parse(req.ChatID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	if _, err := h.store.FindChat(c.Request.Context(), chatID, session.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup chat failed"})
		return
	}

	// The response body is the upstream generator's bytes, passed through
	// untouched; the status line is committed on the first relayed chunk.
	c.Header("Content-Type", "application/json")
	err = h.proxy.Generate(c.Request.Context(), chatID, req.Prompt, c.Writer, func() {
		c.Writer.Flush()
	})
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID.String()).Msg("generate exchange failed")
		if !c.Writer.Written() {
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream generator unavailable"})
		}
		return
	}
}

type ocrRequest struct {
	Image string `json:"image"`
}

func (h *Handler) recognizeFormula(c *gin.Context) {
	if _, ok := h.requireSession(c); !ok {
		return
	}
	if h.ocr == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ocr not configured"})
		return
	}
	var req ocrRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Image == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image is required"})
		return
	}
	latex, err := h.ocr.ImageToLatex(c.Request.Context(), req.Image)
	if err != nil {
		h.log.Error().Err(err).Msg("formula recognition failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "recognition failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"latex": latex})
}
