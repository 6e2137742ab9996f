package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/chats"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "murmur_user_id"

	defaultCookieName   = "token"
	accessTokenQueryKey = "access_token"
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUsers         = errors.New("users service dependency required")
	errMissingPosts         = errors.New("posts service dependency required")
	errMissingGraph         = errors.New("graph mutator dependency required")
	errMissingNotifications = errors.New("notifications service dependency required")
	errMissingChats         = errors.New("chats service dependency required")
	errMissingRealtime      = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues session tokens and resolves them back to a user id.
type TokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// StaticAssets describes the directory served under a public URL prefix.
type StaticAssets struct {
	Directory  string
	PublicPath string
}

type Dependencies struct {
	TokenManager   TokenManager
	Users          *users.Service
	Posts          *posts.Service
	Graph          *graph.Mutator
	Notifications  *notifications.Service
	Chats          *chats.Service
	Realtime       *realtime.Dispatcher
	Assets         StaticAssets
	AllowedOrigins []string
	CookieName     string
	CookieSecure   bool
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Posts == nil {
		return nil, errMissingPosts
	}
	if deps.Graph == nil {
		return nil, errMissingGraph
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}
	if deps.Chats == nil {
		return nil, errMissingChats
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cookieName := strings.TrimSpace(deps.CookieName)
	if cookieName == "" {
		cookieName = defaultCookieName
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(accessLogMiddleware(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		tokens:         deps.TokenManager,
		users:          deps.Users,
		posts:          deps.Posts,
		graph:          deps.Graph,
		notifications:  deps.Notifications,
		chats:          deps.Chats,
		realtime:       deps.Realtime,
		allowedOrigins: deps.AllowedOrigins,
		cookieName:     cookieName,
		cookieSecure:   deps.CookieSecure,
		heartbeat:      defaultHeartbeatInterval,
		logger:         logger,
	}

	if deps.Assets.Directory != "" && deps.Assets.PublicPath != "" {
		router.Static(deps.Assets.PublicPath, deps.Assets.Directory)
	}

	authGroup := router.Group("/auth")
	authGroup.POST("/register", handler.handleRegister)
	authGroup.POST("/login", handler.handleLogin)
	authGroup.GET("/logout", handler.authorizeRequest, handler.handleLogout)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/users", handler.handleSearchUsers)
	protected.GET("/users/me", handler.handleMyProfile)
	protected.GET("/users/me/notification", handler.handleListNotifications)
	protected.PUT("/users/me/notification/read", handler.handleMarkNotificationsRead)
	protected.GET("/users/random/u", handler.handleSuggestUsers)
	protected.GET("/users/:idOrUsername", handler.handleFindUser)
	protected.PUT("/users/update/profile", handler.handleUpdateProfile)
	protected.PUT("/users/update/password", handler.handleUpdatePassword)
	protected.DELETE("/users/delete/me", handler.handleDeleteMe)
	protected.PUT("/users/follow/:id", handler.handleToggleFollow)
	protected.POST("/users/:id/follow", handler.handleSetFollow(true))
	protected.DELETE("/users/:id/follow", handler.handleSetFollow(false))

	protected.GET("/posts", handler.handleListPosts)
	protected.POST("/posts", handler.handleCreatePost)
	protected.GET("/posts/feed", handler.handleFeed)
	protected.GET("/posts/post/:id", handler.handleGetPost)
	protected.PUT("/posts/:id", handler.handleUpdatePost)
	protected.DELETE("/posts/:id", handler.handleDeletePost)
	protected.PUT("/posts/like/:id", handler.handleToggleLike)
	protected.POST("/posts/:id/likes", handler.handleSetLike(true))
	protected.DELETE("/posts/:id/likes", handler.handleSetLike(false))
	protected.POST("/posts/comment/:id", handler.handleAddComment)
	protected.DELETE("/posts/comment/:id", handler.handleDeleteComment)

	protected.POST("/chat", handler.handleAccessChat)
	protected.GET("/chat", handler.handleListChats)
	protected.GET("/message/:chatId", handler.handleListMessages)
	protected.POST("/message", handler.handleSendMessage)

	protected.GET("/realtime/stream", handler.handleRealtimeStream)
	protected.GET("/realtime/ws", handler.handleRealtimeSocket)

	return router, nil
}

type httpHandler struct {
	tokens         TokenManager
	users          *users.Service
	posts          *posts.Service
	graph          *graph.Mutator
	notifications  *notifications.Service
	chats          *chats.Service
	realtime       *realtime.Dispatcher
	allowedOrigins []string
	cookieName     string
	cookieSecure   bool
	heartbeat      time.Duration
	logger         *zap.Logger
}

// corsMiddleware allows credentialed requests from the given origins. No origins, or "*", echoes any origin.
func corsMiddleware(origins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Cache-Control", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	allowed := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			allowed = nil
			break
		}
		if origin != "" {
			allowed = append(allowed, origin)
		}
	}
	if len(allowed) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowed
	}
	return cors.New(config)
}

func accessLogMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)),
		)
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, err := h.requestToken(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: err.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: "invalid or expired token"})
		return
	}
	exists, err := h.users.Exists(c.Request.Context(), subject)
	if err != nil {
		h.respondError(c, err)
		c.Abort()
		return
	}
	if !exists {
		h.logger.Info("token subject no longer exists", zap.String("user_id", subject))
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: "account no longer exists"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// requestToken reads the bearer header first, then the session cookie, then the access_token query parameter.
func (h *httpHandler) requestToken(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", errInvalidAuthorization
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			return "", errInvalidAuthorization
		}
		return token, nil
	}
	if cookie, err := c.Cookie(h.cookieName); err == nil && strings.TrimSpace(cookie) != "" {
		return strings.TrimSpace(cookie), nil
	}
	if token := strings.TrimSpace(c.Query(accessTokenQueryKey)); token != "" {
		return token, nil
	}
	return "", errInvalidAuthorization
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}
