package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/auth"
	"github.com/code-100-precent/LingClassroom/pkg/cache"
	"github.com/code-100-precent/LingClassroom/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	RouteWebSocket = "/ws/:user_id"
	RouteHealth    = "/health"
	RouteStats     = "/api/dashboard/stats"
	RouteWSStats   = "/api/ws/stats"
	RouteQuiz      = "/api/notify/quiz"
	RouteSystem    = "/api/notify/system"
	RouteLetters   = "/api/letters"
	RouteStatsPush = "/api/stats"
	RouteRoomChat  = "/api/rooms/:room_id/messages"
	RouteKick      = "/api/users/:user_id/disconnect"
	RouteTokens    = "/api/tokens"
)

// Options configures a Server. Zero values select defaults.
type Options struct {
	Addr  string
	Token string
	// Tokens, when set, makes /ws require a socket token issued for the
	// requested user id, passed as ?token= or a bearer header.
	Tokens       *auth.TokenManager
	MetricsPath  string
	Hub          *HubConfig
	Cache        cache.Cache
	InitialStats []byte
	RecentWindow int
	Logger       *zap.Logger
	HubLogger    *logrus.Logger
}

// Server is the development backend
type Server struct {
	opts     Options
	hub      *Hub
	stats    *StatsStore
	engine   *gin.Engine
	ownCache bool
	letterID atomic.Int64
}

// New builds the server; it does not listen.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Addr == "" {
		opts.Addr = ":8000"
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{opts: opts}
	if opts.Cache == nil {
		opts.Cache = cache.NewLRUCache(cache.LRUCacheConfig{MaxSize: 16})
		s.ownCache = true
		s.opts.Cache = opts.Cache
	}

	stats, err := NewStatsStore(ctx, opts.Cache, opts.InitialStats, opts.RecentWindow)
	if err != nil {
		return nil, err
	}
	s.stats = stats
	s.hub = NewHub(opts.Hub, opts.HubLogger)
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(s.opts.Logger),
		middleware.RecoveryMiddleware(s.opts.Logger),
		middleware.CorsMiddleware(),
		middleware.CompressionMiddleware(nil),
	)

	r.GET(RouteWebSocket, s.handleWebSocket)
	r.GET(RouteHealth, s.handleHealth)
	r.GET(s.opts.MetricsPath, gin.WrapH(promhttp.Handler()))

	api := r.Group("", middleware.BearerAuthMiddleware(s.opts.Token))
	api.GET(RouteStats, s.handleStats)
	api.GET(RouteWSStats, s.handleWSStats)
	api.POST(RouteQuiz, s.handleQuiz)
	api.POST(RouteSystem, s.handleSystem)
	api.POST(RouteLetters, s.handleLetter)
	api.POST(RouteStatsPush, s.handleStatsPush)
	api.POST(RouteRoomChat, s.handleRoomChat)
	api.POST(RouteKick, s.handleKick)
	api.POST(RouteTokens, s.handleIssueToken)
	return r
}

// Handler exposes the routes, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Stats() *StatsStore { return s.stats }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("devserver listening", zap.String("addr", s.opts.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("devserver shutdown: %w", err)
	}
	return nil
}

// Close releases the hub and the cache it created.
func (s *Server) Close() {
	s.hub.Close()
	if s.ownCache {
		_ = s.opts.Cache.Close()
	}
}

// PushQuizCompleted notifies userID of a finished quiz.
func (s *Server) PushQuizCompleted(userID, title string, score float64) (int, error) {
	data, err := QuizCompleted(title, score)
	if err != nil {
		return 0, err
	}
	return s.hub.SendToUser(userID, data), nil
}

// PushSystemNotification notifies userID, or everyone when userID is empty.
func (s *Server) PushSystemNotification(userID, title, message, severity string) (int, error) {
	data, err := SystemNotification(title, message, severity)
	if err != nil {
		return 0, err
	}
	if userID == "" {
		return s.hub.BroadcastAll(data), nil
	}
	return s.hub.SendToUser(userID, data), nil
}

// PushLetter announces generation, records the letter and delivers it.
func (s *Server) PushLetter(ctx context.Context, userID, title, content string) (int, error) {
	generating, err := ParentLetterGenerating()
	if err != nil {
		return 0, err
	}
	s.hub.SendToUser(userID, generating)

	data, err := ParentLetterGenerated(s.letterID.Add(1), title, content)
	if err != nil {
		return 0, err
	}
	if _, err := s.stats.RecordLetter(ctx, []byte(gjson.GetBytes(data, "data").Raw)); err != nil {
		return 0, err
	}
	return s.hub.SendToUser(userID, data), nil
}

// PushStats merges partial into the stored aggregate and broadcasts it.
func (s *Server) PushStats(ctx context.Context, partial []byte) (int, error) {
	if _, err := s.stats.Merge(ctx, partial); err != nil {
		return 0, err
	}
	data, err := StatsUpdate(partial)
	if err != nil {
		return 0, err
	}
	return s.hub.BroadcastAll(data), nil
}

// PushRoomMessage broadcasts a server-originated chat line to roomID.
func (s *Server) PushRoomMessage(roomID, sender, message string) (int, error) {
	data, err := NewMessage(roomID, sender, message)
	if err != nil {
		return 0, err
	}
	return s.hub.BroadcastToRoom(roomID, data), nil
}

func (s *Server) handleWebSocket(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user ID cannot be empty"})
		return
	}
	if s.opts.Tokens != nil {
		token := c.Query("token")
		if token == "" {
			token = middleware.ExtractBearer(c)
		}
		if _, err := s.opts.Tokens.ValidateFor(token, userID); err != nil {
			s.opts.Logger.Debug("socket token rejected", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid socket token"})
			return
		}
	}
	s.hub.ServeWS(c.Writer, c.Request, userID)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"connections": s.hub.ConnectionCount(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.stats.Get(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", stats)
}

func (s *Server) handleWSStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"total_connections": s.hub.ConnectionCount(),
		"max_connections":   s.hub.config.MaxConnections,
	})
}

func (s *Server) handleQuiz(c *gin.Context) {
	var req struct {
		UserID string  `json:"user_id" binding:"required"`
		Title  string  `json:"title" binding:"required"`
		Score  float64 `json:"score"`
	}
	if !bind(c, &req) {
		return
	}
	n, err := s.PushQuizCompleted(req.UserID, req.Title, req.Score)
	respond(c, n, err)
}

func (s *Server) handleSystem(c *gin.Context) {
	var req struct {
		UserID  string `json:"user_id"`
		Title   string `json:"title" binding:"required"`
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if !bind(c, &req) {
		return
	}
	n, err := s.PushSystemNotification(req.UserID, req.Title, req.Message, req.Type)
	respond(c, n, err)
}

func (s *Server) handleLetter(c *gin.Context) {
	var req struct {
		UserID  string `json:"user_id" binding:"required"`
		Title   string `json:"title" binding:"required"`
		Content string `json:"content"`
	}
	if !bind(c, &req) {
		return
	}
	n, err := s.PushLetter(c.Request.Context(), req.UserID, req.Title, req.Content)
	respond(c, n, err)
}

func (s *Server) handleStatsPush(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := s.PushStats(c.Request.Context(), body)
	respond(c, n, err)
}

func (s *Server) handleRoomChat(c *gin.Context) {
	var req struct {
		Sender  string `json:"sender"`
		Message string `json:"message" binding:"required"`
	}
	if !bind(c, &req) {
		return
	}
	n, err := s.PushRoomMessage(c.Param("room_id"), req.Sender, req.Message)
	respond(c, n, err)
}

// handleKick drops a user's sockets; ?code= picks the close code (default 1001).
func (s *Server) handleKick(c *gin.Context) {
	code := websocket.CloseGoingAway
	if v := c.Query("code"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid close code"})
			return
		}
		code = n
	}
	n := s.hub.DisconnectUser(c.Param("user_id"), code)
	c.JSON(http.StatusOK, gin.H{"disconnected": n})
}

func (s *Server) handleIssueToken(c *gin.Context) {
	if s.opts.Tokens == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "socket tokens are disabled"})
		return
	}
	var req struct {
		UserID string `json:"user_id" binding:"required"`
		Name   string `json:"name"`
	}
	if !bind(c, &req) {
		return
	}
	token, expires, err := s.opts.Tokens.Issue(req.UserID, req.Name)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires.UTC().Format(time.RFC3339)})
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request data: " + err.Error()})
		return false
	}
	return true
}

func respond(c *gin.Context, delivered int, err error) {
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}
