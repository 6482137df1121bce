package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"

	"github.com/kode4food/flowsession/pkg/api"
	"github.com/kode4food/flowsession/pkg/log"
	"github.com/kode4food/flowsession/pkg/util"
)

type (
	// Server hosts simulated flow sessions over WebSocket
	Server struct {
		cfg     Config
		sockets util.Set[*Client]
		mu      sync.Mutex
	}

	// Config controls the simulated backend
	Config struct {
		// Token, when set, is the only accepted bearer token. Otherwise any
		// non-empty token is accepted
		Token      string
		TokenParam string
		StepDelay  time.Duration
		Script     Script
	}

	// ErrorResponse is the JSON body of a rejected request
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
)

const DefaultStepDelay = 150 * time.Millisecond

// NewServer creates a simulated backend
func NewServer(cfg Config) *Server {
	if cfg.TokenParam == "" {
		cfg.TokenParam = "token"
	}
	if cfg.Script == nil {
		cfg.Script = DemoScript
	}
	return &Server{
		cfg:     cfg,
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the HTTP router
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	router.GET("/health", s.handleHealth)
	router.GET("/ws/flows/:flowID", s.handleSession)
	return router
}

// CloseSessions closes every open session with a normal closure
func (s *Server) CloseSessions() {
	s.mu.Lock()
	clients := s.sockets.Items()
	s.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

// SessionCount returns the number of open sessions
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.SessionCount(),
	})
}

func (s *Server) handleSession(c *gin.Context) {
	flowID := c.Param("flowID")
	token := c.Query(s.cfg.TokenParam)
	if !s.validToken(token) {
		slog.Warn("Rejected session",
			log.FlowID(flowID),
			log.Error(api.ErrAuthUnavailable))
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:  api.ErrAuthUnavailable.Error(),
			Status: http.StatusUnauthorized,
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed",
			log.FlowID(flowID),
			log.Error(err))
		return
	}

	client := newClient(conn, flowID, s.cfg)
	s.register(client)
	go func() {
		defer s.unregister(client)
		client.run()
	}()
}

func (s *Server) validToken(token string) bool {
	if s.cfg.Token != "" {
		return token == s.cfg.Token
	}
	return token != ""
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}
