package httpserver

import (
	"context"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/capmigrate/internal/model"
)

const maxListLimit = 1000

// Server provides a read-only HTTP API over migrated accounts.
type Server struct {
	addr      string
	store     model.AccountQuerier
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, store model.AccountQuerier) *Server {
	if addr == "" {
		addr = "127.0.0.1:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/sources", s.handleSources)
	r.GET("/api/accounts", s.handleAccounts)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	count, err := s.store.TotalAccountCount(model.QueryOpts{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read account count"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"uptime":        time.Since(s.startTime).String(),
		"account_count": count,
	})
}

func (s *Server) handleSources(c *gin.Context) {
	totals, err := s.store.SourceTotals()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read source totals"})
		return
	}

	out := make([]gin.H, 0, len(totals))
	for _, t := range totals {
		out = append(out, gin.H{
			"source":   t.Source,
			"accounts": t.Accounts,
			"balance":  t.Balance,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sources": out})
}

func (s *Server) handleAccounts(c *gin.Context) {
	limit := model.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	opts := model.QueryOpts{
		Source: c.Query("source"),
		Player: c.Query("player"),
	}
	if opts.Source != "" {
		sources, err := s.store.ListSources()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sources"})
			return
		}
		if !slices.Contains(sources, opts.Source) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown migration source"})
			return
		}
	}
	accounts, err := s.store.ListAccounts(opts, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list accounts"})
		return
	}

	rows := make([]gin.H, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, gin.H{
			"event_id":         a.EventID,
			"player_name":      a.PlayerName,
			"migration_source": a.MigrationSource,
			"balance":          a.Balance,
			"labels":           a.Labels,
			"migrated_at":      a.MigratedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"accounts":  rows,
		"row_count": len(rows),
	})
}
