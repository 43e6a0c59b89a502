// Package gateway is the HTTP surface of the search gateway. Handlers are
// thin: they parse and forward to the search client, then map bridge
// outcomes onto HTTP statuses. All real waiting happens in the bridge.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scholarindex/gateway/pkg/bridge"
	"github.com/scholarindex/gateway/pkg/search"
	"go.uber.org/zap"
)

// Service is the slice of the search client the HTTP layer depends on.
type Service interface {
	SubmitIndex(ctx context.Context, sourceURL string) (*search.IndexReceipt, error)
	SearchTerm(ctx context.Context, term string) (*search.SearchResult, error)
	TopTerms(ctx context.Context, n int) (*search.TopTermsResult, error)
}

// Server routes HTTP requests to the search service.
type Server struct {
	service Service
	logger  *zap.Logger
	engine  *gin.Engine
}

// NewServer builds the gin engine and registers all routes.
func NewServer(service Service, logger *zap.Logger) *Server {
	s := &Server{
		service: service,
		logger:  logger,
		engine:  gin.New(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogger())

	s.engine.GET("/healthcheck", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	s.engine.POST("/index-papers", s.handleIndexPapers)
	s.engine.POST("/search", s.handleSearch)
	s.engine.POST("/topn", s.handleTopN)

	return s
}

// Handler exposes the engine for net/http and httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

type indexRequest struct {
	SourceURL string `json:"source_url"`
}

func (s *Server) handleIndexPapers(c *gin.Context) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	receipt, err := s.service.SubmitIndex(c.Request.Context(), req.SourceURL)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

type searchRequest struct {
	Term string `json:"term"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	result, err := s.service.SearchTerm(c.Request.Context(), req.Term)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type topNRequest struct {
	N json.Number `json:"n"`
}

func (s *Server) handleTopN(c *gin.Context) {
	var req topNRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	n, err := strconv.Atoi(req.N.String())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "n must be an integer"})
		return
	}

	result, err := s.service.TopTerms(c.Request.Context(), n)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// writeError maps bridge outcomes to HTTP statuses: bad input is the
// caller's fault, a timeout is the backend being slow, anything else from
// the broker means the upstream is unavailable.
func (s *Server) writeError(c *gin.Context, err error) {
	var validationErr *bridge.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.Is(err, bridge.ErrTimedOut):
		s.logger.Warn("Request timed out awaiting backend reply", zap.String("path", c.Request.URL.Path))
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timed out waiting for backend response"})
	default:
		s.logger.Error("Backend call failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "search backend unavailable"})
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Handled request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
