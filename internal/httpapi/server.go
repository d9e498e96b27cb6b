// Package httpapi is the service's operational HTTP surface: health and
// status probes, Prometheus metrics, and operator actions. It serves no
// end-user traffic.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/joystream/youtube-synch-go/internal/config"
	"github.com/joystream/youtube-synch-go/internal/db"
	"github.com/joystream/youtube-synch-go/internal/db/models"
	"github.com/joystream/youtube-synch-go/internal/db/repository"
	"github.com/joystream/youtube-synch-go/internal/metrics"
	"github.com/joystream/youtube-synch-go/internal/sync/quota"
)

// Server is the ops HTTP server.
type Server struct {
	cfg       config.HTTPApiConfig
	channels  repository.ChannelRepository
	videos    repository.VideoRepository
	whitelist repository.WhitelistRepository
	quota     *quota.Manager
	metrics   *metrics.Metrics
	log       *zap.Logger

	http *http.Server
}

// NewServer builds the ops server and its routes.
func NewServer(cfg config.HTTPApiConfig, channels repository.ChannelRepository, videos repository.VideoRepository,
	whitelist repository.WhitelistRepository, q *quota.Manager, m *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		cfg:       cfg,
		channels:  channels,
		videos:    videos,
		whitelist: whitelist,
		quota:     q,
		metrics:   m,
		log:       log,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", s.health)
	engine.GET("/status", s.status)
	if m != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	// Creator actions carry their own replay guard.
	engine.POST("/channels/:userId/:channelId/ingest", s.ingestChannel)

	operator := engine.Group("/operator", operatorAuth(cfg.OwnerKey))
	operator.POST("/channels/:channelId/suspend", s.suspendChannel)
	operator.POST("/channels/:channelId/verify", s.verifyChannel)
	operator.GET("/whitelist", s.listWhitelist)
	operator.PUT("/whitelist/:handle", s.addWhitelist)
	operator.DELETE("/whitelist/:handle", s.removeWhitelist)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.log.Info("ops http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "UP",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) status(c *gin.Context) {
	counts, err := s.videos.CountByState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	syncUsed, syncCap := s.quota.Usage(quota.PoolSync)
	signupUsed, signupCap := s.quota.Usage(quota.PoolSignup)

	c.JSON(http.StatusOK, gin.H{
		"videos": counts,
		"quota": gin.H{
			"sync":   gin.H{"used": syncUsed, "cap": syncCap},
			"signup": gin.H{"used": signupUsed, "cap": signupCap},
		},
	})
}

type ingestRequest struct {
	Timestamp        time.Time `json:"timestamp" binding:"required"`
	ShouldBeIngested *bool     `json:"shouldBeIngested" binding:"required"`
}

// ingestChannel applies a creator's ingestion toggle. The embedded timestamp
// must strictly exceed the channel's lastActedAt or the action is rejected
// as a replay.
func (s *Server) ingestChannel(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.channels.RecordCreatorAction(c.Request.Context(),
		c.Param("userId"), c.Param("channelId"), req.Timestamp,
		repository.ChannelPatch{ShouldBeIngested: req.ShouldBeIngested})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"updated": true})
	case db.IsStaleAction(err):
		c.JSON(http.StatusConflict, gin.H{"error": "action timestamp not newer than last action"})
	case db.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type suspendRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) suspendChannel(c *gin.Context) {
	var req suspendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.channels.SetYppStatus(c.Request.Context(), c.Param("channelId"),
		models.SuspendedStatus(req.Reason))
	if err != nil {
		if db.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"suspended": true})
}

type verifyRequest struct {
	Tier string `json:"tier" binding:"required"`
}

func (s *Server) verifyChannel(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.channels.SetYppStatus(c.Request.Context(), c.Param("channelId"),
		models.VerifiedStatus(req.Tier))
	if err != nil {
		if db.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (s *Server) listWhitelist(c *gin.Context) {
	entries, err := s.whitelist.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"whitelist": entries})
}

func (s *Server) addWhitelist(c *gin.Context) {
	if err := s.whitelist.Add(c.Request.Context(), c.Param("handle")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": true})
}

func (s *Server) removeWhitelist(c *gin.Context) {
	if err := s.whitelist.Remove(c.Request.Context(), c.Param("handle")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}
