package server

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/w1ctl/internal/auth"
	"github.com/danmuck/w1ctl/internal/bus"
	"github.com/danmuck/w1ctl/internal/inventory"
	"github.com/danmuck/w1ctl/internal/observability"
	"github.com/danmuck/w1ctl/internal/protocol"
	"github.com/danmuck/w1ctl/internal/protocol/session"
	"github.com/danmuck/w1ctl/internal/protocol/w1"
)

const version = "0.1.0"

// Bus is the live bus surface the server exposes. It may be nil, in which
// case only stored inventory is served.
type Bus interface {
	inventory.Source
	Reset(ctx context.Context, master uint32) error
	Read(ctx context.Context, slave w1.TargetID, n int) ([]byte, error)
	Pending() []session.PendingRequest
}

var _ Bus = (*bus.Client)(nil)

// Server serves inventory, bus operations, and metrics over HTTP.
type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	store  *inventory.Store
	bus    Bus
	auth   auth.Validator
	router *gin.Engine
}

func New(id, addr string, corsOrigins []string, store *inventory.Store, b Bus) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Server{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		store:    store,
		bus:      b,
		router:   r,
	}
}

// RequireToken guards the live routes with v. Call before RegisterRoutes.
func (s *Server) RequireToken(v auth.Validator) {
	s.auth = v
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
			"live":    s.bus != nil,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/masters", func(c *gin.Context) {
		masters, err := s.store.Masters()
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"masters": masters})
	})

	r.GET("/devices", func(c *gin.Context) {
		devices, err := s.store.Devices()
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"devices": devices})
	})

	r.GET("/devices/:id", func(c *gin.Context) {
		if _, ok := slaveParam(c); !ok {
			return
		}
		d, err := s.store.LookupDevice(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	r.GET("/events", func(c *gin.Context) {
		limit := 100
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = n
		}
		events, err := s.store.Events(limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	guards := []gin.HandlerFunc{s.requireBus}
	if s.auth != nil {
		guards = append([]gin.HandlerFunc{auth.Middleware(s.auth)}, guards...)
	}
	live := r.Group("/", guards...)
	live.POST("/scan", func(c *gin.Context) {
		res, err := inventory.Scan(c.Request.Context(), s.bus, s.store)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	live.POST("/masters/:id/reset", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "master id must be a decimal uint32"})
			return
		}
		if err := s.bus.Reset(c.Request.Context(), uint32(id)); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	live.GET("/devices/:id/read", func(c *gin.Context) {
		id, ok := s.resolveSlave(c)
		if !ok {
			return
		}
		n, err := strconv.Atoi(c.DefaultQuery("n", "9"))
		if err != nil || n <= 0 || n > 0xffff {
			c.JSON(http.StatusBadRequest, gin.H{"error": "n must be between 1 and 65535"})
			return
		}
		data, err := s.bus.Read(c.Request.Context(), id, n)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id.SysfsName(), "data": hex.EncodeToString(data)})
	})

	live.GET("/pending", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pending": s.bus.Pending()})
	})
}

func (s *Server) requireBus(c *gin.Context) {
	if s.bus == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "bus not connected"})
		return
	}
	c.Next()
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Str("service", s.ID).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func slaveParam(c *gin.Context) (w1.TargetID, bool) {
	id, err := w1.ParseSlaveID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slave id: " + err.Error()})
		return w1.TargetID{}, false
	}
	return id, true
}

// resolveSlave maps the :id param to a full slave id. A sysfs name prefers the
// stored device, whose last id byte the name does not carry.
func (s *Server) resolveSlave(c *gin.Context) (w1.TargetID, bool) {
	id, ok := slaveParam(c)
	if !ok || !w1.IsSysfsName(c.Param("id")) {
		return id, ok
	}
	d, err := s.store.LookupDevice(c.Param("id"))
	if err != nil {
		return id, true
	}
	stored, err := w1.ParseSlaveID(d.ID)
	if err != nil {
		return id, true
	}
	return stored, true
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, protocol.ErrKernelStatus):
		status = http.StatusBadGateway
	case errors.Is(err, bus.ErrNoReply), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, protocol.ErrNotImplemented), errors.Is(err, protocol.ErrPayloadTooLarge):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
