// Package server exposes the switchboard core over HTTP with gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/switchboard/internal/billing"
	"github.com/zulandar/switchboard/internal/chat"
	"github.com/zulandar/switchboard/internal/events"
	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/operator"
	"github.com/zulandar/switchboard/internal/recovery"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds the services the server routes to.
type Opts struct {
	Operators *operator.Registry
	Recovery  *recovery.Policy
	Billing   *billing.Gate
	Chats     *chat.Service
	Ledger    *ledger.Ledger
	Broker    *events.Broker // optional; /v1/events is not served without it
	Log       zerolog.Logger
	Addr      string
	Out       io.Writer
}

// Server is the HTTP surface.
type Server struct {
	opts   Opts
	router *gin.Engine
}

// New validates opts and builds the router.
func New(opts Opts) (*Server, error) {
	switch {
	case opts.Operators == nil:
		return nil, fmt.Errorf("server: operator registry is required")
	case opts.Recovery == nil:
		return nil, fmt.Errorf("server: recovery policy is required")
	case opts.Billing == nil:
		return nil, fmt.Errorf("server: billing gate is required")
	case opts.Chats == nil:
		return nil, fmt.Errorf("server: chat service is required")
	case opts.Ledger == nil:
		return nil, fmt.Errorf("server: ledger is required")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Log))

	s := &Server{opts: opts, router: router}
	s.registerRoutes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if s.opts.Out != nil {
		fmt.Fprintf(s.opts.Out, "Switchboard listening on %s\n", s.opts.Addr)
	}
	s.opts.Log.Info().Str("addr", s.opts.Addr).Msg("http server started")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}
