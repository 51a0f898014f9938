// Package admin serves the daemon's HTTP surface: health, readiness, session
// status and prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/jdwpd/internal/auth"
	"github.com/danmuck/jdwpd/internal/facade"
	"github.com/danmuck/jdwpd/internal/observability"
	"github.com/danmuck/jdwpd/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const Version = "0.1.0"

var ErrTLSPairIncomplete = errors.New("admin: cert_file and key_file must be set together")

// Source is the session view the admin surface reports on.
type Source interface {
	Status() session.Status
	Events() *session.EventRegistry
}

// CounterSource is implemented by facades that expose callback counters.
type CounterSource interface {
	Counters() facade.Counters
}

type Config struct {
	Addr string
	// Token, when set, is required as a bearer token on /session and /metrics.
	Token       string
	CORSOrigins []string
	CertFile    string
	KeyFile     string
}

func (c Config) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return ErrTLSPairIncomplete
	}
	return nil
}

type Server struct {
	cfg      Config
	source   Source
	counters CounterSource
	router   *gin.Engine
	started  time.Time
	log      zerolog.Logger
	http     *http.Server
}

// New builds the router. counters may be nil.
func New(cfg Config, source Source, counters CounterSource) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	logger := observability.ComponentLogger("admin")
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		source:   source,
		counters: counters,
		router:   r,
		started:  time.Now(),
		log:      logger,
	}
	s.http = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		st := s.source.Status()
		code := http.StatusOK
		if !st.Active {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":     st.Active,
			"transport": st.Transport,
			"peer":      st.Peer,
		})
	})

	protected := s.router.Group("/")
	if s.cfg.Token != "" {
		protected.Use(requireToken(auth.StaticToken{Token: s.cfg.Token}))
	}

	protected.GET("/session", func(c *gin.Context) {
		body := gin.H{
			"session":        s.source.Status(),
			"event_requests": s.source.Events().List(),
		}
		if s.counters != nil {
			body["facade"] = s.counters.Counters()
		}
		c.JSON(http.StatusOK, body)
	})

	protected.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.BearerToken(c.GetHeader("Authorization"))
		if err == nil {
			err = v.Validate(token)
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// Serve blocks serving on ln until Shutdown and returns nil after a clean
// shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Bool("tls", s.cfg.CertFile != "").Msg("admin listening")

	var err error
	if s.cfg.CertFile != "" {
		err = s.http.ServeTLS(ln, s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		err = s.http.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
