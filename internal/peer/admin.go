package peer

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/framerelay/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	metricsPath     = "/metrics"
	shutdownMessage = "service is shutting down"
)

// Component is one part of relayd the admin surface can check. Status
// returns an HTTP-style code: 100-400 is healthy, 500 and up is unavailable.
type Component interface {
	Name() string
	Status(ctx context.Context) (int, error)
}

// Report is one component's entry in a /health or /ready response.
type Report struct {
	Component    string `json:"component"`
	StatusCode   int    `json:"status_code"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Admin is the HTTP side surface of relayd: health, readiness, sessions and
// prometheus metrics.
type Admin struct {
	Node     string
	Addr     string
	Listen   string
	Appeared time.Time
	// UnavailableStatusCode is returned for failing checks and by /ready
	// during shutdown.
	UnavailableStatusCode int
	CheckTimeout          time.Duration
	// Sessions reports the number of active relay sessions, when set.
	Sessions func() int

	router       *gin.Engine
	mu           sync.RWMutex
	components   map[string]Component
	shuttingDown atomic.Bool
}

func NewAdmin(node, addr, listen string, corsOrigins []string) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, metricsPath))
	r.Use(observability.RequestMetricsMiddleware(node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		Node:                  node,
		Addr:                  addr,
		Listen:                listen,
		Appeared:              time.Now(),
		UnavailableStatusCode: http.StatusServiceUnavailable,
		CheckTimeout:          time.Minute,
		router:                r,
		components:            map[string]Component{},
	}
	a.Register(a)
	a.registerRoutes()
	return a
}

func (a *Admin) Handler() http.Handler { return a.router }

// Register adds c to the checked components, replacing any with the same name.
func (a *Admin) Register(c Component) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.components[c.Name()] = c
}

// BeginShutdown flips /ready to unavailable and /health to a shutdown notice.
func (a *Admin) BeginShutdown() {
	if a.shuttingDown.CompareAndSwap(false, true) {
		log.Info().Str("addr", a.Addr).Msg("admin reporting shutdown")
	}
}

func (a *Admin) ShuttingDown() bool { return a.shuttingDown.Load() }

func (a *Admin) Name() string { return "admin" }

func (a *Admin) Status(context.Context) (int, error) {
	if a.ShuttingDown() {
		return http.StatusServiceUnavailable, nil
	}
	return http.StatusOK, nil
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		if a.ShuttingDown() {
			c.JSON(http.StatusOK, a.body("shutting_down", gin.H{"message": shutdownMessage}))
			return
		}
		a.respond(c)
	})
	a.router.GET("/ready", func(c *gin.Context) {
		if a.ShuttingDown() {
			c.JSON(a.unavailable(), a.body("shutting_down", gin.H{"message": shutdownMessage}))
			return
		}
		a.respond(c)
	})
	a.router.GET("/sessions", func(c *gin.Context) {
		active := 0
		if a.Sessions != nil {
			active = a.Sessions()
		}
		c.JSON(http.StatusOK, gin.H{"active": active})
	})
	a.router.GET(metricsPath, gin.WrapH(promhttp.Handler()))
}

func (a *Admin) respond(c *gin.Context) {
	names := append(c.QueryArray("component"), c.QueryArray("plugin")...)
	code, reports := a.check(c.Request.Context(), names)
	status := "ok"
	if code != http.StatusOK {
		status = "unavailable"
	}
	c.JSON(code, a.body(status, gin.H{"components": reports}))
}

func (a *Admin) body(status string, extra gin.H) gin.H {
	out := gin.H{
		"status":  status,
		"service": a.Node,
		"listen":  a.Listen,
		"uptime":  time.Since(a.Appeared).Round(time.Second).String(),
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// check runs the named components, or all of them when names is empty.
// Unknown names are skipped. Any unhealthy component makes the whole
// response unavailable.
func (a *Admin) check(ctx context.Context, names []string) (int, []Report) {
	code := http.StatusOK
	selected := a.selected(names)
	reports := make([]Report, 0, len(selected))
	for _, comp := range selected {
		rep, healthy := a.checkOne(ctx, comp)
		if !healthy {
			code = a.unavailable()
		}
		reports = append(reports, rep)
	}
	return code, reports
}

func (a *Admin) selected(names []string) []Component {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(names) == 0 {
		out := make([]Component, 0, len(a.components))
		for _, c := range a.components {
			out = append(out, c)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
		return out
	}
	seen := map[string]bool{}
	out := make([]Component, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		c, ok := a.components[name]
		if !ok {
			log.Debug().Str("component", name).Msg("no such component")
			continue
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, c)
		}
	}
	return out
}

type checkResult struct {
	code int
	err  error
}

func (a *Admin) checkOne(ctx context.Context, comp Component) (Report, bool) {
	timeout := a.CheckTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan checkResult, 1)
	go func() {
		code, err := comp.Status(ctx)
		done <- checkResult{code: code, err: err}
	}()

	name := comp.Name()
	var res checkResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = checkResult{err: ctx.Err()}
	}

	switch {
	case errors.Is(res.err, context.DeadlineExceeded):
		return Report{Component: name, StatusCode: a.unavailable(), ErrorMessage: "check timed out"}, false
	case res.err != nil:
		return Report{Component: name, StatusCode: a.unavailable(), ErrorMessage: res.err.Error()}, false
	case res.code >= 500:
		return Report{Component: name, StatusCode: a.unavailable(), ErrorMessage: "component unavailable"}, false
	case res.code >= 100 && res.code <= 400:
		return Report{Component: name, StatusCode: res.code}, true
	default:
		return Report{Component: name, StatusCode: res.code, ErrorMessage: "unexpected status code"}, false
	}
}

func (a *Admin) unavailable() int {
	if a.UnavailableStatusCode == 0 {
		return http.StatusServiceUnavailable
	}
	return a.UnavailableStatusCode
}

// Serve runs the admin HTTP server until ctx is cancelled.
func (a *Admin) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", a.Addr).Msg("admin listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
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
