package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dbmetrics-agent/pkg/config"
	"github.com/dbmetrics-agent/pkg/logger"
	"github.com/dbmetrics-agent/pkg/poller"
	"github.com/dbmetrics-agent/pkg/registers"
)

// HealthSource 采集器健康状态来源
type HealthSource interface {
	Statuses() []registers.Status
}

// PollerSource poller 状态来源
type PollerSource interface {
	Snapshot() []poller.Status
}

// Server HTTP服务实例，封装核心依赖和配置
type Server struct {
	cfg      config.ServerConfig
	server   *http.Server
	registry *prometheus.Registry
	health   HealthSource
	pollers  PollerSource
	mux      *customMux

	mu       sync.Mutex
	listener net.Listener
}

// statusWriter 包装ResponseWriter，捕获状态码
type statusWriter struct {
	http.ResponseWriter
	status int
}

// customMux 记录已注册路由，便于启动日志输出
type customMux struct {
	http.ServeMux
	routes []string
	mu     sync.Mutex
}

const defaultShutdownTimeout = 5 * time.Second

// healthResponse /health 响应体
type healthResponse struct {
	Status     string             `json:"status"`
	Collectors []registers.Status `json:"collectors"`
}

func (m *customMux) Handle(pattern string, handler http.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, pattern)
	m.ServeMux.Handle(pattern, handler)
}

func (m *customMux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	m.Handle(pattern, http.HandlerFunc(handler))
}

// NewHTTPServer 创建HTTP服务实例
func NewHTTPServer(cfg config.ServerConfig, registry *prometheus.Registry, health HealthSource, pollers PollerSource) *Server {
	srv := &Server{
		cfg:      cfg,
		registry: registry,
		health:   health,
		pollers:  pollers,
		mux:      &customMux{},
	}
	srv.registerEndpoints()

	srv.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.logMiddleware(srv.mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return srv
}

// Handler 根 handler（含日志中间件）
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// logMiddleware 统一日志记录
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logger.Debug(
			"HTTP request",
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// registerEndpoints 注册核心路由
func (s *Server) registerEndpoints() {
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logger.GetGlobalLogger()),
	}))

	// 任一采集器停滞或未启动时返回 503
	s.mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Collectors: s.health.Statuses()}
		code := http.StatusOK
		for _, c := range resp.Collectors {
			if !c.Healthy() {
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, code, resp)
	})

	s.mux.HandleFunc("/pollers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.pollers.Snapshot())
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response failed", zap.Error(err))
	}
}

// WriteHeader 捕获状态码
func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Start 监听端口并在后台提供服务；监听失败同步返回
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info(
		"starting HTTP server",
		zap.String("listen_addr", ln.Addr().String()),
		zap.Strings("handle_funcs", s.mux.routes),
	)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr 实际监听地址（端口为 0 时有用）
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown 优雅关闭HTTP服务
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Warn("shutdown timeout exceeded")
			return nil
		}
		logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}

	logger.Info("HTTP server shutdown successfully")
	return nil
}
