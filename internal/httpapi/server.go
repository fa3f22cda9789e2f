// Package httpapi 通过 REST 接口对外暴露规则服务
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"rulekeeper/internal/logger"
	"rulekeeper/pkg/api"
	"rulekeeper/pkg/domain"
	"rulekeeper/pkg/errx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodySize 请求体大小上限
const maxBodySize = 4 << 20

// 错误码常量
const (
	CodeRuleNotFound     = "RULE_NOT_FOUND"
	CodeSnapshotNotFound = "SNAPSHOT_NOT_FOUND"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeEngineError      = "ENGINE_ERROR"
	CodeDatabaseError    = "DATABASE_ERROR"
	CodeUnknown          = "UNKNOWN_ERROR"
)

// errorMapping 领域错误到 HTTP 状态与错误码的映射
type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domain.ErrRuleNotFound, http.StatusNotFound, CodeRuleNotFound},
	{domain.ErrSnapshotNotFound, http.StatusNotFound, CodeSnapshotNotFound},
	{domain.ErrInvalidConfig, http.StatusBadRequest, CodeInvalidConfig},
	{domain.ErrEngineUnavailable, http.StatusServiceUnavailable, CodeEngineError},
	{domain.ErrTargetNotFound, http.StatusServiceUnavailable, CodeEngineError},
	{domain.ErrDatabaseNotInitialized, http.StatusInternalServerError, CodeDatabaseError},
}

// Server HTTP 接口服务
type Server struct {
	svc    api.Service
	log    logger.Logger
	router *chi.Mux
}

// NewServer 创建 HTTP 接口服务
func NewServer(svc api.Service, l logger.Logger) *Server {
	if l == nil {
		l = logger.Nop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerMiddleware(l))
	r.Use(middleware.Recoverer)

	s := &Server{
		svc:    svc,
		log:    l.With("component", "httpapi"),
		router: r,
	}
	s.routes()
	return s
}

// ServeHTTP 实现 http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe 监听 addr 直到 ctx 取消，随后优雅关闭
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP 服务已启动", "addr", addr)
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
		s.log.Info("HTTP 服务已关闭")
		return nil
	}
}

func (s *Server) routes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleAddRule)
			r.Post("/import", s.handleImport)
			r.Get("/export", s.handleExport)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Patch("/", s.handleUpdateRule)
				r.Delete("/", s.handleRemoveRule)
				r.Post("/edits", s.handleApplyEdit)
				r.Get("/edits/{kind}", s.handleCurrentEdit)
			})
		})

		r.Post("/match", s.handleMatch)
		r.Get("/match/stats", s.handleMatchStats)
		r.Delete("/match/stats", s.handleResetMatchStats)

		r.Get("/sync/states", s.handleSyncStates)
		r.Get("/sync/events", s.handleSyncEvents)
		r.Get("/sync/events/stream", s.handleSyncEventStream)

		r.Route("/rulesets", func(r chi.Router) {
			r.Get("/", s.handleListSnapshots)
			r.Post("/", s.handleSaveSnapshot)
			r.Post("/{name}/restore", s.handleRestoreSnapshot)
			r.Delete("/{name}", s.handleDeleteSnapshot)
		})
	})
}

func loggerMiddleware(l logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				l.Debug("请求完成",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start).String(),
					"requestId", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// writeJSON 写出统一格式的响应
func writeJSON[T any](w http.ResponseWriter, status int, resp api.Response[T]) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func ok[T any](w http.ResponseWriter, data T) {
	writeJSON(w, http.StatusOK, api.OK(data))
}

// fail 将错误转换为状态码与错误码后写出
func (s *Server) fail(w http.ResponseWriter, err error) {
	status, code, msg := s.translateError(err)
	writeJSON(w, status, api.Fail[api.EmptyData](code, msg))
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, api.Fail[api.EmptyData](CodeInvalidRequest, msg))
}

// translateError 将领域错误转换为 HTTP 状态、错误码与提示信息
func (s *Server) translateError(err error) (int, string, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			s.log.Err(err, "业务错误", "code", m.code)
			return m.status, m.code, err.Error()
		}
	}

	// 规则校验错误携带具体错误码
	if code, ok := errx.CodeOf(err); ok {
		s.log.Debug("校验失败", "code", string(code), "error", err.Error())
		return http.StatusBadRequest, string(code), err.Error()
	}
	if errors.Is(err, domain.ErrInvalidRule) {
		return http.StatusBadRequest, string(errx.CodeInvalidRule), err.Error()
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return http.StatusBadRequest, CodeInvalidRequest, err.Error()
	}

	s.log.Err(err, "未知错误")
	return http.StatusInternalServerError, CodeUnknown, err.Error()
}

// readBody 读取请求体，超过上限时报错
func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodySize))
}

// decode 解析 JSON 请求体
func decode(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
}

// ruleID 解析路径中的规则 ID
func ruleID(r *http.Request) (domain.RuleID, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		return 0, false
	}
	return domain.RuleID(id), true
}

// queryInt 读取整数查询参数，缺省或非法时返回 0
func queryInt(r *http.Request, key string) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
