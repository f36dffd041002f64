// Package server 提供上传、异步分析、进度查询与结果下载的 HTTP 界面。
package server

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"exscan/internal/diag"
	"exscan/internal/pipeline"
	"exscan/internal/store"
	"exscan/pkg/contract"
)

// Deps: 服务依赖（由 config.Assemble 的产物填充）。
type Deps struct {
	Components pipeline.Components
	// Settings 作为每次运行的模板；DocID/Standard/Progress 按请求覆盖。
	Settings pipeline.Settings
	// Exporters 以导出格式名（csv/xlsx/narrative）为键。
	Exporters map[string]contract.Exporter
	Store     *store.Store
	Logger    *diag.Logger
}

// Options: 监听与上传限制。
type Options struct {
	// MaxUploadBytes: 请求体上限；<=0 使用 50 MiB。
	MaxUploadBytes int
	// Metrics: 是否在同一端口挂载 /metrics。
	Metrics bool
}

// Server: 单文档、单运行的分析服务。
// 同一时刻最多一个分析在跑；新请求在运行期间被拒绝（contract.ErrRunActive）。
type Server struct {
	app  *fiber.App
	deps Deps

	base context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	doc     *document
	running bool
	cancel  context.CancelFunc
	prog    pipeline.Progress
	done    chan struct{}
}

type document struct {
	ID         contract.DocID
	Name       string
	Pages      []contract.Page
	UploadedAt time.Time
}

// New 构造服务并注册路由。
func New(deps Deps, opts Options) *Server {
	limit := opts.MaxUploadBytes
	if limit <= 0 {
		limit = 50 << 20
	}
	if deps.Logger == nil {
		deps.Logger = diag.Nop()
	}
	if deps.Store == nil {
		deps.Store = store.New(nil, "")
	}
	base, stop := context.WithCancel(context.Background())
	s := &Server{deps: deps, base: base, stop: stop}
	s.app = fiber.New(fiber.Config{
		AppName:               "exscan",
		BodyLimit:             limit,
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(s.accessLog)
	s.routes(opts)
	return s
}

func (s *Server) routes(opts Options) {
	s.app.Get("/healthz", s.health)
	if opts.Metrics {
		s.app.Get("/metrics", adaptor.HTTPHandler(diag.MetricsHandler()))
	}
	api := s.app.Group("/api")
	api.Post("/document", s.upload)
	api.Get("/document", s.document)
	api.Post("/analyze", s.analyze)
	api.Post("/analyze/cancel", s.cancelRun)
	api.Get("/status", s.status)
	api.Get("/result", s.result)
	api.Delete("/result", s.reset)
	api.Get("/export/:format", s.export)
}

// App 暴露底层 fiber 应用（测试使用 app.Test）。
func (s *Server) App() *fiber.App { return s.app }

// Listen 阻塞监听 addr。
func (s *Server) Listen(addr string) error {
	s.deps.Logger.Info("server", "listen", map[string]string{"addr": addr})
	return s.app.Listen(addr)
}

// Shutdown 取消进行中的运行（在批间生效）并关闭监听。
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	err := s.app.ShutdownWithContext(ctx)
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return err
}

// Wait 阻塞到当前运行结束（无运行时立即返回）。
func (s *Server) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// startRun 在后台执行 Analyze；已有运行时返回 contract.ErrRunActive。
func (s *Server) startRun(doc *document, set pipeline.Settings) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return contract.ErrRunActive
	}
	ctx, cancel := context.WithCancel(s.base)
	s.running = true
	s.cancel = cancel
	s.prog = pipeline.Progress{Phase: pipeline.PhaseAnalyzing}
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	set.DocID = doc.ID
	set.RunID = ""
	set.Progress = s.setProgress
	go func() {
		defer close(done)
		defer cancel()
		_, err := pipeline.Analyze(ctx, s.deps.Components, set, doc.Pages, s.deps.Store, s.deps.Logger)
		switch {
		case err == nil:
		case errors.Is(err, contract.ErrEmptyResult):
			s.deps.Store.SetError(diag.MsgEmpty)
		default:
			s.deps.Store.SetError(err.Error())
		}
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
	}()
	return nil
}

func (s *Server) setProgress(p pipeline.Progress) {
	s.mu.Lock()
	s.prog = p
	s.mu.Unlock()
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fail(c, fe.Code, "http", fe.Message)
	}
	s.deps.Logger.Error("server", string(diag.Classify(err)), err.Error(), nil)
	return fail(c, fiber.StatusInternalServerError, string(diag.Classify(err)), err.Error())
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	t0 := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	s.deps.Logger.DebugStart("http", c.Method()+" "+c.Path(), "", "", map[string]string{
		"status": strconv.Itoa(status),
		"dur_ms": strconv.FormatInt(time.Since(t0).Milliseconds(), 10),
	})
	diag.IncOp("http", c.Method(), strconv.Itoa(status))
	return err
}
