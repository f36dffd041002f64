package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"exscan/internal/config"
	"exscan/internal/diag"
	"exscan/internal/pipeline"
	"exscan/pkg/contract"
)

type documentView struct {
	DocID      string    `json:"doc_id"`
	Name       string    `json:"name"`
	Pages      int       `json:"pages"`
	FirstPage  int       `json:"first_page"`
	LastPage   int       `json:"last_page"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func (d *document) view() *documentView {
	if d == nil {
		return nil
	}
	v := &documentView{DocID: string(d.ID), Name: d.Name, Pages: len(d.Pages), UploadedAt: d.UploadedAt}
	if len(d.Pages) > 0 {
		v.FirstPage = d.Pages[0].Number
		v.LastPage = d.Pages[len(d.Pages)-1].Number
	}
	return v
}

type analyzeRequest struct {
	Standard  string `json:"standard" validate:"required,min=3,max=4000"`
	BatchSize int    `json:"batch_size" validate:"omitempty,min=1,max=1000"`
}

type statusView struct {
	Running   bool          `json:"running"`
	Phase     string        `json:"phase,omitempty"`
	Done      int           `json:"done"`
	Total     int           `json:"total"`
	Fraction  float64       `json:"fraction"`
	Range     string        `json:"range,omitempty"`
	Records   int           `json:"records"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	HasResult bool          `json:"has_result"`
	Document  *documentView `json:"document,omitempty"`
}

func (s *Server) health(c *fiber.Ctx) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return c.JSON(fiber.Map{"status": "ok", "running": running})
}

// upload: multipart 字段 "file"；读取并切页后替换当前文档。
func (s *Server) upload(c *fiber.Ctx) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return fail(c, fiber.StatusConflict, string(diag.CodeBusy), contract.ErrRunActive.Error())
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid", "falta el archivo (campo 'file')")
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	docID := contract.NormalizeDocID(fh.Filename)
	pages, err := pipeline.LoadPages(c.UserContext(), s.deps.Components, docID, f, s.deps.Logger)
	if err != nil {
		code := diag.Classify(err)
		status := fiber.StatusBadRequest
		if code == diag.CodeSegmentation {
			status = fiber.StatusUnprocessableEntity
		}
		return fail(c, status, string(code), err.Error())
	}
	if len(pages) == 0 {
		return fail(c, fiber.StatusUnprocessableEntity, "no_pages", "el documento no contiene marcadores [Página N]")
	}
	doc := &document{ID: docID, Name: fh.Filename, Pages: pages, UploadedAt: diag.NowUTC()}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return ok(c, fiber.StatusCreated, "documento cargado", doc.view())
}

func (s *Server) document(c *fiber.Ctx) error {
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()
	if doc == nil {
		return fail(c, fiber.StatusNotFound, "no_document", "no hay documento cargado")
	}
	return ok(c, fiber.StatusOK, "", doc.view())
}

// analyze: 校验请求体后异步启动分析，立即返回 202。
func (s *Server) analyze(c *fiber.Ctx) error {
	var req analyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid", "cuerpo de la solicitud inválido")
	}
	req.Standard = strings.TrimSpace(req.Standard)
	if fields := config.FieldErrors(req); fields != nil {
		return failFields(c, fields)
	}
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()
	if doc == nil {
		return fail(c, fiber.StatusBadRequest, "no_document", "primero cargue un documento")
	}
	set := s.deps.Settings
	set.Standard = req.Standard
	if req.BatchSize > 0 {
		set.BatchSize = req.BatchSize
	}
	if err := s.startRun(doc, set); err != nil {
		if errors.Is(err, contract.ErrRunActive) {
			return fail(c, fiber.StatusConflict, string(diag.CodeBusy), err.Error())
		}
		return err
	}
	return ok(c, fiber.StatusAccepted, "análisis iniciado", fiber.Map{"doc_id": string(doc.ID), "pages": len(doc.Pages)})
}

func (s *Server) cancelRun(c *fiber.Ctx) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return fail(c, fiber.StatusConflict, "idle", "no hay análisis en curso")
	}
	cancel()
	return ok(c, fiber.StatusAccepted, "cancelación solicitada; se detendrá al terminar el lote actual", nil)
}

func (s *Server) status(c *fiber.Ctx) error {
	s.mu.Lock()
	v := statusView{
		Running:  s.running,
		Phase:    string(s.prog.Phase),
		Done:     s.prog.Done,
		Total:    s.prog.Total,
		Fraction: s.prog.Fraction(),
		Range:    s.prog.Range,
		Records:  s.prog.Records,
		Document: s.doc.view(),
	}
	s.mu.Unlock()

	v.Error = s.deps.Store.Err()
	cur, err := s.deps.Store.Current(c.UserContext())
	if err != nil {
		return err
	}
	v.HasResult = cur != nil
	v.Message = statusMessage(v)
	return ok(c, fiber.StatusOK, "", v)
}

func statusMessage(v statusView) string {
	switch {
	case v.Running && v.Phase == string(pipeline.PhaseWaiting):
		return diag.MsgWaiting
	case v.Running && v.Range != "":
		return fmt.Sprintf(diag.MsgAnalyzing, v.Range)
	case v.Running:
		return "Iniciando el análisis..."
	case v.HasResult:
		// 已有结果优先展示；失败信息仍在 Error 字段
		return diag.MsgDone
	case v.Error != "":
		return v.Error
	default:
		return ""
	}
}

func (s *Server) result(c *fiber.Ctx) error {
	cur, err := s.deps.Store.Current(c.UserContext())
	if err != nil {
		return err
	}
	if cur == nil {
		msg := s.deps.Store.Err()
		if msg == "" {
			msg = "no hay resultados disponibles"
		}
		return fail(c, fiber.StatusNotFound, "no_result", msg)
	}
	return ok(c, fiber.StatusOK, "", cur)
}

// reset: "nuevo análisis"，清除结果、快照与错误；文档保留。
func (s *Server) reset(c *fiber.Ctx) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return fail(c, fiber.StatusConflict, string(diag.CodeBusy), contract.ErrRunActive.Error())
	}
	if err := s.deps.Store.Reset(c.UserContext()); err != nil {
		return err
	}
	s.mu.Lock()
	s.prog = pipeline.Progress{}
	s.mu.Unlock()
	return ok(c, fiber.StatusOK, "resultados borrados", nil)
}

func (s *Server) export(c *fiber.Ctx) error {
	format := strings.ToLower(c.Params("format"))
	e, found := s.deps.Exporters[format]
	if !found {
		return fail(c, fiber.StatusNotFound, "unknown_format", "formato no disponible: "+format)
	}
	cur, err := s.deps.Store.Current(c.UserContext())
	if err != nil {
		return err
	}
	if cur == nil {
		return fail(c, fiber.StatusNotFound, "no_result", "no hay resultados para descargar")
	}
	r, err := e.Export(c.UserContext(), *cur)
	if err != nil {
		return err
	}
	c.Attachment(e.Name())
	c.Set(fiber.HeaderContentType, e.ContentType())
	return c.SendStream(r)
}
