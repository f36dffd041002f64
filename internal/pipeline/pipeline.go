package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"exscan/internal/diag"
	"exscan/internal/prompt"
	"exscan/internal/rate"
	"exscan/internal/store"
	"exscan/pkg/contract"
)

// - 串行：同一运行内批次严格按 BatchIndex 顺序逐个查询，不并发发请求。
// - 全有或全无：任一查询失败即中止，丢弃本次运行已累积的记录与叙述。
// - 批间冷却：第 2 批起每批首次查询前由 Gate 按分组策略等待（默认 65s，固定间隔）。
// - 取消：在批间与冷却开始时检查 ctx；进行中的查询不因取消而中断。

// Components 聚合运行所需的原子组件。
type Components struct {
	Loader        contract.Loader // 可选：仅 RunDocument 使用
	Segmenter     contract.Segmenter
	Batcher       contract.Batcher
	PromptBuilder contract.PromptBuilder
	LLM           contract.LLMClient
	Extractor     contract.Extractor
}

// Phase 进度阶段。
type Phase string

const (
	PhaseAnalyzing Phase = "analyzing"
	PhaseWaiting   Phase = "waiting"
	PhaseDone      Phase = "done"
)

// Progress 单次进度快照；Done/Total 以批为单位。
type Progress struct {
	Phase   Phase
	Done    int
	Total   int
	Range   string
	Records int
}

// Fraction 返回 (Done)/(Total)，Total<=0 时为 0。
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total)
}

// Settings 运行期配置。
type Settings struct {
	DocID    contract.DocID
	Standard string // 用户描述的目标标准
	// BatchSize 每批页数（>0）
	BatchSize int
	// Gate 调度批间冷却与 RPM/TPM（可选）；nil 表示既不冷却也不限流
	Gate    rate.Gate
	GateKey rate.LimitKey
	// MaxRetries: 单批查询的最大重试次数（>=0）。0 表示首错即中止。
	MaxRetries int
	// 预算：单请求最大 token 与估算参数；MaxTokens<=0 关闭预算
	MaxTokens     int
	BytesPerToken int
	// LLMName 仅用于终端提示
	LLMName string
	// RunID 为空时自动生成
	RunID string
	// Progress 可选进度回调（同步调用，不应阻塞）
	Progress func(Progress)
}

// RunDocument 执行 Loader → Segmenter → Run。
func RunDocument(ctx context.Context, comp Components, set Settings, r io.Reader, logger *diag.Logger) (contract.AnalysisResult, error) {
	pages, err := LoadPages(ctx, comp, set.DocID, r, logger)
	if err != nil {
		return contract.AnalysisResult{}, err
	}
	return Run(ctx, comp, set, pages, logger)
}

// LoadPages 读取文档并切页；文档中没有任何页标记时返回空切片。
func LoadPages(ctx context.Context, comp Components, docID contract.DocID, r io.Reader, logger *diag.Logger) ([]contract.Page, error) {
	if comp.Loader == nil || comp.Segmenter == nil {
		return nil, errors.New("pipeline: missing loader/segmenter")
	}
	fid := string(docID)
	ltimer := logger.StartWith("loader", "load", fid, "")
	text, err := comp.Loader.Load(ctx, docID, r)
	if err != nil {
		logError(logger, "loader", "load failed", err, fid, "")
		return nil, fmt.Errorf("loader load: %w", err)
	}
	ltimer.Finish("load", int64(len(text)))
	diag.IncOp("loader", "finish", "success")

	stimer := logger.StartWith("segmenter", "segment", fid, "")
	pages, err := comp.Segmenter.Segment(ctx, text)
	if err != nil {
		logError(logger, "segmenter", "segment failed", err, fid, "")
		return nil, fmt.Errorf("segmenter segment: %w", err)
	}
	stimer.Finish("segment", int64(len(pages)))
	diag.IncOp("segmenter", "finish", "success")
	return pages, nil
}

// Run 对已切分的页执行批循环：Batcher → Prompt → Gate（冷却+额度）→ LLM → Extractor。
// 返回未排序的累积结果；排序与持久化见 Analyze。
// 错误：
// - 查询失败：包装 contract.ErrLLMQuery；
// - 全部批次完成但无记录：contract.ErrEmptyResult（信息性）；
// - 取消：返回 ctx 错误。
func Run(ctx context.Context, comp Components, set Settings, pages []contract.Page, logger *diag.Logger) (contract.AnalysisResult, error) {
	if err := sanity(comp, set); err != nil {
		return contract.AnalysisResult{}, fmt.Errorf("sanity: %w", err)
	}
	fid := string(set.DocID)
	runID := set.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	// 预估固定提示词开销
	if set.MaxTokens > 0 {
		eff, overhead := prompt.EffectiveMaxTokens(comp.PromptBuilder, set.BytesPerToken, set.MaxTokens)
		if eff <= 0 {
			return contract.AnalysisResult{}, fmt.Errorf("%w: effective token budget <= 0 after overhead %d", contract.ErrBudgetExceeded, overhead)
		}
	}

	btimer := logger.StartWith("batcher", "make", fid, "")
	batches, err := comp.Batcher.Make(ctx, pages, set.BatchSize)
	if err != nil {
		logError(logger, "batcher", "make failed", err, fid, "")
		return contract.AnalysisResult{}, fmt.Errorf("batcher make: %w", err)
	}
	btimer.Finish("make", int64(len(batches)))
	diag.IncOp("batcher", "finish", "success")

	total := len(batches)
	term := diag.GetTerminal()
	term.RunStart(fid, set.LLMName, total)
	diag.SetProgress(0, total)
	runStart := time.Now()

	var (
		records   []contract.ExerciseRecord
		narrative strings.Builder
		ok        bool
	)
	defer func() {
		term.RunFinish(ok, len(records), time.Since(runStart))
	}()

	for i, b := range batches {
		bid := strconv.FormatInt(b.BatchIndex, 10)
		if err := ctx.Err(); err != nil {
			logError(logger, "pipeline", "run cancelled", err, fid, bid)
			return contract.AnalysisResult{}, fmt.Errorf("pipeline: %w", err)
		}
		p, err := comp.PromptBuilder.Build(ctx, b, set.Standard)
		if err != nil {
			logError(logger, "prompt", "build failed", err, fid, bid)
			return contract.AnalysisResult{}, fmt.Errorf("prompt build: %w", err)
		}
		tokens := prompt.PromptTokens(p, set.BytesPerToken)
		if set.MaxTokens > 0 && tokens > set.MaxTokens {
			err := fmt.Errorf("%w: batch %s needs ~%d tokens > %d", contract.ErrBudgetExceeded, b.Range(), tokens, set.MaxTokens)
			logError(logger, "prompt", "over budget", err, fid, bid)
			return contract.AnalysisResult{}, err
		}

		done := len(records)
		tn := turn{
			batch:  b,
			prompt: p,
			tokens: tokens,
			pace:   i > 0,
			onPause: func(d time.Duration) {
				set.report(Progress{Phase: PhaseWaiting, Done: i, Total: total, Range: b.Range(), Records: done})
				term.Cooldown(d)
			},
			onStart: func() {
				set.report(Progress{Phase: PhaseAnalyzing, Done: i, Total: total, Range: b.Range(), Records: done})
				term.BatchStart(b.Range())
			},
		}
		raw, err := query(ctx, comp, set, tn, logger)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
				logError(logger, "pipeline", "run cancelled", err, fid, bid)
				return contract.AnalysisResult{}, fmt.Errorf("pipeline: %w", err)
			}
			return contract.AnalysisResult{}, fmt.Errorf("%w: %s: %w", contract.ErrLLMQuery, b.Range(), err)
		}

		if strings.TrimSpace(raw.Text) != "" {
			etimer := logger.StartWith("extractor", "extract", fid, bid)
			recs, err := comp.Extractor.Extract(ctx, raw)
			if err != nil {
				logError(logger, "extractor", "extract failed", err, fid, bid)
				return contract.AnalysisResult{}, fmt.Errorf("extractor extract: %w", err)
			}
			etimer.Finish("extract", int64(len(recs)))
			diag.IncOp("extractor", "finish", "success")
			if len(recs) > 0 {
				records = append(records, recs...)
				narrative.WriteString("\n\nResultados de " + b.Range() + ":\n" + raw.Text)
				diag.AddRecords(len(recs))
			}
		}

		diag.SetProgress(i+1, total)
		term.Progress(i+1, total, len(records))
		set.report(Progress{Phase: PhaseAnalyzing, Done: i + 1, Total: total, Range: b.Range(), Records: len(records)})
	}

	ok = true
	set.report(Progress{Phase: PhaseDone, Done: total, Total: total, Records: len(records)})
	logger.InfoFinish("pipeline", "run", runStart, int64(len(records)))
	res := contract.AnalysisResult{
		Records:   records,
		Narrative: narrative.String(),
		Prompt:    set.Standard,
		RunID:     runID,
	}
	if len(records) == 0 {
		return res, contract.ErrEmptyResult
	}
	return res, nil
}

// Analyze: Run → Aggregate → Store.Commit。
// 任何失败（含空结果）都不触碰 store 中已有结果。
func Analyze(ctx context.Context, comp Components, set Settings, pages []contract.Page, st *store.Store, logger *diag.Logger) (contract.AnalysisResult, error) {
	res, err := Run(ctx, comp, set, pages, logger)
	if err != nil {
		return res, err
	}
	if st == nil {
		return res, errors.New("pipeline: nil store")
	}
	if !st.Commit(ctx, res) {
		err := fmt.Errorf("store commit: %s", st.Err())
		logger.Error("store", string(diag.CodeIO), err.Error(), nil)
		return res, err
	}
	cur, err := st.Current(ctx)
	if err != nil || cur == nil {
		return res, fmt.Errorf("store current: %w", err)
	}
	return *cur, nil
}

// turn: 单批查询的输入与进度回调。
type turn struct {
	batch  contract.Batch
	prompt contract.Prompt
	tokens int
	// pace: 非首批，首次尝试前需批间冷却
	pace    bool
	onPause func(time.Duration)
	// onStart 在首次放行后调用一次
	onStart func()
}

// query 执行单批查询（经 Gate 调度，带有限重试）。
// 查询本身使用 WithoutCancel：运行被取消时当前请求仍会完成，由循环在批间中止。
func query(ctx context.Context, comp Components, set Settings, tn turn, logger *diag.Logger) (contract.Raw, error) {
	b, p := tn.batch, tn.prompt
	fid := string(set.DocID)
	bid := strconv.FormatInt(b.BatchIndex, 10)
	qctx := context.WithoutCancel(ctx)
	attempts := set.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if set.Gate != nil {
			pace := tn.pace && attempt == 0
			logger.DebugStart("gate", "ask", fid, bid, map[string]string{
				"tokens":  strconv.Itoa(tn.tokens),
				"attempt": strconv.Itoa(attempt + 1),
				"pace":    strconv.FormatBool(pace),
			})
			ask := rate.Ask{Key: set.GateKey, Tokens: tn.tokens, Pace: pace, OnPause: tn.onPause}
			if err := set.Gate.Wait(ctx, ask); err != nil {
				logError(logger, "gate", "wait failed", err, fid, bid)
				return contract.Raw{}, err // Gate 错误不重试（取消或单请求超限）
			}
		}
		if attempt == 0 && tn.onStart != nil {
			tn.onStart()
		}

		ltimer := logger.StartWithKV("llm", "query", fid, bid, map[string]string{
			"range":   b.Range(),
			"attempt": strconv.Itoa(attempt + 1),
		})
		raw, err := comp.LLM.Query(qctx, b, p)
		if err == nil {
			ltimer.Finish("query", int64(len(raw.Text)))
			diag.IncOp("llm", "finish", "success")
			return raw, nil
		}
		lastErr = err
		logUpstream(logger, err, fid, bid)
		if attempt+1 >= attempts || !shouldRetryQuery(err) || ctx.Err() != nil {
			break
		}
		// 线性退避
		if serr := sleepWithCtx(ctx, time.Duration(attempt+1)*200*time.Millisecond); serr != nil {
			return contract.Raw{}, serr
		}
	}
	return contract.Raw{}, lastErr
}

func (s Settings) report(p Progress) {
	if s.Progress != nil {
		s.Progress(p)
	}
}

func sanity(c Components, s Settings) error {
	if c.Batcher == nil || c.PromptBuilder == nil || c.LLM == nil || c.Extractor == nil {
		return errors.New("pipeline: missing components")
	}
	if s.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be > 0", contract.ErrInvalidConfig)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0", contract.ErrInvalidConfig)
	}
	if strings.TrimSpace(s.Standard) == "" {
		return fmt.Errorf("%w: empty standard description", contract.ErrInvalidInput)
	}
	return nil
}

// shouldRetryQuery: 根据错误类型判断是否重试 LLM 调用。
// - 取消/超时：不重试；
// - 预算/限流、网络类错误：重试；
// - 其他：不重试。
func shouldRetryQuery(err error) bool {
	if err == nil {
		return false
	}
	switch diag.Classify(err) {
	case diag.CodeBudget, diag.CodeNetwork:
		return true
	default:
		return false
	}
}

func logError(logger *diag.Logger, comp, msg string, err error, fid, bid string) {
	code := diag.Classify(err)
	logger.ErrorWith(comp, string(code), msg+": "+err.Error(), nil, fid, bid)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

// logUpstream 在错误携带上游状态时附带 http_status 等字段。
func logUpstream(logger *diag.Logger, err error, fid, bid string) {
	var ue contract.UpstreamError
	if !errors.As(err, &ue) {
		logError(logger, "llm", "query failed", err, fid, bid)
		return
	}
	code := diag.Classify(err)
	logger.ErrorWithKV("llm", string(code), "query failed", nil, fid, bid, map[string]string{
		"http_status": strconv.Itoa(ue.UpstreamStatus()),
		"upstream":    ue.UpstreamMessage(),
	})
	diag.IncOp("llm", "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError("llm", string(code))
	}
}

// sleepWithCtx: 可取消的 sleep。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
