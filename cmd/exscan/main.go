package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	cfgpkg "exscan/internal/config"
	"exscan/internal/diag"
	"exscan/internal/pipeline"
	"exscan/internal/server"
	"exscan/internal/store"
	"exscan/pkg/contract"
)

// 测试替换点
var (
	pipelineAnalyze           = pipeline.Analyze
	stdin           io.Reader = os.Stdin
	listen                    = func(s *server.Server, addr string) error { return s.Listen(addr) }
)

// 退出码
const (
	exitOK       = 0
	exitRunError = 1
	exitNoResult = 2
	exitConfig   = 3
)

// CLI：默认批处理模式；--serve 启动 HTTP 界面。
// 位置参数为输入文档（文件 或 "-" 表示 STDIN，不能与其他输入混用）。
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := uuid.NewString()
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := cfgpkg.LoadDotEnv(".env"); err != nil {
		fprintf(os.Stderr, "提示：.env 读取失败（已跳过）：%v\n", err)
	}
	// 先占位默认，稍后在解析/合并配置后重建 logger 以使用最终 level
	logger := diag.NewLogger(corrID, "info")
	defer func() { _ = logger.Close() }()

	var (
		flagConfig     string
		flagLLM        string
		flagPrompt     string
		flagOutput     string
		flagBatchSize  int
		flagCooldown   float64
		flagMaxTokens  int
		flagMaxRetries int
		flagInitDir    string
		flagStatus     bool
		flagServe      bool
		flagAddr       string
		flagMetrics    string
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	flag.StringVar(&flagLLM, "llm", "", "provider 名称（覆盖配置）")
	flag.StringVar(&flagPrompt, "prompt", "", "目标教学标准描述（覆盖配置）")
	flag.StringVar(&flagOutput, "output", "", "导出工件子路径前缀（覆盖配置）")
	flag.IntVar(&flagBatchSize, "batch-size", 0, "每批页数（覆盖配置）")
	// cooldown 允许显式设置为 0；默认 -1 表示“未覆盖”。
	flag.Float64Var(&flagCooldown, "cooldown", -1, "批间等待秒数（覆盖配置；0 表示不等待）")
	flag.IntVar(&flagMaxTokens, "max-tokens", 0, "单请求 token 预算（覆盖配置）")
	flag.IntVar(&flagMaxRetries, "max-retries", -1, "LLM 阶段最大重试次数（覆盖配置；0 表示不重试）")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（若已存在则跳过，不覆盖）；不带值时默认当前目录")
	flag.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	flag.BoolVar(&flagServe, "serve", false, "启动 HTTP 界面（上传/分析/下载）")
	flag.StringVar(&flagAddr, "addr", "", "HTTP 监听地址（覆盖 server.addr）")
	flag.StringVar(&flagMetrics, "metrics-addr", "", "Prometheus /metrics 独立监听地址（覆盖 metrics.addr）")
	normalizeInitArg()
	flag.Parse()

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := os.MkdirAll(initDir, 0o755); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "init-config", &start)
			return exitConfig
		}
		if err := writeConfig(filepath.Join(initDir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "init-config", &start)
			return exitConfig
		}
		if err := writeDotEnv(filepath.Join(initDir, ".env")); err != nil {
			fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
		}
		return exitOK
	}

	cfg, err := loadConfig(flagConfig)
	if err != nil {
		fprintf(os.Stderr, "配置解析失败: %v\n", err)
		logger.Error("config", string(diag.CodeConfig), err.Error(), &start)
		return exitConfig
	}

	// CLI 覆盖
	overCLI := cfgpkg.Config{MaxRetries: -1}
	overCLI.LLM = flagLLM
	overCLI.Prompt = flagPrompt
	overCLI.Output = flagOutput
	overCLI.Server.Addr = flagAddr
	overCLI.Metrics.Addr = flagMetrics
	if flagBatchSize > 0 {
		overCLI.BatchSize = flagBatchSize
	}
	if flagCooldown >= 0 {
		v := flagCooldown
		overCLI.CooldownSeconds = &v
	}
	if flagMaxTokens > 0 {
		overCLI.MaxTokens = flagMaxTokens
	}
	if flagMaxRetries >= 0 {
		overCLI.MaxRetries = flagMaxRetries
	}
	if args := flag.Args(); len(args) > 0 {
		overCLI.Inputs = args
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(cfg)
		logger.Error("config", string(diag.CodeConfig), err.Error(), &start)
		return exitConfig
	}
	if !flagServe {
		if len(cfg.Inputs) == 0 {
			fprintf(os.Stderr, "缺少输入文档（位置参数或 inputs）\n")
			return exitConfig
		}
		if strings.TrimSpace(cfg.Prompt) == "" {
			fprintf(os.Stderr, "缺少标准描述（--prompt 或 prompt）\n")
			return exitConfig
		}
	}

	// 使用最终配置中的日志级别重建 logger
	_ = logger.Close()
	logger = diag.NewLoggerWith(diag.LogOptions{CorrID: corrID, Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	logEffective(logger, cfg)

	if err := preflightCheckOutputDir(cfg); err != nil {
		fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("writer", string(diag.Classify(err)), err.Error(), &start)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	asm, err := cfgpkg.Assemble(ctx, cfg)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), err.Error(), &start)
		return exitConfig
	}
	defer func() { _ = asm.Close() }()
	st := store.New(asm.Snapshot, "")

	// 独立的 /metrics 监听（可选）
	if addr := strings.TrimSpace(cfg.Metrics.Addr); addr != "" {
		ms := startMetrics(addr, logger)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = ms.Shutdown(sctx)
		}()
	}

	if flagServe {
		return serve(ctx, cfg, asm, st, logger)
	}

	term := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	code := exitOK
	for _, in := range cfg.Inputs {
		c := analyzeInput(ctx, cfg, asm, st, in, logger)
		if c > code {
			code = c
		}
		if c == exitRunError && ctx.Err() != nil {
			break
		}
	}
	logger.InfoFinish("cli", "run", start, int64(len(cfg.Inputs)))
	return code
}

// analyzeInput 处理单个输入：读取→切页→分析→提交→导出。
func analyzeInput(ctx context.Context, cfg cfgpkg.Config, asm *cfgpkg.Assembly, st *store.Store, in string, logger *diag.Logger) int {
	var (
		r     io.Reader
		docID contract.DocID
	)
	if strings.TrimSpace(in) == "-" {
		r, docID = stdin, "stdin"
	} else {
		f, err := os.Open(in)
		if err != nil {
			fprintf(os.Stderr, "无法打开输入: %v\n", err)
			logger.ErrorWith("loader", string(diag.Classify(err)), err.Error(), nil, in, "")
			return exitRunError
		}
		defer f.Close()
		r, docID = f, contract.NormalizeDocID(in)
	}

	pages, err := pipeline.LoadPages(ctx, asm.Components, docID, r, logger)
	if err != nil {
		st.SetError(err.Error())
		fprintf(os.Stderr, "读取失败: %v\n", err)
		return exitRunError
	}
	if len(pages) == 0 {
		fprintf(os.Stderr, "%s: 文档中没有 [Página N] 页标记\n", docID)
		return exitNoResult
	}

	set := asm.Settings
	set.DocID = docID
	res, err := pipelineAnalyze(ctx, asm.Components, set, pages, st, logger)
	if err != nil {
		if errors.Is(err, contract.ErrEmptyResult) {
			st.SetError(diag.MsgEmpty)
			fprintf(os.Stderr, "%s\n", diag.MsgEmpty)
			return exitNoResult
		}
		st.SetError(err.Error())
		code := diag.Classify(err)
		diag.IncOp("cli", "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError("cli", string(code))
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		return exitRunError
	}

	prefix := asm.Prefix
	if len(cfg.Inputs) > 1 {
		base := path.Base(string(docID))
		prefix = path.Join(prefix, strings.TrimSuffix(base, path.Ext(base)))
	}
	ids, err := pipeline.Export(ctx, asm.Exporters, asm.Writer, prefix, res, logger)
	if err != nil {
		fprintf(os.Stderr, "导出失败: %v\n", err)
		return exitRunError
	}
	for _, id := range ids {
		fprintf(os.Stderr, "[out] %s\n", id)
	}
	diag.IncOp("cli", "finish", "success")
	return exitOK
}

// serve 启动 HTTP 界面，收到信号后优雅关闭。
func serve(ctx context.Context, cfg cfgpkg.Config, asm *cfgpkg.Assembly, st *store.Store, logger *diag.Logger) int {
	exps := make(map[string]contract.Exporter, len(asm.Exporters))
	for i, name := range cfg.Exports {
		exps[name] = asm.Exporters[i]
	}
	limit := cfg.Server.MaxUploadMB << 20
	srv := server.New(server.Deps{
		Components: asm.Components,
		Settings:   asm.Settings,
		Exporters:  exps,
		Store:      st,
		Logger:     logger,
	}, server.Options{MaxUploadBytes: limit, Metrics: strings.TrimSpace(cfg.Metrics.Addr) == ""})

	errc := make(chan error, 1)
	go func() { errc <- listen(srv, cfg.Server.Addr) }()
	fprintf(os.Stderr, "[serve] http://%s\n", cfg.Server.Addr)

	select {
	case err := <-errc:
		if err != nil {
			fprintf(os.Stderr, "监听失败: %v\n", err)
			logger.Error("server", string(diag.Classify(err)), err.Error(), nil)
			return exitRunError
		}
		return exitOK
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("server", string(diag.Classify(err)), "shutdown: "+err.Error())
	}
	return exitOK
}

func startMetrics(addr string, logger *diag.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", diag.MetricsHandler())
	ms := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics", string(diag.Classify(err)), err.Error(), nil)
		}
	}()
	return ms
}

// loadConfig: Defaults → JSON（文件或 EXSCAN_CONFIG_JSON）→ ENV。
func loadConfig(flagConfig string) (cfgpkg.Config, error) {
	var cfgJSON []byte
	if s := os.Getenv("EXSCAN_CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	if flagConfig == "" {
		flagConfig = os.Getenv("EXSCAN_CONFIG_FILE")
	}
	// 默认读取工作目录下 config.json（若存在）
	if flagConfig == "" {
		if _, err := os.Stat("config.json"); err == nil {
			flagConfig = "config.json"
		}
	}
	cfg := cfgpkg.Defaults()
	if flagConfig != "" || len(cfgJSON) > 0 {
		base, err := cfgpkg.LoadJSON(flagConfig, cfgJSON)
		if err != nil {
			return cfg, err
		}
		// 文件未写 max_retries 时解码为 0，与默认一致
		cfg = cfgpkg.Merge(cfg, base)
	}
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	return cfgpkg.Merge(cfg, overEnv), nil
}

// logEffective 以 debug 级别输出运行时配置（已脱敏）。
func logEffective(logger *diag.Logger, cfg cfgpkg.Config) {
	kv := map[string]string{
		"inputs_count":   strconv.Itoa(len(cfg.Inputs)),
		"batch_size":     strconv.Itoa(cfg.BatchSize),
		"cooldown":       cfg.Cooldown().String(),
		"max_tokens":     strconv.Itoa(cfg.MaxTokens),
		"max_retries":    strconv.Itoa(cfg.MaxRetries),
		"llm":            cfg.LLM,
		"loader":         cfg.Components.Loader,
		"segmenter":      cfg.Components.Segmenter,
		"batcher":        cfg.Components.Batcher,
		"prompt_builder": cfg.Components.PromptBuilder,
		"extractor":      cfg.Components.Extractor,
		"writer":         cfg.Components.Writer,
		"snapshot":       cfg.Components.Snapshot,
		"exports":        strings.Join(cfg.Exports, ","),
	}
	// 提取 Provider 关键信息（不含密钥）
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL  string `json:"base_url"`
			Model    string `json:"model"`
			Endpoint string `json:"endpoint_path"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Model != "" {
			kv["model"] = s.Model
		}
		if s.Endpoint != "" {
			kv["endpoint_path"] = s.Endpoint
		}
	}
	logger.DebugStart("config", "effective", "", "", kv)
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return err
	}
	_, _ = f.Write([]byte("\n"))
	return nil
}

// normalizeInitArg: 允许 --init-config 在未提供路径值时采用默认值当前目录 "."。
//
//	--init-config                => 等价于 --init-config .
//	--init-config=out
//	--init-config out
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
			}
		}
	}
	os.Args = out
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	b.WriteString("# exscan .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	b.WriteString("EXSCAN_CONFIG_FILE=\n")
	b.WriteString("EXSCAN_CONFIG_JSON=\n\n")

	b.WriteString("# 运行参数覆盖\n")
	for _, k := range []string{"INPUTS", "OUTPUT", "PROMPT", "BATCH_SIZE", "COOLDOWN_SECONDS", "MAX_TOKENS", "MAX_RETRIES", "LLM", "EXPORTS", "LOG_LEVEL", "LOG_PRETTY", "SERVER_ADDR", "METRICS_ADDR"} {
		b.WriteString(cfgpkg.EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 组件选择\n")
	for _, k := range []string{"LOADER", "SEGMENTER", "BATCHER", "PROMPT_BUILDER", "EXTRACTOR", "WRITER", "SNAPSHOT"} {
		b.WriteString(cfgpkg.EnvPrefix + "COMPONENTS_" + k + "=\n")
	}
	for _, p := range []string{"anthropic", "openai", "gemini"} {
		b.WriteString("\n# Provider 覆盖（" + p + "）\n")
		for _, f := range []string{"CLIENT", "LIMITS_RPM", "LIMITS_TPM", "LIMITS_MAX_TOKENS_PER_REQ", "OPTIONS_JSON"} {
			b.WriteString(cfgpkg.EnvPrefix + "PROVIDER__" + strings.ToUpper(p) + "__" + f + "=\n")
		}
	}
	// 供应商密钥由客户端直接读取，不经 EXSCAN_ 前缀
	b.WriteString("\n# 供应商 API Key\n")
	b.WriteString("ANTHROPIC_API_KEY=\n")
	b.WriteString("OPENAI_API_KEY=\n")
	b.WriteString("GOOGLE_API_KEY=\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// preflightCheckOutputDir: Writer 为 fs 时，启动前检查输出目录可写性。
// 目录存在则试写临时文件；不存在则检查父目录可写。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	writerName := strings.TrimSpace(cfg.Components.Writer)
	if writerName == "" {
		writerName = cfgpkg.Defaults().Components.Writer
	}
	if writerName != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		dir = "out"
	}
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if err == nil {
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	} else if !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(dir)
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	_ = os.RemoveAll(tmpd)
	return nil
}
