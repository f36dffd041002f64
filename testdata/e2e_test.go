package testdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "exscan/internal/config"
	"exscan/internal/diag"
	"exscan/internal/pipeline"
	"exscan/internal/store"
	"exscan/pkg/contract"
)

const libro = "files/libro.txt"

func baseConfig(outDir string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Inputs = []string{libro}
	cfg.BatchSize = 2
	zero := 0.0
	cfg.CooldownSeconds = &zero
	cfg.Logging.Level = "error"
	cfg.Components.Writer = "fs"
	cfg.Options.Writer = json.RawMessage(fmt.Sprintf(`{"output_dir":%q}`, outDir))
	cfg.Provider = map[string]cfgpkg.Provider{
		"mock": {Client: "mock", Options: json.RawMessage(`{"prefix":"E2E"}`)},
	}
	return cfg
}

// runPipeline 执行 读取→切页→分析→提交→导出。
func runPipeline(t *testing.T, cfg cfgpkg.Config) (contract.AnalysisResult, error) {
	t.Helper()
	ctx := context.Background()
	asm, err := cfgpkg.Assemble(ctx, cfg)
	if err != nil {
		return contract.AnalysisResult{}, err
	}
	defer asm.Close()
	f, err := os.Open(libro)
	if err != nil {
		t.Fatalf("open input: %v", err)
	}
	defer f.Close()
	logger := diag.Nop()
	set := asm.Settings
	set.DocID = contract.NormalizeDocID(libro)
	pages, err := pipeline.LoadPages(ctx, asm.Components, set.DocID, f, logger)
	if err != nil {
		return contract.AnalysisResult{}, err
	}
	st := store.New(asm.Snapshot, "")
	res, err := pipeline.Analyze(ctx, asm.Components, set, pages, st, logger)
	if err != nil {
		return res, err
	}
	_, err = pipeline.Export(ctx, asm.Exporters, asm.Writer, asm.Prefix, res, logger)
	return res, err
}

func csvRows(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func TestE2ESuccess(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(outDir)
	cfg.LLM = "mock"
	res, err := runPipeline(t, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(res.Records) != 6 {
		t.Fatalf("records = %d, want 6", len(res.Records))
	}
	// 数字编号升序，无法解析的编号排在最后
	wantOrder := []string{"1", "2", "3", "4", "5", "6a"}
	for i, r := range res.Records {
		if r.RawNumber != wantOrder[i] {
			t.Fatalf("record %d = %q, want %q", i, r.RawNumber, wantOrder[i])
		}
	}
	rows := csvRows(t, filepath.Join(outDir, "analisis_ejercicios.csv"))
	if len(rows) != 7 {
		t.Fatalf("csv rows = %d, want 7", len(rows))
	}
	if !strings.Contains(rows[6], "6a") || !strings.Contains(rows[6], "Relaciona cada palabra") {
		t.Fatalf("last row = %q", rows[6])
	}
	for _, name := range []string{"analisis_ejercicios.xlsx", "analisis_detallado.txt"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Fatalf("%s not written: %v", name, err)
		}
	}
	narr, err := os.ReadFile(filepath.Join(outDir, "analisis_detallado.txt"))
	if err != nil {
		t.Fatalf("read narrative: %v", err)
	}
	if !strings.Contains(string(narr), "Escribe un final diferente") {
		t.Fatalf("narrative missing batch text")
	}
}

func TestE2EBudgetExceeded(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(outDir)
	cfg.LLM = "mock"
	cfg.MaxTokens = 1
	_, err := runPipeline(t, cfg)
	if !errors.Is(err, contract.ErrBudgetExceeded) {
		t.Fatalf("expect budget error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "analisis_ejercicios.csv")); err == nil {
		t.Fatalf("output file should not exist")
	}
}

func TestE2ERetry(t *testing.T) {
	outDir := t.TempDir()
	logPath := filepath.Join(outDir, "flaky.log")
	cfg := baseConfig(outDir)
	cfg.BatchSize = 1
	cfg.LLM = "flaky"
	cfg.MaxRetries = 2
	cfg.Provider["flaky"] = cfgpkg.Provider{
		Client:  "flaky",
		Options: json.RawMessage(fmt.Sprintf(`{"prefix":"FLAKY","log_path":%q}`, logPath)),
	}
	res, err := runPipeline(t, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	// 第 1 页的重试拿到无标题回复，记录为空；其余页正常
	if len(res.Records) != 4 {
		t.Fatalf("records = %d, want 4", len(res.Records))
	}
	for _, r := range res.Records {
		if r.Page == 1 {
			t.Fatalf("unexpected record from page 1: %+v", r)
		}
	}
	logData, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(logData)), "\n")
	if len(lines) != 6 || lines[0] != "rate_limited" || lines[1] != "no_headers" {
		t.Fatalf("unexpected log: %v", lines)
	}
}

func TestE2EEmptyResult(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(outDir)
	cfg.LLM = "mock"
	cfg.Provider["mock"] = cfgpkg.Provider{
		Client:  "mock",
		Options: json.RawMessage(`{"response_mode":"fixed","text":"Ninguno."}`),
	}
	_, err := runPipeline(t, cfg)
	if !errors.Is(err, contract.ErrEmptyResult) {
		t.Fatalf("expect empty result, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "analisis_ejercicios.csv")); err == nil {
		t.Fatalf("output file should not exist")
	}
}
