package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"exscan/internal/diag"
	"exscan/pkg/contract"
	ecsv "exscan/plugins/exporter/csv"
	enarr "exscan/plugins/exporter/narrative"
)

type memWriter struct {
	mu    sync.Mutex
	files map[contract.ArtifactID]string
	fail  error
}

func (w *memWriter) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if w.fail != nil {
		return w.fail
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files == nil {
		w.files = map[contract.ArtifactID]string{}
	}
	w.files[id] = string(b)
	return nil
}

func exporters(t *testing.T) []contract.Exporter {
	t.Helper()
	c, err := ecsv.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	n, err := enarr.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return []contract.Exporter{c, n}
}

func TestExportWritesAllArtifacts(t *testing.T) {
	res := contract.AnalysisResult{
		Records:   []contract.ExerciseRecord{{RawNumber: "3", Page: 2, Suitability: 5, Description: "Suma"}},
		Narrative: "\n\nResultados de páginas 1 a 2:\nEjercicio 3 (Página 2) [Idoneidad: 5]: Suma",
		RunID:     "r1",
	}
	w := &memWriter{}
	ids, err := Export(context.Background(), exporters(t), w, "run-1", res, diag.Nop())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(ids) != 2 || ids[0] != "run-1/analisis_ejercicios.csv" || ids[1] != "run-1/analisis_detallado.txt" {
		t.Fatalf("ids=%v", ids)
	}
	if !strings.Contains(w.files[ids[0]], "Página,Ejercicio,Idoneidad,Descripción") {
		t.Fatalf("csv 表头缺失: %q", w.files[ids[0]])
	}
	if !strings.Contains(w.files[ids[1]], "Resultados de páginas 1 a 2") {
		t.Fatalf("叙述缺失: %q", w.files[ids[1]])
	}
}

func TestExportErrors(t *testing.T) {
	if _, err := Export(context.Background(), exporters(t), nil, "", contract.AnalysisResult{}, nil); err == nil {
		t.Fatalf("nil writer 应报错")
	}
	boom := errors.New("disk full")
	ids, err := Export(context.Background(), exporters(t), &memWriter{fail: boom}, "", contract.AnalysisResult{}, nil)
	if !errors.Is(err, boom) || len(ids) != 0 {
		t.Fatalf("写入失败应透传: ids=%v err=%v", ids, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Export(ctx, exporters(t), &memWriter{}, "", contract.AnalysisResult{}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("取消应返回 ctx 错误: %v", err)
	}
}
