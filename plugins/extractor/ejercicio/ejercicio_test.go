package ejercicio

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"exscan/pkg/contract"
)

func mustNew(t *testing.T) contract.Extractor {
	t.Helper()
	e, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return e
}

// TestExtractSingle 单条记录（端到端示例）
func TestExtractSingle(t *testing.T) {
	recs, err := mustNew(t).Extract(context.Background(), contract.Raw{Text: "Ejercicio 3 (Página 1) [Idoneidad: 4]: Practica vocabulario."})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := contract.ExerciseRecord{RawNumber: "3", Page: 1, Suitability: 4, Description: "Practica vocabulario."}
	if len(recs) != 1 || recs[0] != want {
		t.Fatalf("unexpected %+v", recs)
	}
}

// TestExtractMany 多条记录、跨行描述、大小写不敏感
func TestExtractMany(t *testing.T) {
	text := "Encontré los siguientes ejercicios:\n\n" +
		"Ejercicio 1 (Página 12) [Idoneidad: 5]: Completa el diálogo.\nUsa el pretérito.\n\n" +
		"EJERCICIO 2 (PÁGINA 13) [IDONEIDAD: 3]: Lee el texto.\n" +
		"ejercicio 4b (página 14) [idoneidad:2]: Relaciona columnas."
	recs, err := mustNew(t).Extract(context.Background(), contract.Raw{Text: text})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := []contract.ExerciseRecord{
		{RawNumber: "1", Page: 12, Suitability: 5, Description: "Completa el diálogo.\nUsa el pretérito."},
		{RawNumber: "2", Page: 13, Suitability: 3, Description: "Lee el texto."},
		{RawNumber: "4b", Page: 14, Suitability: 2, Description: "Relaciona columnas."},
	}
	if len(recs) != len(want) {
		t.Fatalf("expect %d records, got %+v", len(want), recs)
	}
	for i := range want {
		if recs[i] != want[i] {
			t.Fatalf("record %d: got %+v want %+v", i, recs[i], want[i])
		}
	}
}

// TestExtractNoMatch 无标题返回空切片
func TestExtractNoMatch(t *testing.T) {
	for _, text := range []string{"", "No encontré ejercicios relevantes.", "Ejercicio 1 sin formato"} {
		recs, err := mustNew(t).Extract(context.Background(), contract.Raw{Text: text})
		if err != nil || len(recs) != 0 {
			t.Fatalf("%q: expect empty, got %v %v", text, recs, err)
		}
	}
}

// TestExtractPlaceholder 空描述采用占位
func TestExtractPlaceholder(t *testing.T) {
	text := "Ejercicio 1 (Página 2) [Idoneidad: 4]:\nEjercicio 2 (Página 2) [Idoneidad: 1]:   "
	recs, err := mustNew(t).Extract(context.Background(), contract.Raw{Text: text})
	if err != nil || len(recs) != 2 {
		t.Fatalf("unexpected %v %v", recs, err)
	}
	for _, r := range recs {
		if r.Description != DefaultPlaceholder {
			t.Fatalf("expect placeholder, got %q", r.Description)
		}
	}
	e, err := New(json.RawMessage(`{"placeholder":"-"}`))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	recs, _ = e.Extract(context.Background(), contract.Raw{Text: "Ejercicio 1 (Página 2) [Idoneidad: 4]:"})
	if len(recs) != 1 || recs[0].Description != "-" {
		t.Fatalf("custom placeholder ignored: %+v", recs)
	}
}

// TestExtractMalformedHeaderBounds 残缺标题本身丢弃，但仍截断上一条描述
func TestExtractMalformedHeaderBounds(t *testing.T) {
	text := "Ejercicio 1 (Página 2) [Idoneidad: 4]: Bueno.\nEjercicio 7 (Página x) sin idoneidad"
	recs, err := mustNew(t).Extract(context.Background(), contract.Raw{Text: text})
	if err != nil || len(recs) != 1 {
		t.Fatalf("unexpected %v %v", recs, err)
	}
	if recs[0].Description != "Bueno." {
		t.Fatalf("description not cut at boundary: %q", recs[0].Description)
	}
}

// TestExtractSuitabilityNotClamped 超出 1–5 的分值原样保留
func TestExtractSuitabilityNotClamped(t *testing.T) {
	recs, _ := mustNew(t).Extract(context.Background(), contract.Raw{Text: "Ejercicio 1 (Página 2) [Idoneidad: 9]: x"})
	if len(recs) != 1 || recs[0].Suitability != 9 {
		t.Fatalf("unexpected %+v", recs)
	}
}

// TestExtractNumberForms 编号须以数字开头，其后可带字母、点或连字符；原文保留，排序键另行解析
func TestExtractNumberForms(t *testing.T) {
	cases := []struct {
		text    string
		want    string
		numeric bool
		ok      bool
	}{
		{"Ejercicio 3 (Página 1) [Idoneidad: 4]: z", "3", true, true},
		{"Ejercicio 3a (Página 1) [Idoneidad: 4]: z", "3a", false, true},
		{"Ejercicio 2.1 (Página 1) [Idoneidad: 4]: z", "2.1", true, true},
		{"Ejercicio 4-b (Página 1) [Idoneidad: 4]: z", "4-b", false, true},
		{"Ejercicio a3 (Página 1) [Idoneidad: 4]: z", "", false, false},
		{"Ejercicio IV (Página 1) [Idoneidad: 4]: z", "", false, false},
	}
	for _, c := range cases {
		recs, err := mustNew(t).Extract(context.Background(), contract.Raw{Text: c.text})
		if err != nil {
			t.Fatalf("%q: %v", c.text, err)
		}
		if !c.ok {
			if len(recs) != 0 {
				t.Fatalf("%q: expected no record, got %+v", c.text, recs)
			}
			continue
		}
		if len(recs) != 1 || recs[0].RawNumber != c.want {
			t.Fatalf("%q: got %+v", c.text, recs)
		}
		if (recs[0].SortKey() != nil) != c.numeric {
			t.Fatalf("%q: sort key numeric=%v", c.text, recs[0].SortKey() != nil)
		}
	}
}

// TestNewUnknownField 未知字段报错
func TestNewUnknownField(t *testing.T) {
	if _, err := New(json.RawMessage(`{"x":1}`)); err == nil {
		t.Fatalf("未知字段应报错")
	}
}

// TestExtractCtxCancel 测试上下文取消
func TestExtractCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := mustNew(t).Extract(ctx, contract.Raw{Text: "x"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect canceled, got %v", err)
	}
}
