package mock

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"exscan/pkg/contract"
)

func batch() contract.Batch {
	return contract.Batch{StartPage: 1, EndPage: 2, Pages: []contract.Page{
		{Number: 1, Text: "Unidad 1\nEjercicio 3. Completa el diálogo.\nEjercicio 4: Escucha."},
		{Number: 2, Text: "Vocabulario"},
	}}
}

// TestPerPageDefault 默认模式按页回报标题
func TestPerPageDefault(t *testing.T) {
	c, _ := New(nil)
	raw, err := c.Query(context.Background(), batch(), contract.TextPrompt("x"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	want := "Ejercicio 3 (Página 1) [Idoneidad: 3]: MOCK: Completa el diálogo.\n" +
		"Ejercicio 4 (Página 1) [Idoneidad: 3]: MOCK: Escucha.\n"
	if raw.Text != want {
		t.Fatalf("unexpected text %q", raw.Text)
	}
}

// TestPerPageNone 无命中返回说明文本
func TestPerPageNone(t *testing.T) {
	c, _ := New(json.RawMessage(`{"suitability":5}`))
	b := contract.Batch{Pages: []contract.Page{{Number: 9, Text: "Portada"}}}
	raw, _ := c.Query(context.Background(), b, nil)
	if raw.Text != NoneFound {
		t.Fatalf("unexpected %q", raw.Text)
	}
}

// TestFixedAndEcho 固定文本与回显模式
func TestFixedAndEcho(t *testing.T) {
	c, _ := New(json.RawMessage(`{"response_mode":"fixed","text":"Ejercicio 1 (Página 1) [Idoneidad: 4]: x"}`))
	raw, _ := c.Query(context.Background(), batch(), nil)
	if raw.Text != "Ejercicio 1 (Página 1) [Idoneidad: 4]: x" {
		t.Fatalf("fixed: %q", raw.Text)
	}
	c, _ = New(json.RawMessage(`{"response_mode":"echo"}`))
	raw, _ = c.Query(context.Background(), batch(), contract.ChatPrompt{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}})
	if raw.Text != "u" {
		t.Fatalf("echo: %q", raw.Text)
	}
	raw, _ = c.Query(context.Background(), batch(), contract.TextPrompt("t"))
	if !strings.HasPrefix(raw.Text, "t") {
		t.Fatalf("echo text: %q", raw.Text)
	}
}
