package contract

import (
	"path/filepath"
	"testing"
)

// TestNormalizeDocID 验证路径规范化逻辑。
func TestNormalizeDocID(t *testing.T) {
	wpath := filepath.Join("a", "b", "c")
	basicCases := map[string]string{
		wpath:      "a/b/c",
		"./x/../y": "y",
		"":         ".",
	}
	for in, want := range basicCases {
		got := NormalizeDocID(in)
		if string(got) != want {
			t.Fatalf("基础测试 %s -> %s, 预期 %s", in, got, want)
		}
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Windows路径", "C:\\Users\\test\\libro.pdf", "C:/Users/test/libro.pdf"},
		{"清理多余斜杠", "path//to///libro.txt", "path/to/libro.txt"},
		{"处理父目录", "path/to/../from/libro.txt", "path/from/libro.txt"},
		{"混合分隔符", "C:\\Users/test\\Documents/libro.pdf", "C:/Users/test/Documents/libro.pdf"},
		{"西语文件名", "cursos\\español/Unidad 1.pdf", "cursos/español/Unidad 1.pdf"},
		{"仅分隔符", "\\\\\\///", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeDocID(tt.input); string(got) != tt.expected {
				t.Errorf("NormalizeDocID(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

// TestSortKey 覆盖数值/非数值编号的解析。
func TestSortKey(t *testing.T) {
	cases := []struct {
		raw  string
		want *float64
	}{
		{"3", f64(3)},
		{" 10 ", f64(10)},
		{"2.5", f64(2.5)},
		{"", nil},
		{"3a", nil},
		{"NaN", nil},
	}
	for _, c := range cases {
		got := ExerciseRecord{RawNumber: c.raw}.SortKey()
		switch {
		case c.want == nil && got != nil:
			t.Fatalf("%q: 预期 nil, got %v", c.raw, *got)
		case c.want != nil && (got == nil || *got != *c.want):
			t.Fatalf("%q: 预期 %v, got %v", c.raw, *c.want, got)
		}
	}
}

// TestBatchRange 验证区间标签格式。
func TestBatchRange(t *testing.T) {
	b := Batch{StartPage: 3, EndPage: 27}
	if b.Range() != "páginas 3 a 27" {
		t.Fatalf("unexpected range %q", b.Range())
	}
}

// TestResultClone 验证深拷贝。
func TestResultClone(t *testing.T) {
	r := AnalysisResult{Records: []ExerciseRecord{{RawNumber: "1", Page: 1, Suitability: 5}}, Narrative: "n"}
	c := r.Clone()
	r.Records[0].RawNumber = "x"
	if c.Records[0].RawNumber != "1" {
		t.Fatalf("clone 未独立")
	}
	if (AnalysisResult{}).Clone().Records != nil {
		t.Fatalf("nil records 应保持 nil")
	}
}

func f64(v float64) *float64 { return &v }
