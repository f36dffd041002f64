package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"exscan/pkg/contract"
	"exscan/plugins/exporter/csv"
)

// csvPayload 渲染 n 条记录的 CSV 导出内容（与实际运行产物同构）。
func csvPayload(b *testing.B, n int) []byte {
	b.Helper()
	recs := make([]contract.ExerciseRecord, n)
	for i := range recs {
		recs[i] = contract.ExerciseRecord{
			RawNumber:   fmt.Sprintf("%d", i%40+1),
			Page:        i/4 + 1,
			Suitability: 5 - i%5,
			Description: "Lee el texto, subraya los sustantivos y escribe una oración con cada uno.",
		}
	}
	exp, err := csv.New(nil)
	if err != nil {
		b.Fatalf("csv exporter: %v", err)
	}
	r, err := exp.Export(context.Background(), contract.AnalysisResult{Records: recs})
	if err != nil {
		b.Fatalf("export: %v", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		b.Fatalf("read: %v", err)
	}
	return data
}

// BenchmarkWriteExport 写入 CSV 导出工件：记录数 × 是否原子替换。
func BenchmarkWriteExport(b *testing.B) {
	for _, n := range []int{50, 5000} {
		for _, atomic := range []bool{true, false} {
			b.Run(fmt.Sprintf("records=%d/atomic=%t", n, atomic), func(b *testing.B) {
				data := csvPayload(b, n)
				at := atomic
				w, err := New(&Options{OutputDir: b.TempDir(), Atomic: &at})
				if err != nil {
					b.Fatalf("创建 Writer 失败: %v", err)
				}
				id := contract.ArtifactID("informe/" + csv.DefaultName)
				ctx := context.Background()
				b.SetBytes(int64(len(data)))
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if err := w.Write(ctx, id, bytes.NewReader(data)); err != nil {
						b.Fatalf("写入失败: %v", err)
					}
				}
			})
		}
	}
}
