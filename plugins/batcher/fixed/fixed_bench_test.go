package fixed

import (
	"context"
	"fmt"
	"testing"

	"exscan/pkg/contract"
)

// BenchmarkMake 基准测试 Batcher.Make，不同页数下的表现。
func BenchmarkMake(b *testing.B) {
	sizes := []int{100, 1000, 5000}
	for _, n := range sizes {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			pages := make([]contract.Page, n)
			for i := range pages {
				pages[i] = contract.Page{Number: n - i, Text: "Ejercicio de práctica"}
			}
			bt := New(nil)
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := bt.Make(ctx, pages, 25); err != nil {
					b.Fatalf("批处理失败: %v", err)
				}
			}
		})
	}
}
