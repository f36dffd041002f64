package contract

import (
	"context"
	"io"
)

// ExportColumns: 表格导出的固定列顺序。
var ExportColumns = []string{"Página", "Ejercicio", "Idoneidad", "Descripción"}

// Exporter: 将 AnalysisResult 编码为某种交换格式（CSV/XLSX/叙述文本）。
// 约束：
//  1. 列顺序固定为 ExportColumns；
//  2. 不修改 result；
//  3. 返回的 Reader 由调用方一次性消费。
type Exporter interface {
	// Name 返回默认工件名（如 analisis_ejercicios.csv）。
	Name() string
	// ContentType 返回 MIME 类型（供 HTTP 下载使用）。
	ContentType() string
	Export(ctx context.Context, result AnalysisResult) (io.Reader, error)
}
