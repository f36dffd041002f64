package contract

import (
	"strconv"
	"strings"
	"time"
)

// DocID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type DocID string

// Page: 原子输入片段（单页文本）。
// 约束：
// - Number 在同一文档内唯一；
// - 顺序由 Number 数值决定，而非在文档中的出现位置；
// - Text 为标记行之后到下一个标记之前的原文，不做业务性清洗。
type Page struct {
	Number int
	Text   string
}

// Batch: 按页码升序切分的页组。
// 同一次运行内 BatchIndex 自 0 严格递增；StartPage/EndPage 为成员页码的 min/max
// （页码可以不连续，稀疏文档中一个批次可能跨越数值缺口）。
type Batch struct {
	BatchIndex int64
	Pages      []Page
	StartPage  int
	EndPage    int
}

// Range 返回批次的人类可读页码区间（"páginas S a E"），与叙述标题、终端提示共用。
func (b Batch) Range() string {
	return "páginas " + strconv.Itoa(b.StartPage) + " a " + strconv.Itoa(b.EndPage)
}

// ExerciseRecord: 从模型自由文本中抽取出的结构化练习记录。
// RawNumber 保留原文（生产方不保证是数字）；Suitability 不做 1–5 夹取。
// 创建后不再修改。
type ExerciseRecord struct {
	RawNumber   string `json:"raw_number"`
	Page        int    `json:"page"`
	Suitability int    `json:"suitability"`
	Description string `json:"description"`
}

// SortKey: RawNumber 的数值解析；无法解析时返回 nil。
func (r ExerciseRecord) SortKey() *float64 {
	s := strings.TrimSpace(r.RawNumber)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != f { // NaN 视为不可解析
		return nil
	}
	return &f
}

// AnalysisResult: 一次完整运行的聚合结果。
// Narrative 为各批原始响应（带区间标题）的拼接，用于审计/详情展示。
type AnalysisResult struct {
	Records     []ExerciseRecord `json:"records"`
	Narrative   string           `json:"narrative"`
	Prompt      string           `json:"prompt,omitempty"`
	RunID       string           `json:"run_id,omitempty"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
}

// Clone 深拷贝结果，避免调用方与存储共享底层切片。
func (r AnalysisResult) Clone() AnalysisResult {
	out := r
	if r.Records != nil {
		out.Records = make([]ExerciseRecord, len(r.Records))
		copy(out.Records, r.Records)
	}
	return out
}

// Meta: 可选的轻量元信息；核心流程不读取其键值。
type Meta map[string]string
