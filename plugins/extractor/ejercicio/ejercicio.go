package ejercicio

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"exscan/pkg/contract"
)

// DefaultPlaceholder: 标题后无描述文本时的占位。
const DefaultPlaceholder = "Sin descripción"

// Options: 抽取器可选配置。
type Options struct {
	// Placeholder: 空描述占位；空串采用 DefaultPlaceholder。
	Placeholder string `json:"placeholder"`
}

type extractor struct {
	placeholder string
}

// New 从原样 JSON Options 创建抽取器（严格解码，拒绝未知字段）。
func New(raw json.RawMessage) (contract.Extractor, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, err
		}
	}
	p := opts.Placeholder
	if p == "" {
		p = DefaultPlaceholder
	}
	return &extractor{placeholder: p}, nil
}

// 完整标题：Ejercicio <N> (Página <P>) [Idoneidad: <S>]:
// N 须以数字开头，可带字母/点/连字符后缀（"3a"、"2.1"），原样保留在 RawNumber。
// (?i) 在 RE2 中按 Unicode 折叠，"PÁGINA" 同样匹配。
var headerRe = regexp.MustCompile(`(?i)ejercicio\s+(\d[\w.\-]*)\s*\(\s*página\s+(\d+)\s*\)\s*\[\s*idoneidad\s*:\s*(\d+)\s*\]\s*:`)

// 描述边界：下一个 "Ejercicio … (Página" 起点（可能是残缺标题）。
var boundaryRe = regexp.MustCompile(`(?i)ejercicio\s+\S+\s*\(\s*página`)

// Extract 从一段模型自由文本中抽取记录：
// - 无匹配返回空切片，不报错；
// - 字段无法解析的标题静默丢弃；
// - 描述可跨行，截止于下一个边界或文本末尾。
func (e *extractor) Extract(ctx context.Context, raw contract.Raw) ([]contract.ExerciseRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	text := raw.Text
	headers := headerRe.FindAllStringSubmatchIndex(text, -1)
	if len(headers) == 0 {
		return nil, nil
	}
	bounds := boundaryRe.FindAllStringIndex(text, -1)

	out := make([]contract.ExerciseRecord, 0, len(headers))
	bi := 0
	for _, h := range headers {
		page, err := strconv.Atoi(text[h[4]:h[5]])
		if err != nil {
			continue
		}
		suit, err := strconv.Atoi(text[h[6]:h[7]])
		if err != nil {
			continue
		}
		// bounds 与 headers 同序递增，单调推进游标即可
		for bi < len(bounds) && bounds[bi][0] < h[1] {
			bi++
		}
		end := len(text)
		if bi < len(bounds) {
			end = bounds[bi][0]
		}
		desc := strings.TrimSpace(text[h[1]:end])
		if desc == "" {
			desc = e.placeholder
		}
		out = append(out, contract.ExerciseRecord{
			RawNumber:   text[h[2]:h[3]],
			Page:        page,
			Suitability: suit,
			Description: desc,
		})
	}
	return out, nil
}

var _ contract.Extractor = (*extractor)(nil)
