package marker

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"exscan/pkg/contract"
)

// Options 为页标记 Segmenter 的可选配置（最小必要）。
type Options struct {
	// MaxPageBytes: 单页文本最大字节数。0 表示不限制。
	MaxPageBytes int `json:"max_page_bytes"`
	// SkipNormalize: 关闭 NFC 归一化（默认开启，PDF 抽取常产生分解形式的 "á"）。
	SkipNormalize bool `json:"skip_normalize"`
}

// Segmenter 实现 "[Página N]" 标记拆分。
type Segmenter struct {
	maxBytes  int
	normalize bool
}

// New 创建页标记 Segmenter。
func New(opts *Options) *Segmenter {
	s := &Segmenter{normalize: true}
	if opts != nil {
		if opts.MaxPageBytes > 0 {
			s.maxBytes = opts.MaxPageBytes
		}
		s.normalize = !opts.SkipNormalize
	}
	return s
}

var markerRe = regexp.MustCompile(`\[Página (\d+)\]`)

// Segment 将文档文本拆分为按页码升序的 []Page。
// 同一页码重复出现时后者覆盖前者。
func (s *Segmenter) Segment(ctx context.Context, text string) ([]contract.Page, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: invalid UTF-8 in document", contract.ErrSegmentation)
	}
	if s.normalize {
		text = norm.NFC.String(text)
	}
	// CRLF→LF 的最小必要归一
	text = strings.ReplaceAll(text, "\r\n", "\n")

	locs := markerRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil, nil
	}
	byNum := make(map[int]string, len(locs))
	for i, loc := range locs {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		num, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err != nil {
			return nil, fmt.Errorf("%w: page number %q: %v", contract.ErrSegmentation, text[loc[2]:loc[3]], err)
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(text[loc[1]:end])
		if s.maxBytes > 0 && len(body) > s.maxBytes {
			return nil, fmt.Errorf("%w: page %d too large: %d > %d", contract.ErrSegmentation, num, len(body), s.maxBytes)
		}
		byNum[num] = body
	}

	pages := make([]contract.Page, 0, len(byNum))
	for n, t := range byNum {
		pages = append(pages, contract.Page{Number: n, Text: t})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

var _ contract.Segmenter = (*Segmenter)(nil)
