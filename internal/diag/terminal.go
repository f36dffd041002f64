package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// 终端提示文案（与导出文件同为西语）。
const (
	MsgAnalyzing = "Analizando %s..."
	MsgWaiting   = "Esperando para continuar el análisis..."
	MsgDone      = "Análisis completado!"
	MsgEmpty     = "No se encontraron ejercicios que cumplan con el estándar especificado."
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认 stderr）。
// - TTY: 单行 \r 覆盖；非 TTY: 关键节点分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	llm      string
	docID    string
	runStart time.Time

	batchesTotal int
	batchesDone  int
	records      int

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart 记录文档与计划批次。
func (t *Terminal) RunStart(docID, llm string, batchesTotal int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.docID = shorten(docID, 48)
	t.llm = llm
	t.batchesTotal = batchesTotal
	t.batchesDone = 0
	t.records = 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] %s | llm=%s | lotes=%d", safe(t.docID), safe(llm), batchesTotal))
}

// BatchStart 提示当前分析的页区间。
func (t *Terminal) BatchStart(pageRange string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.status(fmt.Sprintf(MsgAnalyzing, safe(pageRange)))
}

// Cooldown 提示批间等待。
func (t *Terminal) Cooldown(d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.status(fmt.Sprintf("%s (%s)", MsgWaiting, formatDur(d)))
}

// Progress 周期性进度（TTY 下 ≥100ms 节流）。
func (t *Terminal) Progress(done, total, records int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	t.batchesDone = done
	t.batchesTotal = total
	t.records = records
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(fmt.Sprintf("[lote] %d/%d | %s | ejercicios %d | %s",
		done, total, percent(done, total), records, formatSince(t.runStart)))
}

// RunFinish 结束总览；records==0 且 ok 时输出空结果提示。
func (t *Terminal) RunFinish(ok bool, records int, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	switch {
	case !ok:
		t.println(fmt.Sprintf("[fail] %s | lotes %d/%d | %s", safe(t.docID), t.batchesDone, t.batchesTotal, formatDur(dur)))
	case records == 0:
		t.println("[ok] " + MsgEmpty)
	default:
		t.println(fmt.Sprintf("[ok] %s | ejercicios %d | %s", MsgDone, records, formatDur(dur)))
	}
}

// status: TTY 覆盖当前行；非 TTY 单独一行。
func (t *Terminal) status(s string) {
	if t.isTTY {
		t.printInline(s)
		return
	}
	t.println(s)
}

func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if t.isTTY && t.lastLen > 0 {
		s = "\n" + s
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 新行比旧行短时补空格覆盖
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shorten 按可见宽度截断（尾部省略号）。
func shorten(s string, max int) string {
	if max <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	return string(rs[:cut]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func percent(done, total int) string {
	if total <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%d%%", done*100/total)
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
