package diag

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogOptions 日志器构造参数。
type LogOptions struct {
	CorrID string
	Level  string // debug|info|warn|error
	Pretty bool   // 终端友好输出（zerolog.ConsoleWriter）
	Dir    string // 轮转文件目录；为空且 Out 为空时写 logs/
	Out    io.Writer
}

// Logger 事件式结构化日志：comp/stage/code/file_id/batch_id 字段固定，底层为 zerolog。
type Logger struct {
	zl   zerolog.Logger
	sink *RotatingFile
}

// NewLogger 以默认路径 logs/ 与 10MiB 轮转初始化。
func NewLogger(corrID, level string) *Logger {
	return NewLoggerWith(LogOptions{CorrID: corrID, Level: level})
}

// NewLoggerWith 按选项构造；Out 优先于 Dir。
func NewLoggerWith(o LogOptions) *Logger {
	l := &Logger{}
	var out io.Writer = o.Out
	if out == nil {
		dir := strings.TrimSpace(o.Dir)
		if dir == "" {
			dir = "logs"
		}
		l.sink = NewRotatingFile(dir, 10*1024*1024)
		out = l.sink
	}
	if o.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: !isConsole(o.Out)}
	}
	l.zl = zerolog.New(out).
		Level(parseLevel(o.Level)).
		With().
		Timestamp().
		Str("corr_id", o.CorrID).
		Logger()
	return l
}

func isConsole(w io.Writer) bool {
	return w == io.Writer(os.Stderr) || w == io.Writer(os.Stdout)
}

// Nop 返回丢弃所有事件的日志器（测试与未配置场景）。
func Nop() *Logger { return &Logger{zl: zerolog.Nop()} }

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Close 关闭文件 sink（若有）。
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// Event 为标准事件字段集合。
type Event struct {
	Comp   string
	Stage  string // start|finish|error
	Code   string
	DurMS  int64
	Count  int64
	FileID string
	Batch  string
	Msg    string
	KV     map[string]string
}

func (l *Logger) log(lv zerolog.Level, ev Event) {
	if l == nil {
		return
	}
	e := l.zl.WithLevel(lv)
	if e == nil {
		return
	}
	e = e.Str("comp", ev.Comp).Str("stage", ev.Stage)
	if ev.Code != "" {
		e = e.Str("code", ev.Code)
	}
	if ev.DurMS != 0 {
		e = e.Int64("dur_ms", ev.DurMS)
	}
	if ev.Count != 0 {
		e = e.Int64("count", ev.Count)
	}
	if ev.FileID != "" {
		e = e.Str("file_id", ev.FileID)
	}
	if ev.Batch != "" {
		e = e.Str("batch_id", ev.Batch)
	}
	if len(ev.KV) > 0 {
		e = e.Dict("kv", kvDict(ev.KV))
	}
	e.Msg(ev.Msg)
}

func kvDict(kv map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range kv {
		d = d.Str(k, v)
	}
	return d
}

func since(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return time.Since(*t).Milliseconds()
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id/batch_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID, batch string) *Timer {
	return l.StartWithKV(comp, msg, fileID, batch, nil)
}

// StartWithKV 记录带 file_id/batch_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, batch string, kv map[string]string) *Timer {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, batch: batch, t0: time.Now()}
}

// Info 记录一般提示事件（如冷却等待）。
func (l *Logger) Info(comp, msg string, kv map[string]string) {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "info", Msg: msg, KV: kv})
}

// Warn 记录可恢复异常。
func (l *Logger) Warn(comp, code, msg string) {
	l.log(zerolog.WarnLevel, Event{Comp: comp, Stage: "warn", Code: code, Msg: msg})
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.log(zerolog.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg})
}

// ErrorWith 支持 file_id/batch_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, batch string) {
	l.ErrorWithKV(comp, code, msg, durSince, fileID, batch, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, batch string, kv map[string]string) {
	l.log(zerolog.ErrorLevel, Event{Comp: comp, Stage: "error", Code: code, DurMS: since(durSince), Msg: msg, FileID: fileID, Batch: batch, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(zerolog.InfoLevel, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 事件（仅 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID, batch string, kv map[string]string) {
	l.log(zerolog.DebugLevel, Event{Comp: comp, Stage: "start", FileID: fileID, Batch: batch, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	batch  string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	dur := time.Since(t.t0).Milliseconds()
	t.l.log(zerolog.InfoLevel, Event{Comp: t.comp, Stage: "finish", DurMS: dur, Count: count, FileID: t.fileID, Batch: t.batch, Msg: msg})
	ObserveDuration(t.comp, "finish", dur)
}

// Elapsed 返回自 start 起的耗时。
func (t *Timer) Elapsed() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.t0)
}

var _ io.Writer = (*RotatingFile)(nil)

// stderrFallback 在 sink 写失败时兜底。
var stderrFallback io.Writer = os.Stderr
