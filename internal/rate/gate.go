package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"exscan/pkg/contract"
)

// LimitKey: 调度分组键；共用同一 API Key 的 provider 落在同一组。
type LimitKey string

// Policy: 单个分组的调度策略，零值表示不限。
type Policy struct {
	// Cooldown: 批间固定等待（非自适应），在每个新批次首次查询前生效。
	Cooldown time.Duration
	// RPM/TPM 按最近 60 秒的放行记录计算。
	RPM             int
	TPM             int
	MaxTokensPerReq int
}

// Ask: 一次 LLM 查询的放行申请。
type Ask struct {
	Key    LimitKey
	Tokens int // 预估 token（>=0）
	// Pace: 第 2 批起每批首次尝试为 true；重试不再冷却。
	Pace bool
	// OnPause 在冷却开始前回调（进度与终端提示）。
	OnPause func(d time.Duration)
}

// Gate: 查询调度。批间冷却与 RPM/TPM 额度经同一次 Wait 放行。
type Gate interface {
	// Wait 阻塞到可以发起查询；ctx 取消时返回 ctx 错误，单请求超限快速失败。
	Wait(ctx context.Context, a Ask) error
	// Cooldown 返回分组的批间等待时长；未配置的分组为 0。
	Cooldown(key LimitKey) time.Duration
}

// window: RPM/TPM 的统计窗口。
const window = time.Minute

// Scheduler 是 Gate 的实现（并发安全）。
type Scheduler struct {
	clk   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	lanes map[LimitKey]*lane
}

type lane struct {
	mu     sync.Mutex
	pol    Policy
	grants []grant // 按时间升序
}

type grant struct {
	at     time.Time
	tokens int
}

// NewScheduler 按分组策略构造；clk 为空则使用 time.Now。
func NewScheduler(policies map[LimitKey]Policy, clk func() time.Time) *Scheduler {
	if clk == nil {
		clk = time.Now
	}
	s := &Scheduler{clk: clk, sleep: sleepCtx, lanes: make(map[LimitKey]*lane, len(policies))}
	for k, p := range policies {
		if p.Cooldown < 0 {
			p.Cooldown = 0
		}
		s.lanes[k] = &lane{pol: p}
	}
	return s
}

func (s *Scheduler) lane(key LimitKey) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lanes[key]
	if l == nil {
		l = &lane{}
		s.lanes[key] = l
	}
	return l
}

func (s *Scheduler) Cooldown(key LimitKey) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.lanes[key]; l != nil {
		return l.pol.Cooldown
	}
	return 0
}

func (s *Scheduler) Wait(ctx context.Context, a Ask) error {
	if a.Tokens < 0 {
		return fmt.Errorf("%w: negative token estimate %d", contract.ErrInvalidInput, a.Tokens)
	}
	l := s.lane(a.Key)
	pol := l.pol
	if pol.MaxTokensPerReq > 0 && a.Tokens > pol.MaxTokensPerReq {
		return fmt.Errorf("%w: ~%d tokens > max_tokens_per_req %d", contract.ErrBudgetExceeded, a.Tokens, pol.MaxTokensPerReq)
	}
	if pol.TPM > 0 && a.Tokens > pol.TPM {
		return fmt.Errorf("%w: ~%d tokens > tpm %d", contract.ErrBudgetExceeded, a.Tokens, pol.TPM)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.Pace && pol.Cooldown > 0 {
		if a.OnPause != nil {
			a.OnPause(pol.Cooldown)
		}
		if err := s.sleep(ctx, pol.Cooldown); err != nil {
			return err
		}
	}
	for {
		d, ok := l.admit(s.clk(), a.Tokens)
		if ok {
			return nil
		}
		if err := s.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// admit 在窗口内有余量时登记一次放行；否则返回最早腾出足够额度所需的等待。
func (l *lane) admit(now time.Time, tokens int) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pol.RPM <= 0 && l.pol.TPM <= 0 {
		return 0, true
	}
	cut := now.Add(-window)
	i := 0
	for i < len(l.grants) && !l.grants[i].at.After(cut) {
		i++
	}
	l.grants = l.grants[i:]

	used := 0
	for _, g := range l.grants {
		used += g.tokens
	}
	reqOK := l.pol.RPM <= 0 || len(l.grants) < l.pol.RPM
	tokOK := l.pol.TPM <= 0 || used+tokens <= l.pol.TPM
	if reqOK && tokOK {
		l.grants = append(l.grants, grant{at: now, tokens: tokens})
		return 0, true
	}

	// 依次假设最早的记录到期，直到两维度都满足
	wait := time.Millisecond
	freed := 0
	for j, g := range l.grants {
		freed += g.tokens
		left := len(l.grants) - (j + 1)
		if (l.pol.RPM <= 0 || left < l.pol.RPM) && (l.pol.TPM <= 0 || used-freed+tokens <= l.pol.TPM) {
			if d := g.at.Add(window).Sub(now); d > wait {
				wait = d
			}
			break
		}
	}
	return wait, false
}

// sleepCtx 等待 d 或 ctx 取消。
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Gate = (*Scheduler)(nil)
