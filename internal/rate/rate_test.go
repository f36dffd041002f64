package rate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"exscan/pkg/contract"
)

// fakeClock: sleep 直接推进时钟，便于断言等待时长。
type fakeClock struct {
	now    time.Time
	slept  []time.Duration
	cancel func() // 可选：第 n 次 sleep 时取消
	at     int
}

func newFake(s *Scheduler) *fakeClock {
	f := &fakeClock{now: time.Unix(1000, 0)}
	s.clk = func() time.Time { return f.now }
	s.sleep = func(ctx context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		if f.cancel != nil && len(f.slept) == f.at {
			f.cancel()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		f.now = f.now.Add(d)
		return nil
	}
	return f
}

func TestSchedulerCooldownOnlyWhenPaced(t *testing.T) {
	s := NewScheduler(map[LimitKey]Policy{"k": {Cooldown: 65 * time.Second}}, nil)
	f := newFake(s)
	var paused time.Duration
	ask := Ask{Key: "k", OnPause: func(d time.Duration) { paused = d }}
	if err := s.Wait(context.Background(), ask); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if len(f.slept) != 0 || paused != 0 {
		t.Fatalf("首批不应冷却: %v", f.slept)
	}
	ask.Pace = true
	if err := s.Wait(context.Background(), ask); err != nil {
		t.Fatalf("paced: %v", err)
	}
	if len(f.slept) != 1 || f.slept[0] != 65*time.Second || paused != 65*time.Second {
		t.Fatalf("应冷却 65s: slept=%v paused=%v", f.slept, paused)
	}
	if s.Cooldown("k") != 65*time.Second || s.Cooldown("other") != 0 {
		t.Fatalf("Cooldown lookup")
	}
}

func TestSchedulerRPMWindow(t *testing.T) {
	s := NewScheduler(map[LimitKey]Policy{"k": {RPM: 2}}, nil)
	f := newFake(s)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.Wait(ctx, Ask{Key: "k"}); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
		f.now = f.now.Add(10 * time.Second)
	}
	// 第三次须等到第一条记录滑出窗口：60s - 20s
	if err := s.Wait(ctx, Ask{Key: "k"}); err != nil {
		t.Fatalf("third: %v", err)
	}
	if len(f.slept) != 1 || f.slept[0] != 40*time.Second {
		t.Fatalf("slept = %v", f.slept)
	}
}

func TestSchedulerTPMWindow(t *testing.T) {
	s := NewScheduler(map[LimitKey]Policy{"k": {TPM: 100}}, nil)
	f := newFake(s)
	ctx := context.Background()
	if err := s.Wait(ctx, Ask{Key: "k", Tokens: 60}); err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(5 * time.Second)
	if err := s.Wait(ctx, Ask{Key: "k", Tokens: 30}); err != nil {
		t.Fatal(err)
	}
	// 60+30+50 > 100：释放第一条（60）即够
	if err := s.Wait(ctx, Ask{Key: "k", Tokens: 50}); err != nil {
		t.Fatal(err)
	}
	if len(f.slept) != 1 || f.slept[0] != 55*time.Second {
		t.Fatalf("slept = %v", f.slept)
	}
}

func TestSchedulerRejectsOversizedAsk(t *testing.T) {
	s := NewScheduler(map[LimitKey]Policy{"k": {TPM: 100, MaxTokensPerReq: 50}, "t": {TPM: 10}}, nil)
	cases := []struct {
		ask  Ask
		want error
	}{
		{Ask{Key: "k", Tokens: 51}, contract.ErrBudgetExceeded},
		{Ask{Key: "t", Tokens: 11}, contract.ErrBudgetExceeded},
		{Ask{Key: "k", Tokens: -1}, contract.ErrInvalidInput},
	}
	for _, c := range cases {
		if err := s.Wait(context.Background(), c.ask); !errors.Is(err, c.want) {
			t.Fatalf("ask %+v: got %v want %v", c.ask, err, c.want)
		}
	}
}

func TestSchedulerUnknownKeyUnlimited(t *testing.T) {
	s := NewScheduler(nil, nil)
	f := newFake(s)
	for i := 0; i < 100; i++ {
		if err := s.Wait(context.Background(), Ask{Key: "nuevo", Tokens: 1000, Pace: true}); err != nil {
			t.Fatal(err)
		}
	}
	if len(f.slept) != 0 {
		t.Fatalf("未配置分组不应等待: %v", f.slept)
	}
}

func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler(map[LimitKey]Policy{"k": {Cooldown: time.Hour}}, nil)
	f := newFake(s)
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel, f.at = cancel, 1
	if err := s.Wait(ctx, Ask{Key: "k", Pace: true}); !errors.Is(err, context.Canceled) {
		t.Fatalf("冷却中取消应返回取消错误, got %v", err)
	}
	// 已取消的 ctx 进入即返回，不回调
	called := false
	if err := s.Wait(ctx, Ask{Key: "k", Pace: true, OnPause: func(time.Duration) { called = true }}); err == nil || called {
		t.Fatalf("已取消 ctx 应立即返回")
	}
}

func TestSleepCtxReal(t *testing.T) {
	t0 := time.Now()
	if err := sleepCtx(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if time.Since(t0) < 20*time.Millisecond {
		t.Fatalf("等待时间不足")
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	t0 = time.Now()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if time.Since(t0) > 5*time.Second {
		t.Fatalf("取消响应过慢")
	}
}

func TestKeyFor(t *testing.T) {
	t.Setenv("TEST_EXSCAN_KEY", "abc")
	t.Setenv("ANTHROPIC_API_KEY", "sk-env")
	cases := []struct {
		name, provider, client, raw string
		wantPrefix                  string
	}{
		{"explicit", "claude", "anthropic", `{"api_key":"sk-ant"}`, "anthropic:"},
		{"env name", "gpt", "openai", `{"api_key_env":"TEST_EXSCAN_KEY"}`, "openai:"},
		{"default env", "claude", "anthropic", `{}`, "anthropic:"},
		{"no key", "local", "openai", `{"api_key_env":"TEST_EXSCAN_MISSING"}`, "local"},
		{"mock", "mock", "mock", ``, "mock"},
	}
	for _, c := range cases {
		k := KeyFor(c.provider, c.client, json.RawMessage(c.raw))
		if !strings.HasPrefix(string(k), c.wantPrefix) {
			t.Fatalf("%s: key = %q", c.name, k)
		}
		if strings.Contains(string(k), "sk-") {
			t.Fatalf("%s: key leaks secret: %q", c.name, k)
		}
	}
	// 同一密钥共享分组
	a := KeyFor("a", "anthropic", json.RawMessage(`{"api_key":"same"}`))
	b := KeyFor("b", "anthropic", json.RawMessage(`{"api_key":"same"}`))
	if a != b {
		t.Fatalf("same key should share lane: %q vs %q", a, b)
	}
}
