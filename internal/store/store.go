// Package store 持有最近一次成功的分析结果及其恢复快照。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"exscan/internal/aggregate"
	"exscan/pkg/contract"
)

// DefaultKey: 快照默认键。
const DefaultKey = "exscan:last_result"

// Store: 当前结果 + 恢复快照 + 错误标记。
// 写者只有编排层的成功路径；读者（HTTP/CLI 展示）可并发读取，因此以单锁保护。
type Store struct {
	mu      sync.Mutex
	cur     *contract.AnalysisResult
	errMsg  string
	backend contract.SnapshotBackend
	key     string
}

// New 创建结果存储；backend 为 nil 时只保留内存引用（无恢复能力）。
func New(backend contract.SnapshotBackend, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{backend: backend, key: key}
}

// Commit 聚合并整体替换当前结果与快照，成功时清除错误标记。
// 失败（无记录/快照写入失败）时设置错误标记并返回 false，原有结果保持不变。
func (s *Store) Commit(ctx context.Context, res contract.AnalysisResult) bool {
	sorted, err := aggregate.Aggregate(res.Records)
	if err != nil {
		s.SetError(err.Error())
		return false
	}
	next := res.Clone()
	next.Records = sorted
	if next.CompletedAt.IsZero() {
		next.CompletedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		payload, err := json.Marshal(next)
		if err != nil {
			s.errMsg = err.Error()
			return false
		}
		if err := s.backend.Save(ctx, s.key, payload); err != nil {
			s.errMsg = fmt.Sprintf("snapshot save: %v", err)
			return false
		}
	}
	s.cur = &next
	s.errMsg = ""
	return true
}

// Current 返回当前结果的副本；引用丢失但快照存在时先从快照重建。
// 无结果时返回 (nil, nil)。
func (s *Store) Current(ctx context.Context) (*contract.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil && s.backend != nil {
		payload, err := s.backend.Load(ctx, s.key)
		switch {
		case errors.Is(err, contract.ErrSnapshotNotFound):
			return nil, nil
		case err != nil:
			return nil, fmt.Errorf("snapshot load: %w", err)
		}
		var res contract.AnalysisResult
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, fmt.Errorf("snapshot decode: %w", err)
		}
		s.cur = &res
	}
	if s.cur == nil {
		return nil, nil
	}
	out := s.cur.Clone()
	return &out, nil
}

// DropLive 仅清除内存引用（模拟宿主在重绘间丢失对象引用），快照保留。
func (s *Store) DropLive() {
	s.mu.Lock()
	s.cur = nil
	s.mu.Unlock()
}

// Reset 在同一把锁内清除当前结果、快照与错误标记。
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend != nil {
		if err := s.backend.Delete(ctx, s.key); err != nil {
			return fmt.Errorf("snapshot delete: %w", err)
		}
	}
	s.cur = nil
	s.errMsg = ""
	return nil
}

// SetError 记录分析错误（不影响已有结果）。
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
}

// Err 返回最近的分析错误；空串表示无错误。
func (s *Store) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}
