// Package aggregate 合并一次运行的全部记录并按固定规则排序。
package aggregate

import (
	"fmt"
	"sort"

	"exscan/pkg/contract"
)

// Aggregate 返回排好序的新切片（不修改入参）：
//  1. Suitability 降序；
//  2. Page 升序；
//  3. SortKey 升序，nil 排在全部数值之后。
//
// 稳定排序：键完全相同的记录保持插入顺序（批次顺序，其次批内匹配顺序）。
// 空输入返回 ErrNoResult。
func Aggregate(records []contract.ExerciseRecord) ([]contract.ExerciseRecord, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("aggregate: %w", contract.ErrNoResult)
	}
	type keyed struct {
		rec contract.ExerciseRecord
		key *float64
	}
	ks := make([]keyed, len(records))
	for i, r := range records {
		ks[i] = keyed{rec: r, key: r.SortKey()}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		a, b := ks[i], ks[j]
		if a.rec.Suitability != b.rec.Suitability {
			return a.rec.Suitability > b.rec.Suitability
		}
		if a.rec.Page != b.rec.Page {
			return a.rec.Page < b.rec.Page
		}
		return lessKey(a.key, b.key)
	})
	out := make([]contract.ExerciseRecord, len(ks))
	for i := range ks {
		out[i] = ks[i].rec
	}
	return out, nil
}

func lessKey(a, b *float64) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return *a < *b
	}
}
