package metrics

import (
	"math"

	"github.com/dep2p/go-p2pbus/pkg/types"
)

// StatisticsCalculator 流式统计（Welford 算法）
//
// 零值可用。
type StatisticsCalculator struct {
	count uint64
	mean  float64
	m2    float64
	min   float64
	max   float64
}

// Add 添加一个样本
func (s *StatisticsCalculator) Add(v float64) {
	s.count++
	if s.count == 1 {
		s.mean = v
		s.m2 = 0
		s.min = v
		s.max = v
		return
	}

	delta := v - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (v - s.mean)
	s.min = math.Min(s.min, v)
	s.max = math.Max(s.max, v)
}

// Count 样本数
func (s *StatisticsCalculator) Count() uint64 { return s.count }

// Mean 均值
func (s *StatisticsCalculator) Mean() float64 { return s.mean }

// Variance 样本方差（n-1）
func (s *StatisticsCalculator) Variance() float64 {
	if s.count < 2 {
		return 0
	}
	return s.m2 / float64(s.count-1)
}

// Snapshot 返回当前统计快照
func (s *StatisticsCalculator) Snapshot() types.LatencyStats {
	return types.LatencyStats{
		Count:    s.count,
		Mean:     s.mean,
		Min:      s.min,
		Max:      s.max,
		Variance: s.Variance(),
	}
}

// Reset 清空统计
func (s *StatisticsCalculator) Reset() {
	*s = StatisticsCalculator{}
}
