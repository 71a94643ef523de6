package metrics

import (
	"time"
)

// ============================================================================
// RateMeter - 速率计算器
// ============================================================================

const rateBuckets = 60

// RateMeter 字节速率计算器（基于滑动窗口）
//
// 使用 60 个 1 秒桶计算最近 60 秒的平均速率。时间由调用方传入，
// 非并发安全，由持有者加锁。零值可用。
type RateMeter struct {
	buckets [rateBuckets]uint64
	lastIdx int
	last    time.Time
	total   uint64
}

// Add 在 now 时刻记入 n 字节
func (r *RateMeter) Add(n int, now time.Time) {
	r.advance(now)
	r.buckets[r.lastIdx] += uint64(n)
	r.total += uint64(n)
}

// advance 按经过的整秒数滚动桶，清空跳过的桶
func (r *RateMeter) advance(now time.Time) {
	if r.last.IsZero() {
		r.last = now
		return
	}
	elapsed := now.Sub(r.last)
	if elapsed < time.Second {
		return
	}
	seconds := int(elapsed / time.Second)
	if seconds >= rateBuckets {
		r.buckets = [rateBuckets]uint64{}
		r.lastIdx = 0
	} else {
		for i := 0; i < seconds; i++ {
			r.lastIdx = (r.lastIdx + 1) % rateBuckets
			r.buckets[r.lastIdx] = 0
		}
	}
	r.last = r.last.Add(time.Duration(seconds) * time.Second)
}

// Rate 返回 now 时刻最近 60 秒的平均速率（字节/秒）
func (r *RateMeter) Rate(now time.Time) float64 {
	r.advance(now)
	var sum uint64
	for _, v := range r.buckets {
		sum += v
	}
	return float64(sum) / rateBuckets
}

// Total 返回累计字节数
func (r *RateMeter) Total() uint64 {
	return r.total
}
