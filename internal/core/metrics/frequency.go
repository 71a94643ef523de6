package metrics

import "time"

// DefaultFrequencyWindow 默认频率计算窗口
const DefaultFrequencyWindow = time.Second

// ============================================================================
// FrequencyCalculator - 频率计算器
// ============================================================================

// FrequencyCalculator 频率计算器（基于时间窗口）
//
// 每当窗口内累计的时间达到 window，用 ticks/elapsed 更新一次频率估计，
// 然后从当前时刻重新开始计数。不保留历史。
type FrequencyCalculator struct {
	window      time.Duration
	windowStart time.Time
	lastTick    time.Time
	ticks       int64
	freq        float64
	started     bool
}

// NewFrequencyCalculator 创建频率计算器
func NewFrequencyCalculator(window time.Duration) *FrequencyCalculator {
	if window <= 0 {
		window = DefaultFrequencyWindow
	}
	return &FrequencyCalculator{window: window}
}

// AddTick 记录一次事件
func (f *FrequencyCalculator) AddTick(now time.Time) {
	if !f.started {
		f.started = true
		f.windowStart = now
		f.lastTick = now
		return
	}

	f.ticks++
	f.lastTick = now

	elapsed := now.Sub(f.windowStart)
	if elapsed >= f.window {
		f.freq = float64(f.ticks) / elapsed.Seconds()
		f.windowStart = now
		f.ticks = 0
	}
}

// Frequency 返回最近一次计算的频率（Hz）
func (f *FrequencyCalculator) Frequency() float64 {
	return f.freq
}

// LastTick 返回最后一次事件时间
func (f *FrequencyCalculator) LastTick() (time.Time, bool) {
	return f.lastTick, f.started
}

// Reset 清空状态
func (f *FrequencyCalculator) Reset() {
	*f = FrequencyCalculator{window: f.window}
}

// ============================================================================
// ResettableFrequencyCalculator - 可自动归零的频率计算器
// ============================================================================

// ResettableFrequencyCalculator 在数据流沉默后自动归零的频率计算器
//
// 若两次 Frequency 调用之间没有新的事件，则以当前时刻为起点，
// 按最后已知频率计算预期的下一个事件截止时间（resetFactor 倍间隔）。
// 超过截止时间后归零并丢弃历史，而不是永远报告过期的高频率。
type ResettableFrequencyCalculator struct {
	calc        *FrequencyCalculator
	resetFactor float64

	tickSinceCall bool
	armed         bool
	deadline      time.Time
}

// NewResettableFrequencyCalculator 创建可归零的频率计算器
func NewResettableFrequencyCalculator(window time.Duration, resetFactor float64) *ResettableFrequencyCalculator {
	if resetFactor <= 0 {
		resetFactor = 1
	}
	return &ResettableFrequencyCalculator{
		calc:        NewFrequencyCalculator(window),
		resetFactor: resetFactor,
	}
}

// AddTick 记录一次事件
func (r *ResettableFrequencyCalculator) AddTick(now time.Time) {
	r.calc.AddTick(now)
	r.tickSinceCall = true
	r.armed = false
}

// Frequency 返回当前频率（Hz），沉默超时后返回 0
func (r *ResettableFrequencyCalculator) Frequency(now time.Time) float64 {
	if r.tickSinceCall {
		r.tickSinceCall = false
		return r.calc.Frequency()
	}

	f := r.calc.Frequency()
	if f <= 0 {
		return 0
	}

	if !r.armed {
		interval := time.Duration(float64(time.Second) / f)
		r.deadline = now.Add(time.Duration(r.resetFactor * float64(interval)))
		r.armed = true
		return f
	}

	if now.After(r.deadline) {
		r.calc.Reset()
		r.armed = false
		return 0
	}
	return f
}
