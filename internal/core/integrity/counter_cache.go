package integrity

import "math/bits"

// DefaultWindowSize 默认窗口大小（序号个数）
const DefaultWindowSize = 1024

// ============================================================================
//                              Presence - 查询结果
// ============================================================================

// Presence HasCounter 的三值结果
type Presence uint8

const (
	// PresenceFalse 确定未见过
	PresenceFalse Presence = iota
	// PresenceTrue 确定已见过
	PresenceTrue
	// PresenceUnsure 已超出跟踪范围，无法判断
	PresenceUnsure
)

// String 返回结果名称
func (p Presence) String() string {
	switch p {
	case PresenceTrue:
		return "true"
	case PresenceUnsure:
		return "unsure"
	default:
		return "false"
	}
}

// ============================================================================
//                              CounterCache - 三窗口位图
// ============================================================================

// CounterCache 基于三个连续位窗口的序号缓存
//
// 窗口布局（W = windowSize）：
//
//	previous: [base-W, base)
//	current:  [base,   base+W)
//	next:     [base+W, base+2W)
//
// 三个窗口始终连续且不重叠。
type CounterCache struct {
	windowSize uint64
	words      int

	previous []uint64
	current  []uint64
	next     []uint64

	base    uint64
	maxSeen uint64
	started bool
}

// NewCounterCache 创建序号缓存
//
// windowSize 向上取整为 64 的倍数；<= 0 时使用 DefaultWindowSize。
func NewCounterCache(windowSize int) *CounterCache {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	words := (windowSize + 63) / 64
	return &CounterCache{
		windowSize: uint64(words * 64),
		words:      words,
		previous:   make([]uint64, words),
		current:    make([]uint64, words),
		next:       make([]uint64, words),
	}
}

// WindowSize 返回实际窗口大小
func (c *CounterCache) WindowSize() int {
	return int(c.windowSize)
}

// MaxSeen 返回见过的最大序号
func (c *CounterCache) MaxSeen() (uint64, bool) {
	return c.maxSeen, c.started
}

// SetCounter 登记序号
func (c *CounterCache) SetCounter(v uint64) {
	if !c.started {
		c.reset(v)
		c.started = true
		c.maxSeen = v
		return
	}

	switch {
	case c.inCurrent(v):
		setBit(c.current, v-c.base)
	case c.inPrevious(v):
		setBit(c.previous, v-(c.base-c.windowSize))
	case c.inNext(v):
		c.slide()
		setBit(c.current, v-c.base)
	default:
		c.reset(v)
	}

	if v > c.maxSeen {
		c.maxSeen = v
	}
}

// HasCounter 查询序号是否已登记
func (c *CounterCache) HasCounter(v uint64) Presence {
	if !c.started || v > c.maxSeen {
		return PresenceFalse
	}
	switch {
	case c.inCurrent(v):
		return presence(testBit(c.current, v-c.base))
	case c.inPrevious(v):
		return presence(testBit(c.previous, v-(c.base-c.windowSize)))
	default:
		return PresenceUnsure
	}
}

// IsMonotonic 检查序号是否大于所有已登记序号
func (c *CounterCache) IsMonotonic(v uint64) bool {
	return !c.started || v > c.maxSeen
}

// Len 返回当前跟踪窗口内已登记的序号个数
func (c *CounterCache) Len() int {
	n := 0
	for i := 0; i < c.words; i++ {
		n += bits.OnesCount64(c.previous[i]) + bits.OnesCount64(c.current[i]) + bits.OnesCount64(c.next[i])
	}
	return n
}

// ============================================================================
//                              内部方法
// ============================================================================

func (c *CounterCache) inCurrent(v uint64) bool {
	return v >= c.base && v-c.base < c.windowSize
}

func (c *CounterCache) inPrevious(v uint64) bool {
	return c.base >= c.windowSize && v < c.base && v >= c.base-c.windowSize
}

func (c *CounterCache) inNext(v uint64) bool {
	if v < c.base {
		return false
	}
	d := v - c.base
	return d >= c.windowSize && d-c.windowSize < c.windowSize
}

// slide 整体前移一个窗口，复用最旧的位图作为新的 next
func (c *CounterCache) slide() {
	recycled := c.previous
	c.previous = c.current
	c.current = c.next
	clear(recycled)
	c.next = recycled
	c.base += c.windowSize
}

// reset 以 v 所在窗口为 current 重建三个窗口，仅标记 v
func (c *CounterCache) reset(v uint64) {
	clear(c.previous)
	clear(c.current)
	clear(c.next)
	c.base = v / c.windowSize * c.windowSize
	setBit(c.current, v-c.base)
}

func presence(set bool) Presence {
	if set {
		return PresenceTrue
	}
	return PresenceFalse
}

func setBit(words []uint64, off uint64) {
	words[off/64] |= 1 << (off % 64)
}

func testBit(words []uint64, off uint64) bool {
	return words[off/64]&(1<<(off%64)) != 0
}
