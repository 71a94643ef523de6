package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateMeter_Window(t *testing.T) {
	var r RateMeter
	start := time.Unix(1000, 0)

	for i := 0; i < 10; i++ {
		r.Add(600, start.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, uint64(6000), r.Total())
	assert.InDelta(t, 100.0, r.Rate(start.Add(9*time.Second)), 0.001)

	// 窗口滑过后旧数据不再计入速率，累计值保留
	assert.Zero(t, r.Rate(start.Add(2*time.Minute)))
	assert.Equal(t, uint64(6000), r.Total())
}

func TestRateMeter_PartialExpiry(t *testing.T) {
	var r RateMeter
	start := time.Unix(1000, 0)
	r.Add(60, start)
	r.Add(120, start.Add(30*time.Second))

	assert.InDelta(t, 3.0, r.Rate(start.Add(30*time.Second)), 0.001)
	// 第一个桶在 60 秒后被覆盖
	assert.InDelta(t, 2.0, r.Rate(start.Add(61*time.Second)), 0.001)
}

func TestRateMeter_ZeroValue(t *testing.T) {
	var r RateMeter
	assert.Zero(t, r.Rate(time.Now()))
	assert.Zero(t, r.Total())
}
