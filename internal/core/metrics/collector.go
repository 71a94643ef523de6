package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace 默认指标命名空间
const DefaultNamespace = "p2pbus"

// ============================================================================
// Collector - Prometheus 指标
// ============================================================================

// Collector 订阅数据路径的 Prometheus 指标
//
// 所有方法允许 nil 接收者，未启用指标时组件无需判空。
type Collector struct {
	samples        *prometheus.CounterVec
	duplicates     *prometheus.CounterVec
	reordered      *prometheus.CounterVec
	drops          *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
	connections    *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
}

// NewCollector 创建并注册指标
//
// reg 为 nil 时使用新的私有 Registry。重复注册时复用已存在的指标。
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "samples_total",
			Help:      "Accepted samples delivered to subscribers.",
		}, []string{"topic", "layer"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "duplicates_total",
			Help:      "Samples discarded as definite duplicates.",
		}, []string{"topic"}),
		reordered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "reordered_total",
			Help:      "Samples delivered out of publisher order.",
		}, []string{"topic"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "drops_total",
			Help:      "Messages detected as lost.",
		}, []string{"topic"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "decode_failures_total",
			Help:      "Buffers dropped because they failed to decode.",
		}, []string{"source"}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "publishers",
			Help:      "Publishers currently connected per topic.",
		}, []string{"topic"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "subscriber",
			Name:      "latency_seconds",
			Help:      "Receive time minus embedded send time.",
			Buckets:   prometheus.ExponentialBuckets(10e-6, 4, 10),
		}, []string{"topic"}),
	}

	var err error
	if c.samples, err = register(reg, c.samples); err != nil {
		return nil, err
	}
	if c.duplicates, err = register(reg, c.duplicates); err != nil {
		return nil, err
	}
	if c.reordered, err = register(reg, c.reordered); err != nil {
		return nil, err
	}
	if c.drops, err = register(reg, c.drops); err != nil {
		return nil, err
	}
	if c.decodeFailures, err = register(reg, c.decodeFailures); err != nil {
		return nil, err
	}
	if c.connections, err = register(reg, c.connections); err != nil {
		return nil, err
	}
	if c.latency, err = register(reg, c.latency); err != nil {
		return nil, err
	}
	return c, nil
}

// register 注册指标，已注册时返回已存在的实例
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveSample 记录一个已投递样本
func (c *Collector) ObserveSample(topic, layer string, latency time.Duration) {
	if c == nil {
		return
	}
	c.samples.WithLabelValues(topic, layer).Inc()
	if latency >= 0 {
		c.latency.WithLabelValues(topic).Observe(latency.Seconds())
	}
}

// ObserveDuplicate 记录一个重复样本
func (c *Collector) ObserveDuplicate(topic string) {
	if c == nil {
		return
	}
	c.duplicates.WithLabelValues(topic).Inc()
}

// ObserveReordered 记录一个乱序样本
func (c *Collector) ObserveReordered(topic string) {
	if c == nil {
		return
	}
	c.reordered.WithLabelValues(topic).Inc()
}

// AddDrops 累加丢包数
func (c *Collector) AddDrops(topic string, n uint64) {
	if c == nil || n == 0 {
		return
	}
	c.drops.WithLabelValues(topic).Add(float64(n))
}

// ObserveDecodeFailure 记录一次解码失败
func (c *Collector) ObserveDecodeFailure(source string) {
	if c == nil {
		return
	}
	c.decodeFailures.WithLabelValues(source).Inc()
}

// SetPublishers 设置主题当前连接的发布者数
func (c *Collector) SetPublishers(topic string, n int) {
	if c == nil {
		return
	}
	c.connections.WithLabelValues(topic).Set(float64(n))
}
