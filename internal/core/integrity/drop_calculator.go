package integrity

// backwardThreshold 前向距离超过该值视为回退（回绕安全比较）
const backwardThreshold = 1 << 63

// DropSummary 丢包摘要
type DropSummary struct {
	// NewDrops 自上次 GetSummary 以来是否出现新的丢包
	NewDrops bool

	// TotalDrops 累计丢包数（已确认 + 推测）
	TotalDrops uint64
}

// MessageDropCalculator 基于单调递增序号的丢包估算器
//
// 结合两路信号：
//   - 实际收到的消息序号：相邻两条消息之间的空洞计入 verifiedDrops
//   - 发布者注册记录中携带的心跳序号：两次心跳之间没有任何实际消息时，
//     从最后一条实际消息到心跳序号的距离计为 potentialDrops
//
// 实际消息恢复后 potentialDrops 清零，由 verifiedDrops 接管，避免重复计数。
type MessageDropCalculator struct {
	lastReceived  uint64
	haveReceived  bool
	verifiedDrops uint64

	updatesSeen        int
	lastUpdate         uint64
	receivedSinceTick  bool
	potentialDrops     uint64
	settledPotential   uint64
	reportedTotalDrops uint64
	newDrops           bool
}

// NewMessageDropCalculator 创建丢包估算器
func NewMessageDropCalculator() *MessageDropCalculator {
	return &MessageDropCalculator{}
}

// RegisterReceivedMessage 登记一条实际收到的消息
func (m *MessageDropCalculator) RegisterReceivedMessage(seq uint64) {
	m.receivedSinceTick = true

	if !m.haveReceived {
		// 首条消息之前无法确认空洞，保留心跳推测值
		m.haveReceived = true
		m.lastReceived = seq
		m.settledPotential += m.potentialDrops
		m.potentialDrops = 0
		m.refreshNewDrops()
		return
	}

	if d := forwardDistance(m.lastReceived, seq); d > 1 && d < backwardThreshold {
		m.verifiedDrops += d - 1
	}
	m.lastReceived = seq
	m.potentialDrops = 0
	m.refreshNewDrops()
}

// MarkReceived 记录两次心跳之间收到过消息，不参与空洞计算
//
// 用于乱序到达的旧消息：它说明发布者仍在发送，但序号不能推进 lastReceived。
func (m *MessageDropCalculator) MarkReceived() {
	m.receivedSinceTick = true
}

// ApplyReceivedPublisherUpdate 应用发布者心跳携带的序号
//
// 前两次心跳只用于建立基线与节奏。
func (m *MessageDropCalculator) ApplyReceivedPublisherUpdate(seq uint64) {
	m.updatesSeen++
	silent := !m.receivedSinceTick
	m.receivedSinceTick = false

	if m.updatesSeen <= 2 {
		m.lastUpdate = seq
		return
	}

	if silent {
		ref := m.lastUpdate
		if m.haveReceived {
			ref = m.lastReceived
		}
		if d := forwardDistance(ref, seq); d < backwardThreshold {
			if !m.haveReceived {
				// 从未收到实际消息：从上次心跳开始累积
				m.potentialDrops += d
			} else {
				m.potentialDrops = d
			}
		}
	}
	m.lastUpdate = seq
	m.refreshNewDrops()
}

// GetSummary 返回丢包摘要，只复位 NewDrops 标志
func (m *MessageDropCalculator) GetSummary() DropSummary {
	m.refreshNewDrops()
	s := DropSummary{NewDrops: m.newDrops, TotalDrops: m.reportedTotalDrops}
	m.newDrops = false
	return s
}

// VerifiedDrops 已确认丢包数
func (m *MessageDropCalculator) VerifiedDrops() uint64 {
	return m.verifiedDrops
}

// PotentialDrops 推测丢包数
func (m *MessageDropCalculator) PotentialDrops() uint64 {
	return m.settledPotential + m.potentialDrops
}

// refreshNewDrops 累计值只增不减
func (m *MessageDropCalculator) refreshNewDrops() {
	total := m.verifiedDrops + m.settledPotential + m.potentialDrops
	if total > m.reportedTotalDrops {
		m.reportedTotalDrops = total
		m.newDrops = true
	}
}

// forwardDistance 回绕安全的前向距离
func forwardDistance(from, to uint64) uint64 {
	return to - from
}
