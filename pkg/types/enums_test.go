package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ============================================================================
//                              ActiveLayers 测试
// ============================================================================

func TestActiveLayers_Intersect(t *testing.T) {
	pub := NewActiveLayers(LayerUDP)
	sub := NewActiveLayers(LayerSHM, LayerTCP)

	assert.True(t, pub.Intersect(sub).IsEmpty())
	assert.Equal(t, "udp", pub.String())
	assert.Equal(t, "shm|tcp", sub.String())

	both := NewActiveLayers(LayerUDP, LayerTCP).Intersect(sub)
	assert.Equal(t, []LayerType{LayerTCP}, both.Layers())
}

func TestActiveLayers_WithWithout(t *testing.T) {
	var a ActiveLayers
	assert.True(t, a.IsEmpty())
	assert.False(t, a.Has(LayerNone))

	a = a.With(LayerSHM)
	assert.True(t, a.Has(LayerSHM))
	assert.False(t, a.Has(LayerUDP))

	a = a.Without(LayerSHM)
	assert.True(t, a.IsEmpty())
	assert.Equal(t, "none", a.String())
}

func TestParseLayerType(t *testing.T) {
	l, ok := ParseLayerType(" SHM ")
	assert.True(t, ok)
	assert.Equal(t, LayerSHM, l)

	_, ok = ParseLayerType("quic")
	assert.False(t, ok)
}

// ============================================================================
//                              CmdType 测试
// ============================================================================

func TestCmdType_IsRegister(t *testing.T) {
	assert.True(t, CmdRegPublisher.IsRegister())
	assert.False(t, CmdUnregPublisher.IsRegister())
	assert.True(t, CmdRegClient.IsRegister())
	assert.False(t, CmdUnregClient.IsRegister())
	assert.False(t, CmdNone.IsRegister())
	assert.False(t, CmdType(200).IsValid())
}

func TestPairState_String(t *testing.T) {
	assert.Equal(t, "PENDING", StatePending.String())
	assert.Equal(t, "DISCONNECTED", StateDisconnected.String())
}
