package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherConnectionParameters_Immutable(t *testing.T) {
	files := []string{"seg-a"}
	params := LayerParameters{SHM: SHMParameters{Domain: "host", MemoryFiles: files}}
	pub := NewPublisherConnectionParameters(TopicID{TopicName: "T", EntityID: 7}, DataTypeInfo{Name: "x"}, NewActiveLayers(LayerSHM), params, 3)

	files[0] = "mutated"
	got := pub.LayerParameters()
	assert.Equal(t, []string{"seg-a"}, got.SHM.MemoryFiles)

	got.SHM.MemoryFiles[0] = "mutated-again"
	assert.Equal(t, []string{"seg-a"}, pub.LayerParameters().SHM.MemoryFiles)
}

func TestPublisherConnectionParameters_SameLayerParameters(t *testing.T) {
	id := TopicID{TopicName: "T", EntityID: 7}
	a := NewPublisherConnectionParameters(id, DataTypeInfo{}, NewActiveLayers(LayerSHM), LayerParameters{SHM: SHMParameters{Domain: "d1"}}, 0)
	b := NewPublisherConnectionParameters(id, DataTypeInfo{}, NewActiveLayers(LayerSHM), LayerParameters{SHM: SHMParameters{Domain: "d1"}}, 99)
	c := NewPublisherConnectionParameters(id, DataTypeInfo{}, NewActiveLayers(LayerSHM), LayerParameters{SHM: SHMParameters{Domain: "d2"}}, 0)

	assert.True(t, a.SameLayerParameters(b))
	assert.False(t, a.SameLayerParameters(c))
}

func TestRegistration_PublisherParameters(t *testing.T) {
	reg := &Registration{
		Cmd:        CmdRegPublisher,
		Identifier: TopicID{TopicName: "T", EntityID: 5, HostName: "h"},
		Topic:      TopicRecord{Name: "T", Layers: NewActiveLayers(LayerUDP), DataClock: 42},
	}
	pub, err := reg.PublisherParameters()
	require.NoError(t, err)
	assert.Equal(t, EntityID(5), pub.EntityID())
	assert.Equal(t, uint64(42), pub.DataClock())

	reg.Cmd = CmdRegSubscriber
	_, err = reg.PublisherParameters()
	assert.ErrorIs(t, err, ErrNotPublisherRecord)
}

func TestSubscriberConnectionParameters_Validate(t *testing.T) {
	assert.ErrorIs(t, SubscriberConnectionParameters{}.Validate(), ErrEmptyTopicName)
	sub := NewSubscriberConnectionParameters(TopicID{TopicName: "T"}, DataTypeInfo{}, 0, "")
	assert.ErrorIs(t, sub.Validate(), ErrZeroEntityID)
}
