package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dep2p/go-p2pbus/pkg/types"
)

func TestBothActive(t *testing.T) {
	pubID := types.TopicID{TopicName: "T", EntityID: 1}
	subID := types.TopicID{TopicName: "T", EntityID: 2}

	pub := types.NewPublisherConnectionParameters(pubID, types.DataTypeInfo{}, types.NewActiveLayers(types.LayerUDP), types.LayerParameters{}, 0)
	sub := types.NewSubscriberConnectionParameters(subID, types.DataTypeInfo{}, types.NewActiveLayers(types.LayerSHM, types.LayerTCP), "host")

	for _, l := range types.AllLayers {
		assert.False(t, BothActive(l, pub, sub), l.String())
	}

	sub = types.NewSubscriberConnectionParameters(subID, types.DataTypeInfo{}, types.NewActiveLayers(types.LayerUDP, types.LayerTCP), "host")
	assert.True(t, BothActive(types.LayerUDP, pub, sub))
	assert.False(t, BothActive(types.LayerTCP, pub, sub))
}
