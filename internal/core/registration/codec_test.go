package registration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-p2pbus/pkg/types"
)

func fullRecord() *types.Registration {
	return &types.Registration{
		Cmd: types.CmdRegPublisher,
		Identifier: types.TopicID{
			TopicName: "camera/front",
			EntityID:  1234567890123,
			ProcessID: 4242,
			HostName:  "robot-1",
		},
		Topic: types.TopicRecord{
			Name:     "camera/front",
			DataType: types.DataTypeInfo{Name: "Image", Encoding: "proto", Descriptor: []byte{1, 2, 3}},
			Layers:   types.NewActiveLayers(types.LayerSHM, types.LayerTCP),
			Params: types.LayerParameters{
				SHM: types.SHMParameters{Domain: "robot-1", MemoryFiles: []string{"p2pbus_a", "p2pbus_b"}},
				TCP: types.TCPParameters{Host: "10.0.0.5", Port: 4711},
			},
			DataClock:           99,
			DataFrequency:       30000,
			ConnectionsLocal:    2,
			ConnectionsExternal: 1,
			MessageDrops:        7,
			LatencyUs:           12.5,
		},
		Process: types.ProcessRecord{UnitName: "cam", ProcessName: "camd"},
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	in := fullRecord()
	out, err := Unmarshal(Marshal(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCodec_NegativeValues(t *testing.T) {
	in := &types.Registration{
		Cmd:        types.CmdRegSubscriber,
		Identifier: types.TopicID{TopicName: "t", EntityID: 1, ProcessID: -1},
		Topic:      types.TopicRecord{Name: "t", DataFrequency: -5},
	}
	out, err := Unmarshal(Marshal(in))
	require.NoError(t, err)
	assert.EqualValues(t, -1, out.Identifier.ProcessID)
	assert.EqualValues(t, -5, out.Topic.DataFrequency)
}

func TestCodec_SkipsUnknownFields(t *testing.T) {
	b := Marshal(fullRecord())
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 100, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 7)

	out, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, "camera/front", out.TopicName())
}

func TestCodec_Malformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"truncated": Marshal(fullRecord())[:10],
		"bad tag":   {0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		"bad cmd":   protowire.AppendVarint(protowire.AppendTag(nil, fieldCmd, protowire.VarintType), 200),
		"wire type": protowire.AppendString(protowire.AppendTag(nil, fieldCmd, protowire.BytesType), "x"),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal(b)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
