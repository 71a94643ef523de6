package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-p2pbus/pkg/types"
)

func testFrame() *Frame {
	return &Frame{
		Publisher: 42,
		Topic:     "sensors/imu",
		Counter:   7,
		SendTime:  time.Unix(1700000000, 123),
		Payload:   []byte("hello"),
	}
}

func TestEncodeDecode(t *testing.T) {
	f := testFrame()
	b, err := Encode(f)
	require.NoError(t, err)
	require.Len(t, b, f.Len())

	got, n, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.Equal(t, f.Publisher, got.Publisher)
	assert.Equal(t, f.Topic, got.Topic)
	assert.Equal(t, f.Counter, got.Counter)
	assert.True(t, f.SendTime.Equal(got.SendTime))
	assert.Equal(t, f.Payload, got.Payload)

	// 载荷不与输入缓冲区共享
	b[HeaderSize+len(f.Topic)] = 'j'
	assert.Equal(t, []byte("hello"), got.Payload)

	s := got.Sample(types.LayerUDP)
	assert.Equal(t, types.LayerUDP, s.Layer)
	assert.Equal(t, uint64(7), s.Counter)
}

func TestDecode_Errors(t *testing.T) {
	b, err := Encode(testFrame())
	require.NoError(t, err)

	_, _, err = Decode(b[:10])
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, _, err = Decode(b[:len(b)-1])
	assert.ErrorIs(t, err, ErrShortBuffer)

	bad := append([]byte(nil), b...)
	bad[0] ^= 0xff
	_, _, err = Decode(bad)
	assert.ErrorIs(t, err, ErrBadMagic)

	bad = append([]byte(nil), b...)
	bad[4] = 9
	_, _, err = Decode(bad)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	bad = append([]byte(nil), b...)
	bad[len(bad)-TrailerSize-1] ^= 0x01
	_, _, err = Decode(bad)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestStream(t *testing.T) {
	var buf bytes.Buffer
	for i := uint64(1); i <= 3; i++ {
		f := testFrame()
		f.Counter = i
		require.NoError(t, WriteTo(&buf, f))
	}

	for i := uint64(1); i <= 3; i++ {
		f, err := ReadFrom(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, i, f.Counter)
	}
	_, err := ReadFrom(&buf, 0)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReadFrom_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTo(&buf, testFrame()))
	_, err := ReadFrom(&buf, HeaderSize)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestAppend_TopicTooLong(t *testing.T) {
	f := testFrame()
	f.Topic = string(make([]byte, MaxTopicLen+1))
	_, err := Encode(f)
	assert.ErrorIs(t, err, ErrTopicTooLong)
}

func TestZeroSendTime(t *testing.T) {
	f := testFrame()
	f.SendTime = time.Time{}
	b, err := Encode(f)
	require.NoError(t, err)
	got, _, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.SendTime.UnixNano())
}
