package mcast

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMulticast(t *testing.T) {
	assert.True(t, IsMulticast(net.ParseIP("239.0.0.1")))
	assert.False(t, IsMulticast(net.ParseIP("10.0.0.1")))
	assert.False(t, IsMulticast(net.ParseIP("ff02::1")))
	assert.False(t, IsMulticast(nil))
}

func TestListen_PortReuse(t *testing.T) {
	a, err := Listen(context.Background(), Options{Port: 0, Loopback: true})
	require.NoError(t, err)
	defer a.Close()

	port := a.LocalAddr().(*net.UDPAddr).Port
	b, err := Listen(context.Background(), Options{Port: port, Loopback: true})
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, port, b.LocalAddr().(*net.UDPAddr).Port)
	assert.ErrorIs(t, a.Join(net.ParseIP("10.1.1.1")), ErrNotMulticast)
	assert.ErrorIs(t, a.Leave(net.ParseIP("10.1.1.1")), ErrNotMulticast)
}

func TestListen_UnknownInterface(t *testing.T) {
	_, err := Listen(context.Background(), Options{Interface: "no-such-if0"})
	assert.Error(t, err)
}
