package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-p2pbus/config"
	transportif "github.com/dep2p/go-p2pbus/pkg/interfaces/transport"
	"github.com/dep2p/go-p2pbus/pkg/types"
)

type stubLayer struct {
	typ     types.LayerType
	usable  bool
	started bool
	closed  int
}

func (s *stubLayer) Type() types.LayerType { return s.typ }
func (s *stubLayer) Usable() bool          { return s.usable }
func (s *stubLayer) Err() error            { return nil }
func (s *stubLayer) AcceptsConnection(types.PublisherConnectionParameters, types.SubscriberConnectionParameters) bool {
	return false
}
func (s *stubLayer) AddConnection(types.PublisherConnectionParameters, types.SubscriberConnectionParameters, transportif.Callbacks) (transportif.ConnectionToken, error) {
	return nil, transportif.ErrNotAccepted
}
func (s *stubLayer) Start(context.Context) error { s.started = true; return nil }
func (s *stubLayer) Close() error                { s.closed++; return nil }

func TestNewSet_OrderAndLookup(t *testing.T) {
	tcpL := &stubLayer{typ: types.LayerTCP, usable: true}
	udpL := &stubLayer{typ: types.LayerUDP, usable: false}
	s := NewSet(tcpL, nil, udpL)

	require.Len(t, s.All(), 2)
	assert.Equal(t, types.LayerUDP, s.All()[0].Type())
	assert.Equal(t, types.LayerTCP, s.All()[1].Type())
	assert.Equal(t, types.NewActiveLayers(types.LayerTCP), s.Usable())

	_, ok := s.Get(types.LayerSHM)
	assert.False(t, ok)
	l, ok := s.Get(types.LayerTCP)
	require.True(t, ok)
	assert.Same(t, tcpL, l)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, tcpL.started)
	assert.True(t, udpL.started)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, tcpL.closed)
}

func TestNewSetFromConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Transport.EnableUDP = false
	cfg.Transport.SHM.Directory = t.TempDir()

	s, err := NewSetFromConfig(cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Len(t, s.All(), 2)
	assert.True(t, s.Usable().Has(types.LayerTCP))
	_, ok := s.Get(types.LayerUDP)
	assert.False(t, ok)
}

func TestModule_Lifecycle(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Transport.EnableUDP = false
	cfg.Transport.EnableSHM = false

	var set *Set
	app := fxtest.New(t,
		fx.Supply(cfg),
		Module(),
		fx.Populate(&set),
	)
	app.RequireStart()
	require.NotNil(t, set)
	l, ok := set.Get(types.LayerTCP)
	require.True(t, ok)
	assert.True(t, l.Usable())
	app.RequireStop()
}
