package conn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpdillingham/soulseek-go/internal/conn/event"
)

func listen(t *testing.T) (net.Listener, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, l.Addr().String()
}

func TestConnect_Succeeds(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	l, addr := listen(t)
	go func() {
		c, err := l.Accept()
		if err == nil {
			defer c.Close()
		}
	}()

	c, err := New(addr)
	require.NoError(err)

	var connected bool
	c.AddConnectedListener(event.ConnectedListenerFunc(func(event.Connected) { connected = true }))

	require.NoError(c.Connect(context.Background()))
	assert.Equal(StateConnected, c.State())
	assert.True(connected)
}

func TestConnect_TimesOutAgainstUnroutableAddress(t *testing.T) {
	require := require.New(t)

	c, err := New("10.255.255.1:65000", ConnectTimeout(50*time.Millisecond))
	require.NoError(err)

	err = c.Connect(context.Background())
	require.Error(err)
}

func TestRead_ExactNBytes(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	l, addr := listen(t)
	go func() {
		sc, err := l.Accept()
		if err != nil {
			return
		}
		defer sc.Close()
		_, _ = sc.Write([]byte("hello world"))
	}()

	c, err := New(addr)
	require.NoError(err)
	require.NoError(c.Connect(context.Background()))

	b, err := c.Read(context.Background(), 5, nil)
	require.NoError(err)
	assert.Equal("hello", string(b))
}

func TestRead_ZeroBytesSucceedsImmediately(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	l, addr := listen(t)
	go func() {
		sc, err := l.Accept()
		if err == nil {
			defer sc.Close()
		}
	}()

	c, err := New(addr)
	require.NoError(err)
	require.NoError(c.Connect(context.Background()))

	b, err := c.Read(context.Background(), 0, nil)
	require.NoError(err)
	assert.Empty(b)
}

func TestRead_InactivityTimeoutDisconnects(t *testing.T) {
	require := require.New(t)

	l, addr := listen(t)
	go func() {
		sc, err := l.Accept()
		if err != nil {
			return
		}
		defer sc.Close()
		_, _ = sc.Write([]byte("ab"))
		time.Sleep(500 * time.Millisecond)
	}()

	c, err := New(addr, ReadTimeout(50*time.Millisecond))
	require.NoError(err)
	require.NoError(c.Connect(context.Background()))

	_, err = c.Read(context.Background(), 4, nil)
	require.ErrorIs(err, ErrReadTimeout)
	require.Equal(StateDisconnected, c.State())
}

func TestDisconnect_Idempotent(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	l, addr := listen(t)
	go func() {
		sc, err := l.Accept()
		if err == nil {
			defer sc.Close()
		}
	}()

	c, err := New(addr)
	require.NoError(err)
	require.NoError(c.Connect(context.Background()))

	var count int
	c.AddDisconnectedListener(event.DisconnectedListenerFunc(func(event.Disconnected) { count++ }))

	require.NoError(c.Disconnect("done"))
	require.NoError(c.Disconnect("done again"))
	assert.Equal(1, count)
}

func TestHandOff_DetachesConnection(t *testing.T) {
	require := require.New(t)

	l, addr := listen(t)
	go func() {
		sc, err := l.Accept()
		if err == nil {
			defer sc.Close()
		}
	}()

	c, err := New(addr)
	require.NoError(err)
	require.NoError(c.Connect(context.Background()))

	nc, err := c.HandOff()
	require.NoError(err)
	require.NotNil(nc)
	defer nc.Close()

	_, err = c.Read(context.Background(), 1, nil)
	require.ErrorIs(err, ErrDetached)
}
