package datachannel

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"framedftp/ftperr"
)

// controlPair returns the server side of a loopback control connection.
func controlPair(t *testing.T) net.Conn {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server, err := ln.Accept()
	require.NoError(t, err)
	t.Cleanup(func() { server.Close() })
	return server
}

func quietLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestPassiveAcceptAndTransfer(t *testing.T) {
	n := NewNegotiator(Config{AcceptTimeout: 2 * time.Second}, controlPair(t), quietLog())

	ch, err := n.Begin()
	require.NoError(t, err)
	defer ch.Close()

	addr, err := ch.Listen()
	require.NoError(t, err)
	assert.NotZero(t, addr.Port)

	go func() {
		conn, err := net.Dial("tcp", addr.String())
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("hello"))
	}()

	conn, err := ch.Accept(context.Background())
	require.NoError(t, err)

	buf, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestPassiveAcceptTimeout(t *testing.T) {
	n := NewNegotiator(Config{AcceptTimeout: 100 * time.Millisecond}, controlPair(t), quietLog())

	ch, err := n.Begin()
	require.NoError(t, err)
	_, err = ch.Listen()
	require.NoError(t, err)

	start := time.Now()
	_, err = ch.Accept(context.Background())
	assert.True(t, ftperr.Is(err, ftperr.KindNegotiation), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.NoError(t, ch.Close())
	assert.False(t, n.Busy(), "closing the channel frees the slot")
}

func TestPassiveAcceptCancelled(t *testing.T) {
	n := NewNegotiator(Config{AcceptTimeout: 10 * time.Second}, controlPair(t), quietLog())

	ch, err := n.Begin()
	require.NoError(t, err)
	defer ch.Close()
	_, err = ch.Listen()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ch.Accept(ctx)
	assert.True(t, ftperr.Is(err, ftperr.KindNegotiation))
}

func TestActiveConnectRefused(t *testing.T) {
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	endpoint := ln.Addr().String()
	ln.Close()

	n := NewNegotiator(Config{ConnectTimeout: time.Second}, controlPair(t), quietLog())
	ch, err := n.Begin()
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Dial(context.Background(), endpoint)
	assert.True(t, ftperr.Is(err, ftperr.KindNegotiation), "got %v", err)
}

func TestActiveConnect(t *testing.T) {
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		b, _ := io.ReadAll(conn)
		accepted <- string(b)
	}()

	n := NewNegotiator(Config{IOTimeout: time.Second}, controlPair(t), quietLog())
	ch, err := n.Begin()
	require.NoError(t, err)

	conn, err := ch.Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte("frame bytes"))
	require.NoError(t, err)
	require.NoError(t, CloseWrite(conn))

	assert.Equal(t, "frame bytes", <-accepted)
	require.NoError(t, ch.Close())
}

func TestSecondBeginRefusedWhileBusy(t *testing.T) {
	n := NewNegotiator(Config{}, controlPair(t), quietLog())

	first, err := n.Begin()
	require.NoError(t, err)
	assert.True(t, n.Busy())

	_, err = n.Begin()
	assert.True(t, ftperr.Is(err, ftperr.KindNegotiation))

	require.NoError(t, first.Close())
	require.NoError(t, first.Close(), "close is idempotent")

	second, err := n.Begin()
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestNegotiatorCloseTearsDownChannel(t *testing.T) {
	n := NewNegotiator(Config{AcceptTimeout: 5 * time.Second}, controlPair(t), quietLog())

	ch, err := n.Begin()
	require.NoError(t, err)
	_, err = ch.Listen()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := ch.Accept(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, n.Close())

	select {
	case err := <-done:
		assert.True(t, ftperr.Is(err, ftperr.KindNegotiation))
	case <-time.After(2 * time.Second):
		t.Fatal("accept did not return after negotiator close")
	}

	_, err = n.Begin()
	assert.Error(t, err, "no negotiation after close")
}

func TestStrictPeerEndpoint(t *testing.T) {
	n := NewNegotiator(Config{StrictPeer: true}, controlPair(t), quietLog())

	assert.NoError(t, n.CheckEndpoint(net.JoinHostPort(n.peer.String(), "40000")))
	assert.True(t, ftperr.Is(n.CheckEndpoint("192.0.2.10:40000"), ftperr.KindNegotiation))
	assert.True(t, ftperr.Is(n.CheckEndpoint("not-an-endpoint"), ftperr.KindNegotiation))
	assert.True(t, ftperr.Is(n.CheckEndpoint("127.0.0.1:0"), ftperr.KindNegotiation))
}

func TestPortRange(t *testing.T) {
	_, err := NewPortRange(50000, 49999)
	assert.Error(t, err)
	_, err = NewPortRange(80, 90)
	assert.Error(t, err)

	pr, err := NewPortRange(50000, 50002)
	require.NoError(t, err)
	assert.Equal(t, 3, pr.Size())

	var got []int
	for i := 0; i < 4; i++ {
		got = append(got, pr.Next())
	}
	assert.Equal(t, []int{50000, 50001, 50002, 50000}, got)
}

func TestPassiveUsesPortRange(t *testing.T) {
	probe, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()
	if port < 1024 || port > 65534 {
		t.Skip("ephemeral port outside usable range")
	}

	pr, err := NewPortRange(port, port)
	require.NoError(t, err)

	n := NewNegotiator(Config{Ports: pr}, controlPair(t), quietLog())
	ch, err := n.Begin()
	require.NoError(t, err)
	defer ch.Close()

	addr, err := ch.Listen()
	require.NoError(t, err)
	assert.Equal(t, port, addr.Port)
}
