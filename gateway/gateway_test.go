package gateway

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/vecu/config"
	"github.com/LoveWonYoung/vecu/ecu"
	"github.com/LoveWonYoung/vecu/metrics"
)

func startServer(t *testing.T, h Handler, opts ...Option) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(h, opts...).Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return ln.Addr().String()
}

type lineClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *lineClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &lineClient{conn: conn, r: bufio.NewReader(conn)}
}

func (c *lineClient) roundTrip(t *testing.T, line string) string {
	t.Helper()
	require.NoError(t, c.conn.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := fmt.Fprintln(c.conn, line)
	require.NoError(t, err)
	reply, err := c.r.ReadString('\n')
	require.NoError(t, err)
	return reply[:len(reply)-1]
}

func TestGateway_ECUSession(t *testing.T) {
	target := ecu.New("ECU_GW")
	target.SetDataIdentifier(0x0102, []byte{0x01, 0x02, 0x03})
	addr := startServer(t, target)
	c := dial(t, addr)

	assert.Equal(t, "01 7E", c.roundTrip(t, "01 3E"))
	assert.Equal(t, "02 50 03", c.roundTrip(t, "021003"))
	assert.Equal(t, "06 62 01 02 01 02 03", c.roundTrip(t, "0x03 0x22 0x01 0x02"))
	assert.Equal(t, "03 7F 00 12", c.roundTrip(t, "01 ff"))
	assert.Equal(t, "03 7F 00 31", c.roundTrip(t, "10 14 22 01 02 03 04 05"))
	assert.True(t, target.Snapshot().SessionActive)
}

func TestGateway_InvalidLine(t *testing.T) {
	rec := metrics.New()
	addr := startServer(t, ecu.New("ECU_GW"), WithMetrics(rec))
	c := dial(t, addr)

	reply := c.roundTrip(t, "zz")
	assert.Contains(t, reply, "ERR invalid hex frame")
	reply = c.roundTrip(t, "123")
	assert.Contains(t, reply, "ERR ")

	// 连接在错误后仍可用
	assert.Equal(t, "01 7E", c.roundTrip(t, "01 3E"))
}

func TestGateway_LineTooLong(t *testing.T) {
	addr := startServer(t, ecu.New("ECU_GW"))
	c := dial(t, addr)

	reply := c.roundTrip(t, strings.Repeat("00", MaxLineLength))
	assert.Equal(t, "ERR "+ErrLineTooLong.Error(), reply)

	// 超长行被整行丢弃，连接仍可用
	assert.Equal(t, "01 7E", c.roundTrip(t, "01 3E"))
}

func TestGateway_SharedStateAcrossConnections(t *testing.T) {
	target := ecu.New("ECU_GW")
	addr := startServer(t, target)

	first := dial(t, addr)
	second := dial(t, addr)

	assert.Equal(t, "02 50 01", first.roundTrip(t, "02 10 01"))
	target.AddFaultCode(0x123456)
	assert.Equal(t, "05 59 01 00 01 00", second.roundTrip(t, "02 19 01"))
	assert.True(t, target.Snapshot().SessionActive)
}

func TestGateway_RateLimit(t *testing.T) {
	addr := startServer(t, ecu.New("ECU_GW"), WithRateLimit(20, 1))
	c := dial(t, addr)

	start := time.Now()
	for range 3 {
		assert.Equal(t, "01 7E", c.roundTrip(t, "01 3E"))
	}
	// 首帧消耗突发令牌，之后每帧间隔 50ms
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestGateway_ServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(ecu.New("x"), WithLogger(zerolog.Nop())).Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	// 服务端已关闭连接
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = bufio.NewReader(conn).ReadString('\n')
	assert.Error(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.Gateway{Listen: "127.0.0.1:0", MetricsListen: "127.0.0.1:0", Burst: 1}

	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, ecu.New("x"), metrics.New(), zerolog.Nop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRun_ListenError(t *testing.T) {
	err := Run(context.Background(), config.Gateway{Listen: "256.0.0.1:1"}, ecu.New("x"), nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		line     string
		expected []byte
	}{
		{"01 3E", []byte{0x01, 0x3E}},
		{"013e", []byte{0x01, 0x3E}},
		{"0x02 0X10 0x03", []byte{0x02, 0x10, 0x03}},
		{"", []byte{}},
	}
	for _, tc := range tests {
		got, err := ParseFrame(tc.line)
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.expected, got, tc.line)
	}

	for _, bad := range []string{"0g", "abc", "01 3"} {
		_, err := ParseFrame(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatFrame(t *testing.T) {
	assert.Equal(t, "03 7F 00 12", FormatFrame([]byte{0x03, 0x7F, 0x00, 0x12}))
	assert.Equal(t, "", FormatFrame(nil))
}
