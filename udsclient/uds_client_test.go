package udsclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LoveWonYoung/vecu/driver"
	"github.com/LoveWonYoung/vecu/ecu"
	"github.com/LoveWonYoung/vecu/tp_layer"
	"github.com/LoveWonYoung/vecu/uds"
)

// ============================================================================
// Mock 实现
// ============================================================================

// MockCANDriver 是 CANDriver 接口的 Mock 实现，每次写入按顺序回放一条预设响应
type MockCANDriver struct {
	mu        sync.Mutex
	rxChan    chan driver.UnifiedCANMessage
	ctx       context.Context
	cancel    context.CancelFunc
	writeLog  [][]byte
	responses []MockResponse
	respIndex int
	initErr   error
}

// MockResponse 定义一个预设的响应；一次写入可触发多帧
type MockResponse struct {
	Delay  time.Duration
	ID     uint32 // 0 表示 0x7E8
	Frames [][]byte
}

func NewMockCANDriver() *MockCANDriver {
	ctx, cancel := context.WithCancel(context.Background())
	return &MockCANDriver{
		rxChan: make(chan driver.UnifiedCANMessage, 100),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (m *MockCANDriver) Init() error                             { return m.initErr }
func (m *MockCANDriver) Start()                                  {}
func (m *MockCANDriver) Stop()                                   { m.cancel() }
func (m *MockCANDriver) Context() context.Context                { return m.ctx }
func (m *MockCANDriver) RxChan() <-chan driver.UnifiedCANMessage { return m.rxChan }

func (m *MockCANDriver) Write(id int32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeLog = append(m.writeLog, append([]byte{}, data...))

	if m.respIndex < len(m.responses) {
		resp := m.responses[m.respIndex]
		m.respIndex++
		respID := resp.ID
		if respID == 0 {
			respID = tp_layer.DefaultResponseID
		}
		go func() {
			time.Sleep(resp.Delay)
			for _, f := range resp.Frames {
				m.rxChan <- driver.NewUnifiedCANMessage(respID, f, false)
			}
		}()
	}
	return nil
}

// SetResponses 设置预设响应序列
func (m *MockCANDriver) SetResponses(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.respIndex = 0
}

// GetWriteLog 获取写入日志
func (m *MockCANDriver) GetWriteLog() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte{}, m.writeLog...)
}

func frames(f ...[]byte) [][]byte { return f }

func newMockClient(t *testing.T, responses ...MockResponse) (*UDSClient, *MockCANDriver) {
	t.Helper()
	dev := NewMockCANDriver()
	dev.SetResponses(responses...)
	client, err := NewUDSClient(dev, tp_layer.DefaultTesterAddress())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client, dev
}

func fastOptions(retries int) RequestOptions {
	return RequestOptions{Timeout: 200 * time.Millisecond, MaxRetries: retries, RetryDelay: time.Millisecond}
}

// ============================================================================
// 与虚拟 ECU 的集成测试
// ============================================================================

func newECUClient(t *testing.T) (*UDSClient, *ecu.ECU) {
	t.Helper()
	target := ecu.New("ECU_001")
	bus := driver.NewVirtualBus(driver.CAN, zerolog.Nop())
	bus.Attach(tp_layer.DefaultECUAddress(), target)

	client, err := NewUDSClient(bus, tp_layer.DefaultTesterAddress())
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client, target
}

func TestClient_AgainstECU(t *testing.T) {
	client, target := newECUClient(t)
	ctx := context.Background()

	require.NoError(t, client.TesterPresent(ctx))

	session, err := client.DiagnosticSessionControl(ctx, 0x03)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), session)
	assert.True(t, target.Snapshot().SessionActive)

	target.SetDataIdentifier(0x0102, []byte("v1.2"))
	value, err := client.ReadDataByIdentifier(ctx, 0x0102)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1.2"), value)

	value, err = client.ReadDataByIdentifier(ctx, 0xF190)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, value)

	target.AddFaultCode(0x123456)
	target.AddFaultCode(0xC0FF01)
	count, err := client.ReadDTCCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// 两条记录超出单帧容量
	_, err = client.ReadDTCs(ctx)
	var nrErr *uds.NegativeResponseError
	require.True(t, errors.As(err, &nrErr), "%v", err)
	assert.Equal(t, uds.NRCResponseTooLong, nrErr.NRC)

	target.ClearFaultCodes()
	target.AddFaultCode(0xC0FF01)
	codes, err := client.ReadDTCs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uds.FaultCode{0xC0FF01}, codes)
}

func TestClient_UnknownServiceAgainstECU(t *testing.T) {
	client, _ := newECUClient(t)

	_, err := client.RequestWithContext(context.Background(), []byte{0xFF}, fastOptions(0))
	var nrErr *uds.NegativeResponseError
	require.True(t, errors.As(err, &nrErr))
	assert.Equal(t, uds.NRCUnsupported, nrErr.NRC)
	assert.Equal(t, byte(0x00), nrErr.ServiceID)
	assert.False(t, nrErr.IsRetryable())
}

func TestClient_PayloadTooLarge(t *testing.T) {
	client, _ := newECUClient(t)
	_, err := client.Request([]byte{0x2E, 0xF1, 0x90, 1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, tp_layer.ErrPayloadTooLarge)
}

func TestClient_EmptyPayload(t *testing.T) {
	client, _ := newECUClient(t)
	_, err := client.Request(nil)
	assert.ErrorIs(t, err, ErrEmptyRequest)
}

// ============================================================================
// Mock 驱动测试
// ============================================================================

func TestClient_ResponsePending(t *testing.T) {
	client, _ := newMockClient(t, MockResponse{
		Delay: 5 * time.Millisecond,
		Frames: frames(
			[]byte{0x03, 0x7F, 0x22, 0x78},
			[]byte{0x05, 0x62, 0xF1, 0x90, 0xAA, 0xBB},
		),
	})

	resp, err := client.RequestWithContext(context.Background(), []byte{0x22, 0xF1, 0x90}, fastOptions(0))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x62, 0xF1, 0x90, 0xAA, 0xBB}, resp)
}

func TestClient_RetriesBusyRepeatRequest(t *testing.T) {
	client, dev := newMockClient(t,
		MockResponse{Frames: frames([]byte{0x03, 0x7F, 0x3E, 0x21})},
		MockResponse{Frames: frames([]byte{0x01, 0x7E})},
	)

	resp, err := client.RequestWithContext(context.Background(), []byte{0x3E}, fastOptions(2))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7E}, resp)
	assert.Len(t, dev.GetWriteLog(), 2)
}

func TestClient_RetriesExhausted(t *testing.T) {
	busy := MockResponse{Frames: frames([]byte{0x03, 0x7F, 0x3E, 0x21})}
	client, dev := newMockClient(t, busy, busy, busy, busy)

	_, err := client.RequestWithContext(context.Background(), []byte{0x3E}, fastOptions(1))
	var nrErr *uds.NegativeResponseError
	require.True(t, errors.As(err, &nrErr), "%v", err)
	assert.Equal(t, uds.NRCBusyRepeatRequest, nrErr.NRC)
	assert.Len(t, dev.GetWriteLog(), 2)
}

func TestClient_NonRetryableNotRepeated(t *testing.T) {
	client, dev := newMockClient(t, MockResponse{Frames: frames([]byte{0x03, 0x7F, 0x22, 0x31})})

	_, err := client.RequestWithContext(context.Background(), []byte{0x22, 0x01, 0x02}, fastOptions(3))
	require.Error(t, err)
	assert.Len(t, dev.GetWriteLog(), 1)
}

func TestClient_SendAndRecvDoesNotRetry(t *testing.T) {
	client, dev := newMockClient(t,
		MockResponse{Frames: frames([]byte{0x03, 0x7F, 0x3E, 0x21})},
		MockResponse{Frames: frames([]byte{0x01, 0x7E})},
	)

	_, err := client.SendAndRecv([]byte{0x3E}, 200*time.Millisecond)
	var nrErr *uds.NegativeResponseError
	require.True(t, errors.As(err, &nrErr), "%v", err)
	assert.Equal(t, uds.NRCBusyRepeatRequest, nrErr.NRC)
	assert.Len(t, dev.GetWriteLog(), 1)

	resp, err := client.SendAndRecv([]byte{0x3E}, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7E}, resp)
}

func TestClient_RequestWithTimeout(t *testing.T) {
	client, _ := newMockClient(t, MockResponse{
		Delay:  50 * time.Millisecond,
		Frames: frames([]byte{0x01, 0x7E}),
	})

	_, err := client.RequestWithTimeout([]byte{0x3E}, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	client2, _ := newMockClient(t, MockResponse{Frames: frames([]byte{0x01, 0x7E})})
	resp, err := client2.RequestWithTimeout([]byte{0x3E}, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7E}, resp)
}

func TestClient_DriverStopped(t *testing.T) {
	client, dev := newMockClient(t)
	dev.Stop()

	start := time.Now()
	_, err := client.RequestWithContext(context.Background(), []byte{0x3E}, RequestOptions{Timeout: time.Second})
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestClient_BareNegativeResponse(t *testing.T) {
	client, _ := newMockClient(t, MockResponse{Frames: frames([]byte{0x7F, 0x00, 0x31})})

	_, err := client.RequestWithContext(context.Background(), []byte{0x22, 0x01, 0x02}, fastOptions(0))
	var nrErr *uds.NegativeResponseError
	require.True(t, errors.As(err, &nrErr), "%v", err)
	assert.Equal(t, uds.NRCRequestOutOfRange, nrErr.NRC)
}

func TestClient_Timeout(t *testing.T) {
	client, _ := newMockClient(t)

	start := time.Now()
	_, err := client.RequestWithContext(context.Background(), []byte{0x3E}, RequestOptions{Timeout: 30 * time.Millisecond})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestClient_ContextCanceled(t *testing.T) {
	client, _ := newMockClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.RequestWithContext(ctx, []byte{0x3E}, RequestOptions{Timeout: time.Second})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_UnexpectedSID(t *testing.T) {
	client, _ := newMockClient(t, MockResponse{Frames: frames([]byte{0x01, 0x50})})

	_, err := client.RequestWithContext(context.Background(), []byte{0x3E}, fastOptions(0))
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestClient_IgnoresOtherIDs(t *testing.T) {
	client, _ := newMockClient(t,
		MockResponse{ID: 0x7E9, Frames: frames([]byte{0x03, 0x7F, 0x3E, 0x12})},
	)
	// 0x7E9 的响应被忽略，最终超时
	_, err := client.RequestWithContext(context.Background(), []byte{0x3E}, RequestOptions{Timeout: 30 * time.Millisecond})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_Padding(t *testing.T) {
	dev := NewMockCANDriver()
	dev.SetResponses(MockResponse{Frames: frames([]byte{0x01, 0x7E, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC})})
	client, err := NewUDSClient(dev, tp_layer.DefaultTesterAddress(), WithPadding(0xCC))
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.RequestWithContext(context.Background(), []byte{0x3E}, fastOptions(0))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7E}, resp)
	assert.Equal(t, [][]byte{{0x01, 0x3E, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC}}, dev.GetWriteLog())
}

func TestClient_Closed(t *testing.T) {
	client, _ := newMockClient(t)
	client.Close()
	assert.True(t, client.IsClosed())

	_, err := client.Request([]byte{0x3E})
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestNewUDSClient_InitError(t *testing.T) {
	dev := NewMockCANDriver()
	dev.initErr = errors.New("no device")
	_, err := NewUDSClient(dev, tp_layer.DefaultTesterAddress())
	assert.Error(t, err)

	_, err = NewUDSClient(NewMockCANDriver(), nil)
	assert.Error(t, err)
}

// TestDefaultRequestOptions 测试默认选项
func TestDefaultRequestOptions(t *testing.T) {
	opts := DefaultRequestOptions()
	assert.Equal(t, 500*time.Millisecond, opts.Timeout)
	assert.Equal(t, 3, opts.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, opts.RetryDelay)
}
