package udsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/LoveWonYoung/vecu/driver"
	"github.com/LoveWonYoung/vecu/tp_layer"
	"github.com/LoveWonYoung/vecu/uds"
)

const (
	recvPollInterval       = 1 * time.Millisecond    // 接收轮询间隔
	responsePendingTimeout = 5000 * time.Millisecond // Response Pending 超时
	defaultMaxRetries      = 3                       // 默认最大重试次数
)

var (
	ErrEmptyRequest       = errors.New("请求 payload 不能为空")
	ErrClientClosed       = errors.New("UDS 客户端已关闭")
	ErrTimeout            = errors.New("等待响应超时")
	ErrUnexpectedResponse = errors.New("响应格式不符")
)

// RequestOptions 请求配置选项
type RequestOptions struct {
	Timeout    time.Duration // 单次请求超时
	MaxRetries int           // 最大重试次数 (仅对可重试错误生效)
	RetryDelay time.Duration // 重试间隔
}

// DefaultRequestOptions 返回默认请求选项
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{
		Timeout:    500 * time.Millisecond,
		MaxRetries: defaultMaxRetries,
		RetryDelay: 100 * time.Millisecond,
	}
}

// UDSClient 单帧诊断仪。同一时刻只有一个未完成请求。
type UDSClient struct {
	adapter *driver.Adapter
	addr    *tp_layer.Address
	logger  zerolog.Logger
	padding *byte

	mu     sync.Mutex
	cancel context.CancelFunc // 用于控制客户端生命周期
	ctx    context.Context
}

// Option 配置 UDSClient
type Option func(*UDSClient)

func WithLogger(l zerolog.Logger) Option {
	return func(c *UDSClient) { c.logger = l }
}

// WithPadding 请求帧填充到8字节
func WithPadding(b byte) Option {
	return func(c *UDSClient) { c.padding = &b }
}

// NewUDSClient 初始化并启动驱动。addr 是诊断仪视角的地址: TxID 发请求，RxID 收响应。
func NewUDSClient(dev driver.CANDriver, addr *tp_layer.Address, opts ...Option) (*UDSClient, error) {
	if addr == nil {
		return nil, errors.New("address cannot be nil")
	}
	c := &UDSClient{addr: addr, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}

	adapter, err := driver.NewAdapter(dev, c.logger)
	if err != nil {
		return nil, fmt.Errorf("无法创建适配器: %w", err)
	}
	c.adapter = adapter
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.logger.Debug().Msg("UDS客户端已成功初始化并启动")
	return c, nil
}

// SendAndRecv 发送一个请求并阻塞等待响应，不重试。
func (c *UDSClient) SendAndRecv(payload []byte, timeout time.Duration) ([]byte, error) {
	return c.RequestWithContext(context.Background(), payload, RequestOptions{Timeout: timeout})
}

// Request 简化版请求函数，使用默认选项
func (c *UDSClient) Request(payload []byte) ([]byte, error) {
	return c.RequestWithContext(context.Background(), payload, DefaultRequestOptions())
}

// RequestWithTimeout 带自定义超时的请求函数
func (c *UDSClient) RequestWithTimeout(payload []byte, timeout time.Duration) ([]byte, error) {
	opts := DefaultRequestOptions()
	opts.Timeout = timeout
	return c.RequestWithContext(context.Background(), payload, opts)
}

// RequestWithContext 发送 UDS 请求并等待响应，支持：
//   - Context 取消
//   - 负响应转换为 *uds.NegativeResponseError
//   - 可重试负响应 (0x21/0x78) 的自动重试
//   - 响应 SID 验证
func (c *UDSClient) RequestWithContext(ctx context.Context, payload []byte, opts RequestOptions) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyRequest
	}
	sid := uds.ServiceID(payload[0])

	var response []byte
	err := retry.Do(
		func() error {
			resp, err := c.singleRequest(ctx, payload, opts.Timeout)
			if err != nil {
				var nrErr *uds.NegativeResponseError
				if errors.As(err, &nrErr) && nrErr.IsRetryable() {
					return err
				}
				return retry.Unrecoverable(err)
			}
			if resp[0] != sid.ResponseID() {
				return retry.Unrecoverable(fmt.Errorf("%w: 期望 SID 0x%02X, 收到 0x%02X",
					ErrUnexpectedResponse, sid.ResponseID(), resp[0]))
			}
			response = resp
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(max(opts.MaxRetries, 0)+1)),
		retry.Delay(opts.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn().Err(err).Uint("attempt", n+1).Stringer("service", sid).Msg("UDS 请求重试")
		}),
	)
	if err != nil {
		return nil, err
	}
	return response, nil
}

// singleRequest 执行单次请求（不含重试逻辑）
func (c *UDSClient) singleRequest(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsClosed() {
		return nil, ErrClientClosed
	}

	frame, err := tp_layer.EncodeSingleFrame(payload)
	if err != nil {
		return nil, err
	}
	if c.padding != nil {
		for len(frame) < tp_layer.MaxFrameLength {
			frame = append(frame, *c.padding)
		}
	}

	// 发送前清空可能存在的旧响应
	for {
		if _, ok := c.adapter.RxFunc(); !ok {
			break
		}
	}

	msg := tp_layer.CanMessage{
		ArbitrationID: c.addr.GetTxArbitrationID(tp_layer.Physical),
		Data:          frame,
		IsExtendedID:  c.addr.Is29Bit(),
	}
	if err := c.adapter.TxFunc(msg); err != nil {
		return nil, fmt.Errorf("发送失败: %w", err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.ctx.Done():
			return nil, ErrClientClosed
		case <-c.adapter.Done():
			return nil, fmt.Errorf("%w: CAN 驱动已停止", ErrClientClosed)
		case <-deadline.C:
			return nil, fmt.Errorf("%w (%v)", ErrTimeout, timeout)
		default:
		}

		rx, ok := c.adapter.RxFunc()
		if !ok {
			time.Sleep(recvPollInterval) // 短暂等待，避免抢占CPU
			continue
		}
		if !c.addr.IsForMe(&rx) {
			continue
		}

		data, err := unwrapResponse(&rx)
		if err != nil {
			return nil, err
		}

		resp := uds.Response(data)
		if nrc, ok := resp.NRC(); ok {
			// Response Pending - 重置超时继续等待
			if nrc == uds.NRCResponsePending {
				if !deadline.Stop() {
					select {
					case <-deadline.C:
					default:
					}
				}
				deadline.Reset(responsePendingTimeout)
				c.logger.Debug().Uint8("sid", data[1]).Msg("收到 Response Pending，继续等待")
				continue
			}
			return nil, resp.Err()
		}
		return data, nil
	}
}

// unwrapResponse 取出单帧中的负载。不带 PCI 的3字节负响应原样返回。
func unwrapResponse(msg *tp_layer.CanMessage) ([]byte, error) {
	frame, err := msg.Frame()
	if err != nil {
		raw := msg.Data
		if len(raw) == 3 && raw[0] == uds.NegativeResponseSID {
			return raw, nil
		}
		return nil, err
	}
	if frame.Kind != tp_layer.KindSingleFrame {
		return nil, fmt.Errorf("%w: 不支持的响应帧 %s", ErrUnexpectedResponse, frame.Kind)
	}
	if len(frame.Data) == 0 || len(frame.Data) < frame.Length {
		return nil, fmt.Errorf("%w: 单帧数据不完整 %v", ErrUnexpectedResponse, frame)
	}
	return frame.Data, nil
}

// Close 优雅地关闭客户端，释放所有资源。
func (c *UDSClient) Close() {
	c.logger.Debug().Msg("正在关闭UDS客户端")
	c.cancel()
	c.adapter.Close()
}

// IsClosed 检查客户端是否已关闭
func (c *UDSClient) IsClosed() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}
