package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/LoveWonYoung/vecu/tp_layer"
)

// RxChannelBufferSize 接收通道缓冲区大小
const RxChannelBufferSize = 1024

var (
	ErrBusNotRunning = errors.New("virtual bus is not running")
	ErrRxChannelFull = errors.New("virtual bus rx channel is full")
)

// CanType 定义 CAN 类型
type CanType byte

const (
	CAN   CanType = 0
	CANFD CanType = 1
)

func (t CanType) String() string {
	if t == CANFD {
		return "CANFD"
	}
	return "CAN"
}

// Responder 是挂在虚拟总线上的诊断节点，通常为 *ecu.ECU
type Responder interface {
	HandleFrame(raw []byte) []byte
}

// WriteRecord 记录一次写入操作
type WriteRecord struct {
	ID        int32
	Data      []byte
	Timestamp time.Time
}

type node struct {
	addr      *tp_layer.Address
	responder Responder
}

// VirtualBus 是内存中的 CAN 总线。诊断仪通过 Write 发送请求，
// 挂载的节点同步处理后把响应注入接收通道。
type VirtualBus struct {
	mu       sync.Mutex
	rxChan   chan UnifiedCANMessage
	ctx      context.Context
	cancel   context.CancelFunc
	canType  CanType
	running  bool
	writeLog []WriteRecord
	nodes    []node
	logger   zerolog.Logger
}

// NewVirtualBus 创建一个新的虚拟总线实例
func NewVirtualBus(canType CanType, logger zerolog.Logger) *VirtualBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &VirtualBus{
		rxChan:  make(chan UnifiedCANMessage, RxChannelBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		canType: canType,
		logger:  logger.With().Str("bus", canType.String()).Logger(),
	}
}

// Attach 将节点挂到总线上。addr 是节点视角的地址: RxID 收请求，TxID 发响应。
func (b *VirtualBus) Attach(addr *tp_layer.Address, r Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes = append(b.nodes, node{addr: addr, responder: r})
}

// Init 初始化虚拟设备 (总是成功)
func (b *VirtualBus) Init() error {
	b.logger.Debug().Msg("virtual bus initialised")
	return nil
}

// Start 启动虚拟设备
func (b *VirtualBus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running || b.ctx.Err() != nil {
		return
	}
	b.running = true
	b.logger.Debug().Msg("virtual bus started")
}

// Stop 停止虚拟设备。停止后不可再次启动。
func (b *VirtualBus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	b.running = false
	b.cancel()
	close(b.rxChan)
	b.logger.Debug().Msg("virtual bus stopped")
}

// Write 发送一帧，匹配的节点立即应答
func (b *VirtualBus) Write(id int32, data []byte) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return ErrBusNotRunning
	}
	b.writeLog = append(b.writeLog, WriteRecord{
		ID:        id,
		Data:      bytes.Clone(data),
		Timestamp: time.Now(),
	})
	msg := tp_layer.CanMessage{
		ArbitrationID: uint32(id),
		Data:          bytes.Clone(data),
		IsExtendedID:  uint32(id) > maxStandardID,
		IsFD:          b.canType == CANFD,
	}
	var targets []node
	for _, n := range b.nodes {
		if n.addr.IsForMe(&msg) {
			targets = append(targets, n)
		}
	}
	b.mu.Unlock()

	b.logger.Trace().Stringer("msg", &msg).Int("nodes", len(targets)).Msg("TX")

	var errs []error
	for _, n := range targets {
		resp := n.responder.HandleFrame(msg.Data)
		if len(resp) == 0 {
			continue
		}
		if err := b.InjectMessage(n.addr.GetTxArbitrationID(tp_layer.Physical), resp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RxChan 返回接收通道
func (b *VirtualBus) RxChan() <-chan UnifiedCANMessage {
	return b.rxChan
}

// Context 返回设备上下文
func (b *VirtualBus) Context() context.Context {
	return b.ctx
}

// InjectMessage 向接收通道注入一条消息 (模拟接收)
func (b *VirtualBus) InjectMessage(id uint32, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return ErrBusNotRunning
	}

	msg := NewUnifiedCANMessage(id, data, b.canType == CANFD)
	select {
	case b.rxChan <- msg:
		b.logger.Trace().Uint32("id", id).Hex("data", data).Msg("RX")
		return nil
	default:
		return fmt.Errorf("%w: id=0x%03X", ErrRxChannelFull, id)
	}
}

// GetWriteLog 获取写入日志
func (b *VirtualBus) GetWriteLog() []WriteRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]WriteRecord{}, b.writeLog...)
}

// ClearWriteLog 清除写入日志
func (b *VirtualBus) ClearWriteLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeLog = nil
}

// IsRunning 检查设备是否正在运行
func (b *VirtualBus) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
