package driver

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/LoveWonYoung/vecu/tp_layer"
)

// Adapter 连接 CANDriver 与 tp_layer.CanMessage
type Adapter struct {
	driver CANDriver // 使用接口，使其可以同时支持 CAN 和 CAN-FD
	rxChan <-chan UnifiedCANMessage
	logger zerolog.Logger
}

// NewAdapter 初始化并启动驱动
func NewAdapter(dev CANDriver, logger zerolog.Logger) (*Adapter, error) {
	if dev == nil {
		return nil, errors.New("CAN driver instance cannot be nil")
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize CAN device: %w", err)
	}
	dev.Start()

	logger.Debug().Msg("adapter created and device started")
	return &Adapter{
		driver: dev,
		rxChan: dev.RxChan(),
		logger: logger,
	}, nil
}

// Close 用于停止驱动并释放资源
func (a *Adapter) Close() {
	a.logger.Debug().Msg("closing adapter")
	a.driver.Stop()
}

// TxFunc 发送一帧
func (a *Adapter) TxFunc(msg tp_layer.CanMessage) error {
	if err := a.driver.Write(int32(msg.ArbitrationID), msg.Data); err != nil {
		a.logger.Error().Err(err).Stringer("msg", &msg).Msg("failed to send message")
		return err
	}
	return nil
}

// RxFunc 非阻塞接收一帧；无可用报文或通道已关闭时返回 false
func (a *Adapter) RxFunc() (tp_layer.CanMessage, bool) {
	select {
	case received, ok := <-a.rxChan:
		if !ok {
			return tp_layer.CanMessage{}, false
		}
		if int(received.DLC) > len(received.Data) {
			a.logger.Warn().
				Uint8("dlc", received.DLC).
				Uint32("id", received.ID).
				Msg("DLC larger than data array, truncating")
		}
		return tp_layer.CanMessage{
			ArbitrationID: received.ID,
			Data:          received.Payload(),
			IsExtendedID:  received.IsExtended,
			IsFD:          received.IsFD,
		}, true
	default:
		return tp_layer.CanMessage{}, false
	}
}

// Done 驱动生命周期结束时关闭
func (a *Adapter) Done() <-chan struct{} {
	return a.driver.Context().Done()
}
