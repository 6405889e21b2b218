package driver

import (
	"context"
)

// MaxDataLength UnifiedCANMessage 数据区大小，兼容 CAN-FD
const MaxDataLength = 64

// UnifiedCANMessage 是一个通用的CAN/CAN-FD消息结构体，用于在channel中传递。
type UnifiedCANMessage struct {
	ID         uint32
	DLC        byte
	Data       [MaxDataLength]byte
	IsFD       bool // 标志位，用于区分是CAN还是CAN-FD消息
	IsExtended bool // 29位ID
}

// NewUnifiedCANMessage 复制 data 构造消息，超出64字节的部分被丢弃
func NewUnifiedCANMessage(id uint32, data []byte, isFD bool) UnifiedCANMessage {
	msg := UnifiedCANMessage{
		ID:         id,
		IsFD:       isFD,
		IsExtended: id > maxStandardID,
	}
	msg.DLC = byte(copy(msg.Data[:], data))
	return msg
}

// Payload 返回按 DLC 截取的数据
func (m UnifiedCANMessage) Payload() []byte {
	n := min(int(m.DLC), len(m.Data))
	out := make([]byte, n)
	copy(out, m.Data[:n])
	return out
}

// maxStandardID 11位ID上限，更大的ID视为扩展帧
const maxStandardID = 0x7FF

// CANDriver 定义了CAN/CAN-FD驱动的统一接口
type CANDriver interface {
	Init() error
	Start()
	Stop()
	Write(id int32, data []byte) error
	RxChan() <-chan UnifiedCANMessage
	Context() context.Context
}
