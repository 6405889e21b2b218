package tp_layer

import "fmt"

const (
	// pciTypeSingleFrame (SF) 是 0
	pciTypeSingleFrame = 0x00
	// pciTypeFirstFrame (FF) 是 1
	pciTypeFirstFrame = 0x10
	// pciTypeConsecutiveFrame (CF) 是 2
	pciTypeConsecutiveFrame = 0x20
	// pciTypeFlowControl (FC) 是 3
	pciTypeFlowControl = 0x30
)

const (
	// MaxFrameLength 经典CAN的数据长度上限
	MaxFrameLength = 8

	SingleFrameCapacity      = 7
	FirstFrameCapacity       = 6
	ConsecutiveFrameCapacity = 7

	// MaxFirstFrameLength 12位长度字段的最大值
	MaxFirstFrameLength = 0xFFF
)

// EncodeSingleFrame 创建单帧: PCI(0x0_len) + payload
func EncodeSingleFrame(payload []byte) ([]byte, error) {
	if len(payload) > SingleFrameCapacity {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), SingleFrameCapacity)
	}

	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, pciTypeSingleFrame|byte(len(payload)))
	frame = append(frame, payload...)
	return frame, nil
}

// EncodeFirstFrame 创建首帧。totalLength 占用 byte0 低4位和 byte1，
// 之后最多复制6字节数据；不足6字节时由调用方负责填充。
func EncodeFirstFrame(prefix []byte, totalLength int) ([]byte, error) {
	if totalLength < 0 || totalLength > MaxFirstFrameLength {
		return nil, fmt.Errorf("%w: %d", ErrLengthOutOfRange, totalLength)
	}
	if len(prefix) > FirstFrameCapacity {
		prefix = prefix[:FirstFrameCapacity]
	}

	frame := make([]byte, 0, 2+len(prefix))
	frame = append(frame,
		pciTypeFirstFrame|byte(totalLength>>8&0x0F),
		byte(totalLength&0xFF),
	)
	frame = append(frame, prefix...)
	return frame, nil
}

// EncodeConsecutiveFrame 创建连续帧。序列号按4位循环，不校验连续性。
func EncodeConsecutiveFrame(chunk []byte, sequenceNumber int) []byte {
	if len(chunk) > ConsecutiveFrameCapacity {
		chunk = chunk[:ConsecutiveFrameCapacity]
	}

	frame := make([]byte, 0, 1+len(chunk))
	frame = append(frame, pciTypeConsecutiveFrame|byte(sequenceNumber&0x0F))
	frame = append(frame, chunk...)
	return frame
}
