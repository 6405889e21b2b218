package tp_layer

import (
	"bytes"
	"fmt"
)

// FrameKind is the PCI type carried in the high nibble of byte 0.
type FrameKind uint8

const (
	KindSingleFrame      FrameKind = pciTypeSingleFrame >> 4
	KindFirstFrame       FrameKind = pciTypeFirstFrame >> 4
	KindConsecutiveFrame FrameKind = pciTypeConsecutiveFrame >> 4
	KindFlowControl      FrameKind = pciTypeFlowControl >> 4
)

func (k FrameKind) String() string {
	switch k {
	case KindSingleFrame:
		return "SINGLE_FRAME"
	case KindFirstFrame:
		return "FIRST_FRAME"
	case KindConsecutiveFrame:
		return "CONSECUTIVE_FRAME"
	case KindFlowControl:
		return "FLOW_CONTROL"
	default:
		return fmt.Sprintf("FrameKind(0x%X)", uint8(k))
	}
}

// Frame is one decoded ISO-TP protocol data unit.
//
// Length is the declared payload length of a SingleFrame or FirstFrame.
// SequenceNumber is only meaningful for a ConsecutiveFrame.
type Frame struct {
	Kind           FrameKind
	Length         int
	SequenceNumber int
	Data           []byte
}

// Equal reports whether two frames carry the same kind, header fields and data.
func (f Frame) Equal(other Frame) bool {
	return f.Kind == other.Kind &&
		f.Length == other.Length &&
		f.SequenceNumber == other.SequenceNumber &&
		bytes.Equal(f.Data, other.Data)
}

func (f Frame) String() string {
	switch f.Kind {
	case KindConsecutiveFrame:
		return fmt.Sprintf("%s[sn=%d] % 02X", f.Kind, f.SequenceNumber, f.Data)
	default:
		return fmt.Sprintf("%s[len=%d] % 02X", f.Kind, f.Length, f.Data)
	}
}

// DecodeFrame 将原始帧解析为 Frame。返回的 Data 是独立副本。
//
// 只有空帧与未知 PCI 类型会失败。Data 按帧的物理容量截取：
// 单帧与连续帧最多7字节，首帧最多6字节；超出部分视为填充。
// 单帧声明长度大于实际字节数时只取现有部分。
// 缺少长度低字节的首帧按低字节为0解析，Data 为空。
func DecodeFrame(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, ErrEmptyFrame
	}

	pci := raw[0]
	switch FrameKind(pci >> 4) {
	case KindSingleFrame:
		length := int(pci & 0x0F)
		end := min(len(raw), 1+length, 1+SingleFrameCapacity)
		return Frame{Kind: KindSingleFrame, Length: length, Data: bytes.Clone(raw[1:end])}, nil

	case KindFirstFrame:
		length := int(pci&0x0F) << 8
		if len(raw) < 2 {
			return Frame{Kind: KindFirstFrame, Length: length, Data: []byte{}}, nil
		}
		length |= int(raw[1])
		end := min(len(raw), 2+FirstFrameCapacity)
		return Frame{Kind: KindFirstFrame, Length: length, Data: bytes.Clone(raw[2:end])}, nil

	case KindConsecutiveFrame:
		end := min(len(raw), 1+ConsecutiveFrameCapacity)
		return Frame{
			Kind:           KindConsecutiveFrame,
			SequenceNumber: int(pci & 0x0F),
			Data:           bytes.Clone(raw[1:end]),
		}, nil
	}

	return Frame{}, fmt.Errorf("%w: PCI 0x%02X", ErrUnknownFrameKind, pci)
}
