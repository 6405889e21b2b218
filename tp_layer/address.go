package tp_layer

import "fmt"

// AddressingMode 定义了支持的寻址模式。
// 编解码器不处理负载前缀，因此只保留 Normal 系列模式。
type AddressingMode int

const (
	Normal11Bit      AddressingMode = iota // 11位ID
	Normal29Bit                            // 29位ID
	NormalFixed29Bit                       // 29位ID，目标/源地址在ID中
)

// AddressType 定义了寻址类型：物理或功能
type AddressType int

const (
	Physical AddressType = iota
	Functional
)

const (
	// DefaultRequestID/DefaultResponseID 常见的 OBD 诊断 ID 对
	DefaultRequestID    uint32 = 0x7E0
	DefaultResponseID   uint32 = 0x7E8
	DefaultFunctionalID uint32 = 0x7DF
)

// Address 存储了所有与寻址相关的信息
type Address struct {
	AddressingMode AddressingMode

	// 用于 Normal 模式
	TxID         uint32
	RxID         uint32
	FunctionalID uint32 // 0 表示不接收功能寻址

	// 用于 NormalFixed 模式
	TargetAddress byte // 目标ECU地址 (TA)
	SourceAddress byte // 源ECU地址 (SA)

	is29Bit bool
}

// NewAddress 是一个灵活的构造函数，用于创建地址对象
func NewAddress(mode AddressingMode, opts ...func(*Address)) (*Address, error) {
	addr := &Address{AddressingMode: mode}

	for _, opt := range opts {
		opt(addr)
	}

	switch mode {
	case Normal11Bit:
		if addr.TxID > 0x7FF || addr.RxID > 0x7FF || addr.FunctionalID > 0x7FF {
			return nil, fmt.Errorf("11位寻址的ID超出范围: tx=0x%X rx=0x%X func=0x%X", addr.TxID, addr.RxID, addr.FunctionalID)
		}
		addr.is29Bit = false
	case Normal29Bit, NormalFixed29Bit:
		addr.is29Bit = true
	default:
		return nil, fmt.Errorf("不支持的寻址模式: %d", mode)
	}

	return addr, nil
}

// 可选配置函数，用于 NewAddress

func WithTxID(id uint32) func(*Address)         { return func(a *Address) { a.TxID = id } }
func WithRxID(id uint32) func(*Address)         { return func(a *Address) { a.RxID = id } }
func WithFunctionalID(id uint32) func(*Address) { return func(a *Address) { a.FunctionalID = id } }
func WithTargetAddress(ta byte) func(*Address)  { return func(a *Address) { a.TargetAddress = ta } }
func WithSourceAddress(sa byte) func(*Address)  { return func(a *Address) { a.SourceAddress = sa } }

// DefaultECUAddress ECU侧默认地址: 在 0x7E0/0x7DF 接收，在 0x7E8 应答
func DefaultECUAddress() *Address {
	addr, _ := NewAddress(Normal11Bit,
		WithRxID(DefaultRequestID),
		WithTxID(DefaultResponseID),
		WithFunctionalID(DefaultFunctionalID),
	)
	return addr
}

// DefaultTesterAddress 诊断仪侧默认地址，与 DefaultECUAddress 对应
func DefaultTesterAddress() *Address {
	addr, _ := NewAddress(Normal11Bit,
		WithTxID(DefaultRequestID),
		WithRxID(DefaultResponseID),
	)
	return addr
}

// GetTxArbitrationID 根据寻址模式和类型（物理/功能）动态计算发送ID
func (a *Address) GetTxArbitrationID(addrType AddressType) uint32 {
	switch a.AddressingMode {
	case NormalFixed29Bit:
		// 18DA[TA][SA] for physical, 18DB[TA][SA] for functional
		prefix := uint32(0x18DA0000)
		if addrType == Functional {
			prefix = 0x18DB0000
		}
		return prefix | (uint32(a.TargetAddress) << 8) | uint32(a.SourceAddress)
	default:
		if addrType == Functional && a.FunctionalID != 0 {
			return a.FunctionalID
		}
		return a.TxID
	}
}

// IsForMe 检查收到的CAN报文是否是发给本节点的
func (a *Address) IsForMe(msg *CanMessage) bool {
	if msg.IsExtendedID != a.is29Bit {
		return false // 11/29位不匹配
	}

	switch a.AddressingMode {
	case Normal11Bit, Normal29Bit:
		if msg.ArbitrationID == a.RxID {
			return true
		}
		return a.FunctionalID != 0 && msg.ArbitrationID == a.FunctionalID
	case NormalFixed29Bit:
		// 对方发送时 TA 是我们的 SA
		base := msg.ArbitrationID & 0xFFFF0000
		if base != 0x18DA0000 && base != 0x18DB0000 {
			return false
		}
		return byte(msg.ArbitrationID>>8) == a.SourceAddress && byte(msg.ArbitrationID) == a.TargetAddress
	}
	return false
}

// Is29Bit 返回当前模式是否为29位
func (a *Address) Is29Bit() bool {
	return a.is29Bit
}
