package uds

import "encoding/binary"

// State 是分发器读写的 ECU 状态，由调用方持有
type State interface {
	// ActivateSession 在收到 DiagnosticSessionControl 时调用
	ActivateSession(sessionType byte)
	// DataIdentifier 返回 DID 的当前值
	DataIdentifier(id uint16) ([]byte, bool)
	// FaultCodes 按插入顺序返回故障码
	FaultCodes() []FaultCode
}

// defaultDIDValue 未配置的 DID 返回该值
var defaultDIDValue = []byte{0x00}

// dtcStatus 每个故障码附带的状态字节
const dtcStatus byte = 0x00

// Dispatcher 将请求映射为响应。自身无状态。
type Dispatcher struct {
	// EchoServiceID 为 true 时负响应第二字节回显请求 SID，否则为 0x00
	EchoServiceID bool
}

// Dispatch 执行一次请求
func (d Dispatcher) Dispatch(req Request, st State) Response {
	if !req.ServiceID.Supported() {
		return d.negative(req, NRCUnsupported)
	}

	switch req.ServiceID {
	case TesterPresent:
		return Positive(TesterPresent)

	case DiagnosticSessionControl:
		var sessionType byte
		if len(req.Payload) > 0 {
			sessionType = req.Payload[0]
		}
		st.ActivateSession(sessionType)
		return Positive(DiagnosticSessionControl, sessionType)

	case ReadDataByIdentifier:
		if len(req.Payload) < 2 {
			return d.negative(req, NRCIncorrectMessageLength)
		}
		id := binary.BigEndian.Uint16(req.Payload)
		value, ok := st.DataIdentifier(id)
		if !ok {
			value = defaultDIDValue
		}
		return Positive(ReadDataByIdentifier, append(req.Payload[:2:2], value...)...)

	default: // ReadDTCInformation
		return d.readDTCInformation(req, st)
	}
}

func (d Dispatcher) readDTCInformation(req Request, st State) Response {
	if len(req.Payload) == 0 {
		return d.negative(req, NRCUnsupported)
	}

	subFunction := req.Payload[0]
	switch subFunction {
	case ReportNumberOfDTCByStatusMask:
		count := min(len(st.FaultCodes()), 0xFF)
		return Positive(ReadDTCInformation, subFunction, 0x00, byte(count), 0x00)

	case ReportDTCByStatusMask:
		codes := st.FaultCodes()
		data := make([]byte, 0, 1+4*len(codes))
		data = append(data, subFunction)
		for _, code := range codes {
			b := code.Bytes()
			data = append(data, b[0], b[1], b[2], dtcStatus)
		}
		return Positive(ReadDTCInformation, data...)
	}

	return d.negative(req, NRCUnsupported)
}

// Negative 按分发器配置构造负响应
func (d Dispatcher) Negative(sid ServiceID, nrc NRC) Response {
	if d.EchoServiceID {
		return Negative(byte(sid), nrc)
	}
	return Negative(PlaceholderServiceID, nrc)
}

func (d Dispatcher) negative(req Request, nrc NRC) Response {
	return d.Negative(req.ServiceID, nrc)
}
