package uds

import "fmt"

// ServiceID 是请求的第一个字节 (SID)
type ServiceID byte

// UDS Service ID (ISO 14229-1)
const (
	DiagnosticSessionControl       ServiceID = 0x10
	ECUReset                       ServiceID = 0x11
	ClearDiagnosticInformation     ServiceID = 0x14
	ReadDTCInformation             ServiceID = 0x19
	ReadDataByIdentifier           ServiceID = 0x22
	ReadMemoryByAddress            ServiceID = 0x23
	ReadScalingDataByIdentifier    ServiceID = 0x24
	SecurityAccess                 ServiceID = 0x27
	CommunicationControl           ServiceID = 0x28
	WriteDataByIdentifier          ServiceID = 0x2E
	InputOutputControlByIdentifier ServiceID = 0x2F
	RoutineControl                 ServiceID = 0x31
	RequestDownload                ServiceID = 0x34
	RequestUpload                  ServiceID = 0x35
	TransferData                   ServiceID = 0x36
	RequestTransferExit            ServiceID = 0x37
	TesterPresent                  ServiceID = 0x3E
	ControlDTCSetting              ServiceID = 0x85
)

const (
	// PositiveResponseOffset 正响应 SID = 请求 SID + 0x40
	PositiveResponseOffset = 0x40
	// NegativeResponseSID 负响应的第一个字节
	NegativeResponseSID = 0x7F
)

// ReadDTCInformation 子功能
const (
	ReportNumberOfDTCByStatusMask byte = 0x01
	ReportDTCByStatusMask         byte = 0x02
)

var serviceNames = map[ServiceID]string{
	DiagnosticSessionControl:       "DiagnosticSessionControl",
	ECUReset:                       "ECUReset",
	ClearDiagnosticInformation:     "ClearDiagnosticInformation",
	ReadDTCInformation:             "ReadDTCInformation",
	ReadDataByIdentifier:           "ReadDataByIdentifier",
	ReadMemoryByAddress:            "ReadMemoryByAddress",
	ReadScalingDataByIdentifier:    "ReadScalingDataByIdentifier",
	SecurityAccess:                 "SecurityAccess",
	CommunicationControl:           "CommunicationControl",
	WriteDataByIdentifier:          "WriteDataByIdentifier",
	InputOutputControlByIdentifier: "InputOutputControlByIdentifier",
	RoutineControl:                 "RoutineControl",
	RequestDownload:                "RequestDownload",
	RequestUpload:                  "RequestUpload",
	TransferData:                   "TransferData",
	RequestTransferExit:            "RequestTransferExit",
	TesterPresent:                  "TesterPresent",
	ControlDTCSetting:              "ControlDTCSetting",
}

func (s ServiceID) String() string {
	if name, ok := serviceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", byte(s))
}

// ResponseID 返回对应的正响应 SID
func (s ServiceID) ResponseID() byte {
	return byte(s) + PositiveResponseOffset
}

// Supported 报告虚拟 ECU 是否实现了该服务
func (s ServiceID) Supported() bool {
	switch s {
	case TesterPresent, DiagnosticSessionControl, ReadDataByIdentifier, ReadDTCInformation:
		return true
	default:
		return false
	}
}
