package uds

import "fmt"

// NRC 负响应码 (Negative Response Code)
type NRC byte

const (
	NRCGeneralReject                          NRC = 0x10 // 一般拒绝
	NRCServiceNotSupported                    NRC = 0x11 // 服务不支持
	NRCSubFunctionNotSupported                NRC = 0x12 // 子功能不支持；本 ECU 亦用于未知服务
	NRCIncorrectMessageLength                 NRC = 0x13 // 消息长度错误
	NRCResponseTooLong                        NRC = 0x14 // 响应过长
	NRCBusyRepeatRequest                      NRC = 0x21 // 忙，请重复请求
	NRCConditionsNotCorrect                   NRC = 0x22 // 条件不满足
	NRCRequestSequenceError                   NRC = 0x24 // 请求顺序错误
	NRCNoResponseFromSubnetComponent          NRC = 0x25 // 子网组件无响应
	NRCFailurePreventsExecution               NRC = 0x26 // 故障阻止执行
	NRCRequestOutOfRange                      NRC = 0x31 // 请求超出范围
	NRCSecurityAccessDenied                   NRC = 0x33 // 安全访问被拒绝
	NRCInvalidKey                             NRC = 0x35 // 无效密钥
	NRCExceedNumberOfAttempts                 NRC = 0x36 // 超过尝试次数
	NRCRequiredTimeDelayNotExpired            NRC = 0x37 // 所需时间延迟未过期
	NRCUploadDownloadNotAccepted              NRC = 0x70 // 上传/下载不接受
	NRCTransferDataSuspended                  NRC = 0x71 // 传输数据暂停
	NRCGeneralProgrammingFailure              NRC = 0x72 // 一般编程失败
	NRCWrongBlockSequenceCounter              NRC = 0x73 // 块序号计数器错误
	NRCResponsePending                        NRC = 0x78 // 响应挂起
	NRCSubFunctionNotSupportedInActiveSession NRC = 0x7E // 子功能在当前会话不支持
	NRCServiceNotSupportedInActiveSession     NRC = 0x7F // 服务在当前会话不支持
)

// NRCUnsupported 虚拟 ECU 对未知服务、未知子功能以及无法解码的帧统一回复 0x12
const NRCUnsupported = NRCSubFunctionNotSupported

var nrcDescriptions = map[NRC]string{
	NRCGeneralReject:                          "一般拒绝",
	NRCServiceNotSupported:                    "服务不支持",
	NRCSubFunctionNotSupported:                "服务或子功能不支持",
	NRCIncorrectMessageLength:                 "消息长度错误",
	NRCResponseTooLong:                        "响应过长",
	NRCBusyRepeatRequest:                      "忙，请重复请求",
	NRCConditionsNotCorrect:                   "条件不满足",
	NRCRequestSequenceError:                   "请求顺序错误",
	NRCNoResponseFromSubnetComponent:          "子网组件无响应",
	NRCFailurePreventsExecution:               "故障阻止执行",
	NRCRequestOutOfRange:                      "请求超出范围",
	NRCSecurityAccessDenied:                   "安全访问被拒绝",
	NRCInvalidKey:                             "无效密钥",
	NRCExceedNumberOfAttempts:                 "超过尝试次数",
	NRCRequiredTimeDelayNotExpired:            "所需时间延迟未过期",
	NRCUploadDownloadNotAccepted:              "上传/下载不接受",
	NRCTransferDataSuspended:                  "传输数据暂停",
	NRCGeneralProgrammingFailure:              "一般编程失败",
	NRCWrongBlockSequenceCounter:              "块序号计数器错误",
	NRCResponsePending:                        "响应挂起",
	NRCSubFunctionNotSupportedInActiveSession: "子功能在当前会话不支持",
	NRCServiceNotSupportedInActiveSession:     "服务在当前会话不支持",
}

// Description 返回 NRC 的中文描述
func (n NRC) Description() string {
	if desc, ok := nrcDescriptions[n]; ok {
		return desc
	}
	return "未知错误"
}

func (n NRC) String() string {
	return fmt.Sprintf("0x%02X(%s)", byte(n), n.Description())
}

// NegativeResponseError 表示 UDS 负响应错误
type NegativeResponseError struct {
	ServiceID byte   // 负响应第二字节 (虚拟 ECU 默认为 0x00)
	NRC       NRC    // 负响应码
	Message   string // 错误描述
}

// NewNegativeResponseError 根据 SID 和 NRC 构造错误，Message 取 NRC 描述
func NewNegativeResponseError(sid byte, nrc NRC) *NegativeResponseError {
	return &NegativeResponseError{ServiceID: sid, NRC: nrc, Message: nrc.Description()}
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("UDS 负响应: SID=0x%02X, NRC=0x%02X (%s)", e.ServiceID, byte(e.NRC), e.Message)
}

// IsRetryable 判断该错误是否可以重试
func (e *NegativeResponseError) IsRetryable() bool {
	switch e.NRC {
	case NRCBusyRepeatRequest, NRCResponsePending:
		return true
	default:
		return false
	}
}
