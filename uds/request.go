package uds

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrEmptyRequest 空负载无法构成请求
var ErrEmptyRequest = errors.New("uds: empty request payload")

// Request 是解析后的诊断请求
type Request struct {
	ServiceID ServiceID
	Payload   []byte
}

// ParseRequest 将负载拆分为 SID 与服务数据。Payload 是独立副本。
func ParseRequest(payload []byte) (Request, error) {
	if len(payload) == 0 {
		return Request{}, ErrEmptyRequest
	}
	return Request{
		ServiceID: ServiceID(payload[0]),
		Payload:   bytes.Clone(payload[1:]),
	}, nil
}

// Bytes 重新组装请求负载
func (r Request) Bytes() []byte {
	out := make([]byte, 0, 1+len(r.Payload))
	out = append(out, byte(r.ServiceID))
	return append(out, r.Payload...)
}

func (r Request) String() string {
	return fmt.Sprintf("%s % 02X", r.ServiceID, r.Payload)
}
