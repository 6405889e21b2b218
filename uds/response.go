package uds

// PlaceholderServiceID 负响应第二字节的默认值
const PlaceholderServiceID byte = 0x00

// Response 是应用层响应负载
type Response []byte

// Positive 构造正响应: SID+0x40 followed by data
func Positive(sid ServiceID, data ...byte) Response {
	out := make(Response, 0, 1+len(data))
	out = append(out, sid.ResponseID())
	return append(out, data...)
}

// Negative 构造固定3字节负响应: 0x7F, sid, nrc
func Negative(sid byte, nrc NRC) Response {
	return Response{NegativeResponseSID, sid, byte(nrc)}
}

// IsNegative 报告响应是否为负响应
func (r Response) IsNegative() bool {
	return len(r) >= 3 && r[0] == NegativeResponseSID
}

// NRC 返回负响应码；正响应时 ok 为 false
func (r Response) NRC() (NRC, bool) {
	if !r.IsNegative() {
		return 0, false
	}
	return NRC(r[2]), true
}

// Err 将负响应转换为 *NegativeResponseError，正响应返回 nil
func (r Response) Err() error {
	nrc, ok := r.NRC()
	if !ok {
		return nil
	}
	return NewNegativeResponseError(r[1], nrc)
}
