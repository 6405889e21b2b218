package uds

import (
	"fmt"
	"strconv"
	"strings"
)

// FaultCode 是24位 DTC: 两字节故障码 + 一字节故障类型
type FaultCode uint32

// MaxFaultCode 24位上限
const MaxFaultCode FaultCode = 0xFFFFFF

const hexDigits = "0123456789ABCDEF"

var systemChars = [4]byte{'P', 'C', 'B', 'U'}

// Bytes 返回大端3字节表示，超出24位的部分被丢弃
func (c FaultCode) Bytes() [3]byte {
	return [3]byte{byte(c >> 16), byte(c >> 8), byte(c)}
}

// String 返回 SAE J2012 形式，例如 0xC0FF01 -> "U00FF-01"
func (c FaultCode) String() string {
	b := c.Bytes()
	a, lo := b[0], b[1]

	code := make([]byte, 0, 8)
	code = append(code,
		systemChars[(a>>6)&0x03], // A7..A6 -> P/C/B/U
		'0'+(a>>4)&0x03,          // A5..A4
		hexDigits[a&0x0F],
		hexDigits[(lo>>4)&0x0F],
		hexDigits[lo&0x0F],
		'-',
		hexDigits[b[2]>>4],
		hexDigits[b[2]&0x0F],
	)
	return string(code)
}

// ParseFaultCode 解析 "0xC0FF01"、"C0FF01" 或 SAE 形式 "U00FF-01"/"U00FF"
func ParseFaultCode(s string) (FaultCode, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	if raw == "" {
		return 0, fmt.Errorf("uds: empty fault code")
	}

	// B/C 开头的6位字符串同时是合法十六进制，按十六进制处理
	if idx := strings.IndexByte("PCBU", raw[0]); idx >= 0 && isSAEForm(raw) {
		return parseSAE(raw, byte(idx))
	}

	raw = strings.TrimPrefix(raw, "0X")
	v, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("uds: invalid fault code %q: %w", s, err)
	}
	if FaultCode(v) > MaxFaultCode {
		return 0, fmt.Errorf("uds: fault code %q exceeds 24 bits", s)
	}
	return FaultCode(v), nil
}

func isSAEForm(raw string) bool {
	if raw[0] == 'P' || raw[0] == 'U' || strings.Contains(raw, "-") {
		return true
	}
	return len(raw) == 5 || len(raw) == 7
}

func parseSAE(raw string, system byte) (FaultCode, error) {
	body := strings.ReplaceAll(raw[1:], "-", "")
	if len(body) != 4 && len(body) != 6 {
		return 0, fmt.Errorf("uds: invalid SAE fault code %q", raw)
	}
	if body[0] < '0' || body[0] > '3' {
		return 0, fmt.Errorf("uds: invalid SAE fault code %q", raw)
	}
	if len(body) == 4 {
		body += "00"
	}
	rest, err := strconv.ParseUint(body[1:], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("uds: invalid SAE fault code %q: %w", raw, err)
	}
	high := uint32(system)<<22 | uint32(body[0]-'0')<<20
	return FaultCode(high | uint32(rest)), nil
}
