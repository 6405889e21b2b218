package udsclient

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/LoveWonYoung/vecu/uds"
)

// TesterPresent 保持诊断连接
func (c *UDSClient) TesterPresent(ctx context.Context) error {
	_, err := c.RequestWithContext(ctx, []byte{byte(uds.TesterPresent)}, DefaultRequestOptions())
	return err
}

// DiagnosticSessionControl 切换会话，返回 ECU 回显的会话类型
func (c *UDSClient) DiagnosticSessionControl(ctx context.Context, sessionType byte) (byte, error) {
	resp, err := c.RequestWithContext(ctx, []byte{byte(uds.DiagnosticSessionControl), sessionType}, DefaultRequestOptions())
	if err != nil {
		return 0, err
	}
	if len(resp) < 2 {
		return 0, fmt.Errorf("%w: % 02X", ErrUnexpectedResponse, resp)
	}
	return resp[1], nil
}

// ReadDataByIdentifier 读取 DID 的值
func (c *UDSClient) ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error) {
	req := []byte{byte(uds.ReadDataByIdentifier), 0, 0}
	binary.BigEndian.PutUint16(req[1:], did)

	resp, err := c.RequestWithContext(ctx, req, DefaultRequestOptions())
	if err != nil {
		return nil, err
	}
	if len(resp) < 3 || binary.BigEndian.Uint16(resp[1:]) != did {
		return nil, fmt.Errorf("%w: DID 0x%04X: % 02X", ErrUnexpectedResponse, did, resp)
	}
	return resp[3:], nil
}

// ReadDTCCount 读取故障码数量 (19 01)
func (c *UDSClient) ReadDTCCount(ctx context.Context) (int, error) {
	req := []byte{byte(uds.ReadDTCInformation), uds.ReportNumberOfDTCByStatusMask}
	resp, err := c.RequestWithContext(ctx, req, DefaultRequestOptions())
	if err != nil {
		return 0, err
	}
	if len(resp) < 4 || resp[1] != uds.ReportNumberOfDTCByStatusMask {
		return 0, fmt.Errorf("%w: % 02X", ErrUnexpectedResponse, resp)
	}
	return int(resp[3]), nil
}

// ReadDTCs 读取故障码列表 (19 02)，每条记录为3字节故障码 + 1字节状态
func (c *UDSClient) ReadDTCs(ctx context.Context) ([]uds.FaultCode, error) {
	req := []byte{byte(uds.ReadDTCInformation), uds.ReportDTCByStatusMask}
	resp, err := c.RequestWithContext(ctx, req, DefaultRequestOptions())
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 || resp[1] != uds.ReportDTCByStatusMask || (len(resp)-2)%4 != 0 {
		return nil, fmt.Errorf("%w: % 02X", ErrUnexpectedResponse, resp)
	}

	records := resp[2:]
	codes := make([]uds.FaultCode, 0, len(records)/4)
	for i := 0; i+4 <= len(records); i += 4 {
		code := uds.FaultCode(records[i])<<16 | uds.FaultCode(records[i+1])<<8 | uds.FaultCode(records[i+2])
		codes = append(codes, code)
	}
	return codes, nil
}
