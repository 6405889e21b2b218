package ecu

import (
	"bytes"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/LoveWonYoung/vecu/metrics"
	"github.com/LoveWonYoung/vecu/tp_layer"
	"github.com/LoveWonYoung/vecu/uds"
)

// state 是 ECU 的可变诊断状态，由 ECU.mu 保护
type state struct {
	sessionActive bool
	sessionType   byte
	dids          map[uint16][]byte
	faultCodes    []uds.FaultCode
}

func (s *state) ActivateSession(sessionType byte) {
	s.sessionActive = true
	s.sessionType = sessionType
}

func (s *state) DataIdentifier(id uint16) ([]byte, bool) {
	v, ok := s.dids[id]
	return v, ok
}

func (s *state) FaultCodes() []uds.FaultCode { return s.faultCodes }

// ECU 是一个虚拟诊断节点。所有方法可并发调用，内部按调用串行化。
type ECU struct {
	id string

	mu    sync.Mutex
	state state

	dispatcher          uds.Dispatcher
	bareTransportErrors bool

	logger  zerolog.Logger
	metrics *metrics.Recorder
}

// Option 配置 ECU
type Option func(*ECU)

// WithEchoServiceID 负响应第二字节回显请求 SID (ISO 14229 行为)
func WithEchoServiceID() Option {
	return func(e *ECU) { e.dispatcher.EchoServiceID = true }
}

// WithBareTransportErrors 帧解码失败与多帧拒绝时返回不带 PCI 的3字节负响应
func WithBareTransportErrors() Option {
	return func(e *ECU) { e.bareTransportErrors = true }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *ECU) { e.logger = l }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(e *ECU) { e.metrics = m }
}

// New 创建一个处于默认会话、无 DID、无故障码的 ECU
func New(id string, opts ...Option) *ECU {
	e := &ECU{
		id:     id,
		state:  state{dids: make(map[uint16][]byte)},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("ecu", id).Logger()
	e.metrics.SetSessionActive(id, false)
	return e
}

func (e *ECU) ID() string { return e.id }

// HandleFrame 处理一帧请求并返回一帧响应。协议错误以负响应形式返回。
func (e *ECU) HandleFrame(raw []byte) []byte {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.handle(raw)

	outcome := metrics.OutcomePositive
	var nrcLabel string
	if r.nrc != 0 {
		outcome = metrics.OutcomeNegative
		if !r.dispatched {
			outcome = metrics.OutcomeRejected
		}
		nrcLabel = r.nrc.String()
	}
	e.metrics.RecordFrame(e.id, r.kind)
	e.metrics.RecordRequest(e.id, r.service, outcome, nrcLabel, time.Since(start))
	e.metrics.SetSessionActive(e.id, e.state.sessionActive)

	ev := e.logger.Debug().Hex("rx", raw).Hex("tx", r.out).Str("kind", r.kind)
	if r.service != "" {
		ev = ev.Str("service", r.service)
	}
	if r.nrc != 0 {
		ev = ev.Stringer("nrc", r.nrc)
	}
	if r.err != nil {
		ev = ev.Err(r.err)
	}
	ev.Msg("frame handled")

	return r.out
}

type handled struct {
	out        []byte
	kind       string
	service    string
	nrc        uds.NRC
	dispatched bool
	err        error
}

func (e *ECU) handle(raw []byte) handled {
	frame, err := tp_layer.DecodeFrame(raw)
	if err != nil {
		return e.rejectTransport(handled{kind: "INVALID", err: err}, uds.NRCUnsupported)
	}

	h := handled{kind: frame.Kind.String()}
	if frame.Kind != tp_layer.KindSingleFrame {
		// 不支持多帧重组
		return e.rejectTransport(h, uds.NRCRequestOutOfRange)
	}

	req, err := uds.ParseRequest(frame.Data)
	if err != nil {
		h.err = err
		h.nrc = uds.NRCUnsupported
		h.out = wrap(uds.Negative(uds.PlaceholderServiceID, uds.NRCUnsupported))
		return h
	}

	h.service = req.ServiceID.String()
	h.dispatched = true

	resp := e.dispatcher.Dispatch(req, &e.state)
	out, err := tp_layer.EncodeSingleFrame(resp)
	if errors.Is(err, tp_layer.ErrPayloadTooLarge) {
		h.err = err
		resp = e.dispatcher.Negative(req.ServiceID, uds.NRCResponseTooLong)
		out = wrap(resp)
	}
	if nrc, ok := resp.NRC(); ok {
		h.nrc = nrc
	}
	h.out = out
	return h
}

func (e *ECU) rejectTransport(h handled, nrc uds.NRC) handled {
	h.nrc = nrc
	resp := uds.Negative(uds.PlaceholderServiceID, nrc)
	if e.bareTransportErrors {
		h.out = resp
	} else {
		h.out = wrap(resp)
	}
	return h
}

// wrap 负响应固定3字节，总能装入单帧
func wrap(resp uds.Response) []byte {
	out, _ := tp_layer.EncodeSingleFrame(resp)
	return out
}

// SetDataIdentifier 设置 DID 的值，已存在时整体覆盖
func (e *ECU) SetDataIdentifier(id uint16, value []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.dids[id] = bytes.Clone(value)
	e.logger.Info().Uint16("did", id).Hex("value", value).Msg("data identifier set")
}

// AddFaultCode 追加故障码，保留插入顺序与重复项
func (e *ECU) AddFaultCode(code uds.FaultCode) {
	e.mu.Lock()
	defer e.mu.Unlock()

	code &= uds.MaxFaultCode
	e.state.faultCodes = append(e.state.faultCodes, code)
	e.logger.Info().Stringer("dtc", code).Int("count", len(e.state.faultCodes)).Msg("fault code added")
}

func (e *ECU) ClearFaultCodes() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.faultCodes = nil
	e.logger.Info().Msg("fault codes cleared")
}

// Snapshot 是 ECU 状态的只读副本
type Snapshot struct {
	ID              string
	SessionActive   bool
	SessionType     byte
	DataIdentifiers map[uint16][]byte
	FaultCodes      []uds.FaultCode
}

func (e *ECU) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	dids := make(map[uint16][]byte, len(e.state.dids))
	for k, v := range e.state.dids {
		dids[k] = bytes.Clone(v)
	}
	return Snapshot{
		ID:              e.id,
		SessionActive:   e.state.sessionActive,
		SessionType:     e.state.sessionType,
		DataIdentifiers: dids,
		FaultCodes:      slices.Clone(e.state.faultCodes),
	}
}

// DataIdentifierIDs 返回已配置的 DID，升序
func (s Snapshot) DataIdentifierIDs() []uint16 {
	return slices.Sorted(maps.Keys(s.DataIdentifiers))
}
