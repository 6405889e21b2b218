// Package gateway exposes an ECU over TCP.
//
// The protocol is line based: a client writes one hex-encoded frame per line
// ("02 10 03" or "021003") and reads one hex-encoded response line back.
// Lines that are not valid hex, or longer than MaxLineLength, are answered
// with "ERR <reason>" and the connection stays open.
package gateway

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/LoveWonYoung/vecu/metrics"
)

// MaxLineLength 单行请求的字节上限，足够容纳带空格与 0x 前缀的 64 字节帧
const MaxLineLength = 512

var ErrLineTooLong = fmt.Errorf("line exceeds %d bytes", MaxLineLength)

// Handler 处理一帧并返回响应帧，*ecu.ECU 实现了该接口
type Handler interface {
	HandleFrame(raw []byte) []byte
}

// Server 把 TCP 连接上的每一行转发给同一个 Handler
type Server struct {
	handler Handler
	logger  zerolog.Logger
	metrics *metrics.Recorder

	limit rate.Limit
	burst int

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	wg sync.WaitGroup
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimit 限制每个连接每秒处理的帧数；fps <= 0 表示不限
func WithRateLimit(fps float64, burst int) Option {
	return func(s *Server) {
		if fps <= 0 {
			s.limit = rate.Inf
			return
		}
		s.limit = rate.Limit(fps)
		s.burst = max(burst, 1)
	}
}

func New(h Handler, opts ...Option) *Server {
	t := time.Now()
	s := &Server{
		handler: h,
		logger:  zerolog.Nop(),
		limit:   rate.Inf,
		burst:   1,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) newConnID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Serve 接受连接直到 ctx 结束，随后关闭 ln 并等待所有连接退出
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("gateway listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("gateway accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn 处理单个连接直到对端关闭或 ctx 结束
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	id := s.newConnID()
	logger := s.logger.With().Str("conn", id).Str("remote", conn.RemoteAddr().String()).Logger()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	s.metrics.ConnOpened()
	defer s.metrics.ConnClosed()
	logger.Info().Msg("client connected")
	defer func() { logger.Info().Msg("client disconnected") }()

	limiter := rate.NewLimiter(s.limit, s.burst)
	r := bufio.NewReaderSize(conn, MaxLineLength)
	w := bufio.NewWriter(conn)

	for {
		line, err := readLine(r)
		var reply string
		switch {
		case errors.Is(err, ErrLineTooLong):
			s.metrics.InvalidLine()
			logger.Debug().Err(err).Msg("invalid line")
			reply = "ERR " + err.Error()
		case err != nil:
			if !errors.Is(err, io.EOF) && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				logger.Warn().Err(err).Msg("read failed")
			}
			return
		default:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			reply = s.handleLine(line)
		}

		if _, err := w.WriteString(reply + "\n"); err != nil {
			logger.Warn().Err(err).Msg("write failed")
			return
		}
		if err := w.Flush(); err != nil {
			logger.Warn().Err(err).Msg("flush failed")
			return
		}
	}
}

// readLine 读取一行，超过 MaxLineLength 时丢弃整行并返回 ErrLineTooLong
func readLine(r *bufio.Reader) (string, error) {
	line, isPrefix, err := r.ReadLine()
	if err != nil {
		return "", err
	}
	if !isPrefix {
		return string(line), nil
	}
	for isPrefix {
		if _, isPrefix, err = r.ReadLine(); err != nil {
			return "", err
		}
	}
	return "", ErrLineTooLong
}

func (s *Server) handleLine(line string) string {
	raw, err := ParseFrame(line)
	if err != nil {
		s.metrics.InvalidLine()
		s.logger.Debug().Str("line", line).Err(err).Msg("invalid line")
		return "ERR " + err.Error()
	}
	return FormatFrame(s.handler.HandleFrame(raw))
}

// ParseFrame 解析一行十六进制文本，允许空格与 0x 前缀
func ParseFrame(line string) ([]byte, error) {
	fields := strings.Fields(line)
	for i, f := range fields {
		fields[i] = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
	}
	b, err := hex.DecodeString(strings.Join(fields, ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hex frame: %w", err)
	}
	return b, nil
}

// FormatFrame 输出大写、空格分隔的十六进制
func FormatFrame(b []byte) string {
	return fmt.Sprintf("% 02X", b)
}
