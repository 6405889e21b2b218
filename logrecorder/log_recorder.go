package logrecorder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "VECU_LOG_LEVEL"
	EnvLogTimestamp = "VECU_LOG_TIMESTAMP"
	EnvLogNoColor   = "VECU_LOG_NOCOLOR"
)

// Options 描述日志输出
type Options struct {
	Name      string        // 日志文件前缀名
	Level     string        // trace/debug/info/warn/error/disabled
	Dir       string        // 非空时同时写入 Dir/YYYY_MM_DD/<Name><时间>.log
	Rotate    time.Duration // 文件轮换间隔，0 表示不轮换
	NoColor   bool
	Timestamp bool
	Console   io.Writer // 默认 os.Stderr
}

// NowString 返回当前时间格式为 "20060102_1504" 的字符串
func NowString() string {
	return time.Now().Format("20060102_1504")
}

// MakeDir 在 base 下创建以日期命名的目录（如：2025_04_25）
func MakeDir(base string) (string, error) {
	now := time.Now()
	dirName := fmt.Sprintf("%d_%02d_%02d", now.Year(), now.Month(), now.Day())
	fullPath := filepath.Join(base, dirName)

	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", fmt.Errorf("创建文件夹失败: %w", err)
	}
	return fullPath, nil
}

// New 构造 zerolog.Logger。返回的 io.Closer 关闭日志文件，未写文件时为空操作。
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	applyEnvOverrides(&opts)

	level, ok := ParseLevel(opts.Level)
	if !ok && opts.Level != "" {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("未知日志级别: %q", opts.Level)
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        console,
		NoColor:    opts.NoColor,
		TimeFormat: time.RFC3339,
	}}

	var closer io.Closer = nopCloser{}
	if opts.Dir != "" {
		f, err := newRotatingFile(opts.Dir, opts.Name, opts.Rotate)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, err
		}
		writers = append(writers, f)
		closer = f
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With()
	if opts.Timestamp {
		ctx = ctx.Timestamp()
	}
	if opts.Name != "" {
		ctx = ctx.Str("app", opts.Name)
	}
	return ctx.Logger(), closer, nil
}

func applyEnvOverrides(opts *Options) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		opts.Level = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		opts.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		opts.NoColor = v
	}
}

// ParseLevel 解析日志级别名，空串返回 info 与 false
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// rotatingFile 每隔 interval 以新的时间戳重新创建日志文件
type rotatingFile struct {
	mu       sync.Mutex
	base     string
	name     string
	interval time.Duration
	opened   time.Time
	f        *os.File
	errOut   io.Writer // 轮换失败提示，默认 os.Stderr
}

func newRotatingFile(base, name string, interval time.Duration) (*rotatingFile, error) {
	r := &rotatingFile{base: base, name: name, interval: interval, errOut: os.Stderr}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rotatingFile) open() error {
	dir, err := MakeDir(r.base)
	if err != nil {
		return err
	}
	logPath := filepath.Join(dir, fmt.Sprintf("%s%s.log", r.name, NowString()))
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	if r.f != nil {
		r.f.Close()
	}
	r.f = f
	r.opened = time.Now()
	return nil
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return 0, os.ErrClosed
	}
	if r.interval > 0 && time.Since(r.opened) >= r.interval {
		if err := r.open(); err != nil {
			// 继续写旧文件，下个周期再试
			fmt.Fprintf(r.errOut, "logrecorder: 日志轮换失败，继续写入 %s: %v\n", r.f.Name(), err)
			r.opened = time.Now()
		}
	}
	return r.f.Write(p)
}

func (r *rotatingFile) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return ""
	}
	return r.f.Name()
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
