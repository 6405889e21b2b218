package config

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/LoveWonYoung/vecu/uds"
)

// EnvConfigPath 指定 CLI 读取的配置文件
const EnvConfigPath = "VECU_CONFIG"

// hexValuePrefix 标记以十六进制书写的 DID 值
const hexValuePrefix = "hex:"

type Config struct {
	ECU     ECU     `toml:"ecu" yaml:"ecu"`
	Gateway Gateway `toml:"gateway" yaml:"gateway"`
	Log     Log     `toml:"log" yaml:"log"`
}

type ECU struct {
	ID                  string `toml:"id" yaml:"id"`
	EchoServiceID       bool   `toml:"echo_service_id" yaml:"echo_service_id"`
	BareTransportErrors bool   `toml:"bare_transport_errors" yaml:"bare_transport_errors"`

	// DataIdentifiers 键为 "0x0102" 形式，值为字符串或 "hex:" 前缀的字节
	DataIdentifiers map[string]string `toml:"data_identifiers" yaml:"data_identifiers"`
	FaultCodes      []string          `toml:"fault_codes" yaml:"fault_codes"`

	Image Image `toml:"image" yaml:"image"`
}

// Image 标定镜像；Key/Tag 为十六进制，留空则不校验
type Image struct {
	Path string `toml:"path" yaml:"path"`
	Key  string `toml:"key" yaml:"key"`
	Tag  string `toml:"tag" yaml:"tag"`
}

type Gateway struct {
	Listen          string  `toml:"listen" yaml:"listen"`
	MetricsListen   string  `toml:"metrics_listen" yaml:"metrics_listen"`
	FramesPerSecond float64 `toml:"frames_per_second" yaml:"frames_per_second"`
	Burst           int     `toml:"burst" yaml:"burst"`
}

type Log struct {
	Level   string `toml:"level" yaml:"level"`
	Dir     string `toml:"dir" yaml:"dir"`
	NoColor bool   `toml:"no_color" yaml:"no_color"`
}

func Default() *Config {
	return &Config{
		ECU: ECU{
			ID:              "ECU_001",
			DataIdentifiers: map[string]string{},
		},
		Gateway: Gateway{
			Listen:          "127.0.0.1:13400",
			FramesPerSecond: 0,
			Burst:           1,
		},
		Log: Log{Level: "info"},
	}
}

// Load 按扩展名读取 TOML 或 YAML 配置，应用环境变量覆盖并校验
func Load(path string) (*Config, error) {
	cfg := Default()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("load config: unknown keys: %s", strings.Join(keys, ", "))
		}
		if meta.IsDefined("ecu", "image", "path") {
			cfg.ECU.Image.Path = resolve(path, cfg.ECU.Image.Path)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if cfg.ECU.Image.Path != "" {
			cfg.ECU.Image.Path = resolve(path, cfg.ECU.Image.Path)
		}
	default:
		return nil, fmt.Errorf("load config: unsupported extension %q", ext)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve 相对路径以配置文件所在目录为基准
func resolve(configPath, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// ApplyEnvOverrides maps VECU_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VECU_ECU_ID"); v != "" {
		cfg.ECU.ID = v
	}
	if v := os.Getenv("VECU_GATEWAY_LISTEN"); v != "" {
		cfg.Gateway.Listen = v
	}
	if v := os.Getenv("VECU_METRICS_LISTEN"); v != "" {
		cfg.Gateway.MetricsListen = v
	}
	if v := os.Getenv("VECU_LOG_DIR"); v != "" {
		cfg.Log.Dir = v
	}
}

// ParseDataIdentifier 解析 "0x0102" 或 "F190"
func ParseDataIdentifier(s string) (uint16, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	v, err := strconv.ParseUint(raw, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid data identifier %q: %w", s, err)
	}
	return uint16(v), nil
}

// ParseValue 解析 DID 值: "hex:" 前缀按十六进制解码，否则按原样取字节
func ParseValue(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, hexValuePrefix); ok {
		b, err := hex.DecodeString(strings.ReplaceAll(rest, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid hex value %q: %w", s, err)
		}
		return b, nil
	}
	return []byte(s), nil
}

// ParsedDataIdentifiers 返回解析后的 DID 表
func (e ECU) ParsedDataIdentifiers() (map[uint16][]byte, error) {
	out := make(map[uint16][]byte, len(e.DataIdentifiers))
	for k, v := range e.DataIdentifiers {
		id, err := ParseDataIdentifier(k)
		if err != nil {
			return nil, err
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("duplicate data identifier 0x%04X", id)
		}
		value, err := ParseValue(v)
		if err != nil {
			return nil, fmt.Errorf("data identifier 0x%04X: %w", id, err)
		}
		out[id] = value
	}
	return out, nil
}

// ParsedFaultCodes 按配置顺序返回故障码
func (e ECU) ParsedFaultCodes() ([]uds.FaultCode, error) {
	out := make([]uds.FaultCode, 0, len(e.FaultCodes))
	for _, s := range e.FaultCodes {
		code, err := uds.ParseFaultCode(s)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}

// Signed 报告镜像是否需要校验
func (i Image) Signed() bool {
	return i.Key != "" || i.Tag != ""
}

func (i Image) ParsedKey() ([]byte, error) {
	return decodeHexField("ecu.image.key", i.Key)
}

func (i Image) ParsedTag() ([]byte, error) {
	return decodeHexField("ecu.image.tag", i.Tag)
}

func decodeHexField(name, s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}
