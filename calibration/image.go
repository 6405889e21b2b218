// Package calibration stores DID datasets as Intel HEX images.
//
// Every DID occupies the segment starting at address DID<<8 and holds 1 to
// 255 bytes, so neighbouring DIDs never merge into one segment.
package calibration

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/chmike/cmac-go"
	"github.com/marcinbor85/gohex"
)

// MaxValueLength 单个 DID 值的最大长度
const MaxValueLength = 0xFF

const lineLength = 16

var (
	ErrLayout      = errors.New("calibration: segment does not map to a data identifier")
	ErrEmptyValue  = errors.New("calibration: empty data identifier value")
	ErrTagMismatch = errors.New("calibration: image tag mismatch")
)

// Image 是一个已解析的标定镜像
type Image struct {
	mem *gohex.Memory
}

// Load 从 Intel HEX 文本解析镜像并校验布局
func Load(r io.Reader) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("calibration: parse intel hex: %w", err)
	}
	for _, seg := range mem.GetDataSegments() {
		if seg.Address&0xFF != 0 || seg.Address>>8 > 0xFFFF || len(seg.Data) > MaxValueLength {
			return nil, fmt.Errorf("%w: 0x%08X (%d bytes)", ErrLayout, seg.Address, len(seg.Data))
		}
	}
	return &Image{mem: mem}, nil
}

func LoadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// FromDataIdentifiers 由 DID 表构造镜像
func FromDataIdentifiers(dids map[uint16][]byte) (*Image, error) {
	mem := gohex.NewMemory()
	for _, id := range slices.Sorted(maps.Keys(dids)) {
		value := dids[id]
		if len(value) == 0 {
			return nil, fmt.Errorf("%w: 0x%04X", ErrEmptyValue, id)
		}
		if len(value) > MaxValueLength {
			return nil, fmt.Errorf("%w: 0x%04X holds %d bytes", ErrLayout, id, len(value))
		}
		if err := mem.AddBinary(uint32(id)<<8, value); err != nil {
			return nil, fmt.Errorf("calibration: add 0x%04X: %w", id, err)
		}
	}
	return &Image{mem: mem}, nil
}

// DataIdentifiers 返回镜像中的 DID 表
func (img *Image) DataIdentifiers() map[uint16][]byte {
	segs := img.mem.GetDataSegments()
	out := make(map[uint16][]byte, len(segs))
	for _, seg := range segs {
		out[uint16(seg.Address>>8)] = slices.Clone(seg.Data)
	}
	return out
}

// WriteHex 以 Intel HEX 格式输出镜像
func (img *Image) WriteHex(w io.Writer) error {
	return img.mem.DumpIntelHex(w, lineLength)
}

// Sign 计算 AES-CMAC 标签。key 长度为 16/24/32 字节。
func (img *Image) Sign(key []byte) ([]byte, error) {
	mac, err := cmac.New(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("calibration: cmac: %w", err)
	}

	segs := img.mem.GetDataSegments()
	slices.SortFunc(segs, func(a, b gohex.DataSegment) int {
		return int(a.Address>>8) - int(b.Address>>8)
	})

	var hdr [6]byte
	for _, seg := range segs {
		binary.BigEndian.PutUint32(hdr[:4], seg.Address)
		binary.BigEndian.PutUint16(hdr[4:], uint16(len(seg.Data)))
		mac.Write(hdr[:])
		mac.Write(seg.Data)
	}
	return mac.Sum(nil), nil
}

// Verify 校验标签，不一致时返回 ErrTagMismatch
func (img *Image) Verify(key, tag []byte) error {
	sum, err := img.Sign(key)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(sum, tag) != 1 {
		return ErrTagMismatch
	}
	return nil
}
