package ecu

import (
	"fmt"

	"github.com/LoveWonYoung/vecu/calibration"
	"github.com/LoveWonYoung/vecu/config"
)

// FromConfig 按配置创建 ECU。DID 先取自标定镜像，再由显式配置覆盖，最后追加故障码。
func FromConfig(c config.ECU, opts ...Option) (*ECU, error) {
	if c.EchoServiceID {
		opts = append(opts, WithEchoServiceID())
	}
	if c.BareTransportErrors {
		opts = append(opts, WithBareTransportErrors())
	}

	dids, err := c.ParsedDataIdentifiers()
	if err != nil {
		return nil, fmt.Errorf("ecu %s: %w", c.ID, err)
	}
	codes, err := c.ParsedFaultCodes()
	if err != nil {
		return nil, fmt.Errorf("ecu %s: %w", c.ID, err)
	}

	var imageDIDs map[uint16][]byte
	if c.Image.Path != "" {
		imageDIDs, err = loadImage(c.Image)
		if err != nil {
			return nil, fmt.Errorf("ecu %s: %w", c.ID, err)
		}
	}

	e := New(c.ID, opts...)
	for id, v := range imageDIDs {
		e.SetDataIdentifier(id, v)
	}
	for id, v := range dids {
		e.SetDataIdentifier(id, v)
	}
	for _, code := range codes {
		e.AddFaultCode(code)
	}
	return e, nil
}

func loadImage(c config.Image) (map[uint16][]byte, error) {
	img, err := calibration.LoadFile(c.Path)
	if err != nil {
		return nil, err
	}
	if c.Signed() {
		key, err := c.ParsedKey()
		if err != nil {
			return nil, err
		}
		tag, err := c.ParsedTag()
		if err != nil {
			return nil, err
		}
		if err := img.Verify(key, tag); err != nil {
			return nil, fmt.Errorf("%s: %w", c.Path, err)
		}
	}
	return img.DataIdentifiers(), nil
}
