package tp_layer

import "errors"

// Error classes. Every decode failure matches ErrTransportDecode and every
// encode contract violation matches ErrEncode via errors.Is.
var (
	ErrTransportDecode = errors.New("transport decode error")
	ErrEncode          = errors.New("frame encode error")
)

var (
	ErrEmptyFrame       = &codecError{class: ErrTransportDecode, msg: "empty frame"}
	ErrUnknownFrameKind = &codecError{class: ErrTransportDecode, msg: "unknown frame kind"}

	ErrPayloadTooLarge  = &codecError{class: ErrEncode, msg: "payload too large for a single frame"}
	ErrLengthOutOfRange = &codecError{class: ErrEncode, msg: "first frame length outside 12-bit range"}
)

// messageOrDefault returns msg if present, otherwise fallback.
func messageOrDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

type codecError struct {
	class error
	msg   string
}

func (e *codecError) Error() string {
	return "tp_layer: " + messageOrDefault(e.msg, e.class.Error())
}

func (e *codecError) Unwrap() error {
	return e.class
}
