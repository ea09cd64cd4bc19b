// Package zaperr implements an interface for structured errors similar
// to zap's interface for structured logging: an error that also knows
// how to lay itself out as zap fields, so call sites can log it without
// re-deriving the key/value pairs that produced it.
package zaperr

import "go.uber.org/zap/zapcore"

// ZapError is a message plus a flat list of alternating key/value pairs.
type ZapError struct {
	msg string
	kv  []interface{}
}

// Errorw builds a ZapError. kv must be an even-length list of alternating
// string keys and values.
func Errorw(msg string, kv ...interface{}) ZapError {
	return ZapError{msg: msg, kv: kv}
}

// Error implements the error interface.
func (e ZapError) Error() string { return e.msg }

// MarshalLogObject implements zapcore.ObjectMarshaler so e can be passed to
// zap.Any/zap.Object without losing its structure.
func (e ZapError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("msg", e.msg)
	for i := 0; i+1 < len(e.kv); i += 2 {
		key, ok := e.kv[i].(string)
		if !ok {
			continue
		}
		enc.AddReflected(key, e.kv[i+1])
	}
	return nil
}
