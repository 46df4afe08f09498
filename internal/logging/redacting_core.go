package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"workflowsweep/internal/redact"

	"go.uber.org/zap/zapcore"
)

// redactingCore scrubs registered secrets from messages and fields before they
// reach the wrapped core. Arrays, objects and reflected values that contain a
// secret are flattened to their redacted JSON string.
type redactingCore struct {
	zapcore.Core
	r *redact.Redactor
}

func NewRedactingCore(core zapcore.Core, r *redact.Redactor) zapcore.Core {
	return &redactingCore{Core: core, r: r}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(c.scrub(fields)), r: c.r}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = c.r.Redact(ent.Message)
	return c.Core.Write(ent, c.scrub(fields))
}

func (c *redactingCore) scrub(fields []zapcore.Field) []zapcore.Field {
	if len(fields) == 0 || c.r.Len() == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			f.String = c.r.Redact(f.String)
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok && err != nil {
				f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: c.r.Redact(err.Error())}
			}
		case zapcore.StringerType:
			if s, ok := f.Interface.(fmt.Stringer); ok && s != nil {
				f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: c.r.Redact(s.String())}
			}
		case zapcore.ByteStringType:
			if b, ok := f.Interface.([]byte); ok {
				f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: c.r.Redact(string(b))}
			}
		case zapcore.ArrayMarshalerType, zapcore.ObjectMarshalerType, zapcore.ReflectType:
			if enc, ok := encodeField(f); ok {
				if red := c.r.Redact(enc); red != enc {
					f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: red}
				}
			}
		}
		out[i] = f
	}
	return out
}

func encodeField(f zapcore.Field) (string, bool) {
	m := zapcore.NewMapObjectEncoder()
	f.AddTo(m)
	v, ok := m.Fields[f.Key]
	if !ok {
		return "", false
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", false
	}
	return string(bytes.TrimSpace(buf.Bytes())), true
}
