package logger

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset  = "\x1b[0m"
	colorBold   = "\x1b[1m"
	colorTime   = "\x1b[38;5;109m"
	colorWarn   = "\x1b[38;5;214m"
	colorError  = "\x1b[38;5;167m"
	colorField  = "\x1b[38;5;108m"
)

// minimalEncoder implements a calm, compact console encoder.
// Format: "13:04:35  Client connected  symbol=ws address=127.0.0.1:52289"
type minimalEncoder struct {
	zapcore.Encoder
}

func newMinimalEncoder() *minimalEncoder {
	return &minimalEncoder{
		Encoder: zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
	}
}

func (enc *minimalEncoder) Clone() zapcore.Encoder {
	return &minimalEncoder{Encoder: enc.Encoder.Clone()}
}

func (enc *minimalEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	final := buffer.NewPool().Get()

	final.AppendString(colorTime)
	final.AppendString(ent.Time.Format("15:04:05"))
	final.AppendString(colorReset)

	if lvl := levelTag(ent.Level); lvl != "" {
		final.AppendString("  ")
		final.AppendString(lvl)
	}

	final.AppendString("  ")
	final.AppendString(ent.Message)

	if kv := formatFields(fields); kv != "" {
		final.AppendString("  ")
		final.AppendString(kv)
	}

	final.AppendString("\n")
	return final, nil
}

func levelTag(level zapcore.Level) string {
	switch level {
	case zapcore.WarnLevel:
		return colorBold + colorWarn + "WARN" + colorReset
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return colorBold + colorError + level.CapitalString() + colorReset
	default:
		return ""
	}
}

func fieldValue(f zapcore.Field) string {
	switch f.Type {
	case zapcore.StringType:
		return f.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return fmt.Sprintf("%d", f.Integer)
	case zapcore.BoolType:
		return fmt.Sprintf("%t", f.Integer == 1)
	case zapcore.DurationType:
		return fmt.Sprintf("%v", f.Integer)
	default:
		if f.Interface != nil {
			return fmt.Sprintf("%v", f.Interface)
		}
		return ""
	}
}

// formatFields renders structured fields as sorted "key=value" pairs so
// output is stable and grep-able without flattening into JSON.
func formatFields(fields []zapcore.Field) string {
	if len(fields) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(fields))
	for _, f := range fields {
		val := fieldValue(f)
		if val == "" {
			continue
		}
		pairs = append(pairs, f.Key+"="+colorField+val+colorReset)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, " ")
}
