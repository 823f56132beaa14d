package logsink

import (
	"fmt"
	"log/slog"
	"time"
)

// flattenAttr adds attr to dst, prefixing keys with the enclosing groups and
// expanding nested groups.
func flattenAttr(dst map[string]any, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	key := attr.Key
	switch {
	case prefix != "" && key != "":
		key = prefix + "." + key
	case key == "":
		key = prefix
	}

	v := attr.Value
	switch v.Kind() {
	case slog.KindGroup:
		for _, member := range v.Group() {
			flattenAttr(dst, key, member)
		}
	case slog.KindString:
		dst[key] = v.String()
	case slog.KindInt64:
		dst[key] = v.Int64()
	case slog.KindUint64:
		dst[key] = v.Uint64()
	case slog.KindFloat64:
		dst[key] = v.Float64()
	case slog.KindBool:
		dst[key] = v.Bool()
	case slog.KindDuration:
		dst[key] = v.Duration().String()
	case slog.KindTime:
		dst[key] = v.Time().UTC().Format(time.RFC3339Nano)
	default:
		if err, ok := v.Any().(error); ok {
			dst[key] = err.Error()
			return
		}
		dst[key] = fmt.Sprint(v.Any())
	}
}
