package fnapi

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldEntries   = "log_entries"
	fieldSeverity  = "severity"
	fieldTimestamp = "timestamp"
	fieldMessage   = "message"
	fieldLocation  = "log_location"
	fieldFields    = "fields"
)

// LogEntry is one log record as shipped to the logging service.
type LogEntry struct {
	Severity  string
	Timestamp time.Time
	Message   string
	Location  string
	Fields    map[string]any
}

// Value encodes the entry as a batch element.
func (e LogEntry) Value() *structpb.Value {
	fields := make(map[string]*structpb.Value, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = toValue(v)
	}
	entry := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldSeverity:  structpb.NewStringValue(e.Severity),
		fieldTimestamp: structpb.NewStringValue(e.Timestamp.UTC().Format(time.RFC3339Nano)),
		fieldMessage:   structpb.NewStringValue(e.Message),
		fieldFields:    structpb.NewStructValue(&structpb.Struct{Fields: fields}),
	}}
	if e.Location != "" {
		entry.Fields[fieldLocation] = structpb.NewStringValue(e.Location)
	}
	return structpb.NewStructValue(entry)
}

// NewLogBatch wraps encoded entries in the message sent on the logging stream.
func NewLogBatch(entries []*structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldEntries: structpb.NewListValue(&structpb.ListValue{Values: entries}),
	}}
}

// DecodeLogBatch reads the entries of a batch received on a logging stream.
// An unparsable timestamp leaves Timestamp zero.
func DecodeLogBatch(batch *structpb.Struct) []LogEntry {
	list := batch.GetFields()[fieldEntries].GetListValue()
	entries := make([]LogEntry, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		entry := LogEntry{
			Severity: fields[fieldSeverity].GetStringValue(),
			Message:  fields[fieldMessage].GetStringValue(),
			Location: fields[fieldLocation].GetStringValue(),
			Fields:   fields[fieldFields].GetStructValue().AsMap(),
		}
		if ts, err := time.Parse(time.RFC3339Nano, fields[fieldTimestamp].GetStringValue()); err == nil {
			entry.Timestamp = ts
		}
		entries = append(entries, entry)
	}
	return entries
}

func toValue(v any) *structpb.Value {
	switch x := v.(type) {
	case nil:
		return structpb.NewNullValue()
	case string:
		return structpb.NewStringValue(x)
	case bool:
		return structpb.NewBoolValue(x)
	case int:
		return structpb.NewNumberValue(float64(x))
	case int64:
		return structpb.NewNumberValue(float64(x))
	case uint64:
		return structpb.NewNumberValue(float64(x))
	case float64:
		return structpb.NewNumberValue(x)
	case map[string]any:
		fields := make(map[string]*structpb.Value, len(x))
		for k, item := range x {
			fields[k] = toValue(item)
		}
		return structpb.NewStructValue(&structpb.Struct{Fields: fields})
	case []any:
		values := make([]*structpb.Value, 0, len(x))
		for _, item := range x {
			values = append(values, toValue(item))
		}
		return structpb.NewListValue(&structpb.ListValue{Values: values})
	default:
		return structpb.NewStringValue(fmt.Sprint(x))
	}
}
