// Package telemetry publishes hand snapshots periodically.
package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"

	"github.com/robotalks/etee.go/pkg/etee"
)

// Format is the payload encoding.
type Format int

// Formats.
const (
	JSON Format = iota
	Proto
)

func (f Format) String() string {
	switch f {
	case JSON:
		return "json"
	case Proto:
		return "proto"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ParseFormat parses "json" or "proto".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return JSON, nil
	case "proto", "protobuf", "pb":
		return Proto, nil
	}
	return JSON, fmt.Errorf("unknown format %q", s)
}

// Encode encodes a snapshot. Proto payloads are serialized
// google.protobuf.Struct messages with the same fields as JSON.
func Encode(s etee.Snapshot, format Format) ([]byte, error) {
	switch format {
	case JSON:
		return json.Marshal(s)
	case Proto:
		return proto.Marshal(SnapshotStruct(s))
	}
	return nil, fmt.Errorf("unknown format %d", int(format))
}

// Decode decodes a payload produced by Encode.
func Decode(data []byte, format Format) (s etee.Snapshot, err error) {
	switch format {
	case JSON:
		err = json.Unmarshal(data, &s)
		return
	case Proto:
		var st structpb.Struct
		if err = proto.Unmarshal(data, &st); err != nil {
			return
		}
		return StructSnapshot(&st)
	}
	return s, fmt.Errorf("unknown format %d", int(format))
}

func numberValue(v float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: v}}
}

func stringValue(v string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: v}}
}

func boolValue(v bool) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_BoolValue{BoolValue: v}}
}

func listValue(vals ...*structpb.Value) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_ListValue{ListValue: &structpb.ListValue{Values: vals}}}
}

func structValue(fields map[string]*structpb.Value) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StructValue{StructValue: &structpb.Struct{Fields: fields}}}
}

func anyValue(v interface{}) *structpb.Value {
	switch val := v.(type) {
	case int64:
		return numberValue(float64(val))
	case []int64:
		vals := make([]*structpb.Value, len(val))
		for n, i := range val {
			vals[n] = numberValue(float64(i))
		}
		return listValue(vals...)
	case float64:
		return numberValue(val)
	case bool:
		return boolValue(val)
	case string:
		return stringValue(val)
	}
	return stringValue(fmt.Sprint(v))
}

// SnapshotStruct converts a snapshot into a protobuf Struct.
func SnapshotStruct(s etee.Snapshot) *structpb.Struct {
	q := make([]*structpb.Value, len(s.Quaternion))
	for n, v := range s.Quaternion {
		q[n] = numberValue(v)
	}
	fields := map[string]*structpb.Value{
		"hand":       stringValue(s.Hand),
		"on":         boolValue(s.On),
		"frame_no":   numberValue(float64(s.FrameNo)),
		"last_seen":  stringValue(s.LastSeen.Format(time.RFC3339Nano)),
		"quaternion": listValue(q...),
		"euler": structValue(map[string]*structpb.Value{
			"roll":  numberValue(s.Euler.Roll),
			"pitch": numberValue(s.Euler.Pitch),
			"yaw":   numberValue(s.Euler.Yaw),
		}),
	}
	if len(s.Values) > 0 {
		values := make(map[string]*structpb.Value, len(s.Values))
		for name, v := range s.Values {
			values[name] = anyValue(v)
		}
		fields["values"] = structValue(values)
	}
	return &structpb.Struct{Fields: fields}
}

func plainValue(v *structpb.Value) interface{} {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return k.NumberValue
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_BoolValue:
		return k.BoolValue
	case *structpb.Value_ListValue:
		vals := make([]interface{}, len(k.ListValue.GetValues()))
		for n, item := range k.ListValue.GetValues() {
			vals[n] = plainValue(item)
		}
		return vals
	case *structpb.Value_StructValue:
		m := make(map[string]interface{}, len(k.StructValue.GetFields()))
		for name, item := range k.StructValue.GetFields() {
			m[name] = plainValue(item)
		}
		return m
	}
	return nil
}

// StructSnapshot converts a Struct produced by SnapshotStruct back. Values
// are decoded as float64 or []interface{} like JSON.
func StructSnapshot(st *structpb.Struct) (s etee.Snapshot, err error) {
	f := st.GetFields()
	s.Hand = f["hand"].GetStringValue()
	s.On = f["on"].GetBoolValue()
	s.FrameNo = int64(f["frame_no"].GetNumberValue())
	if ts := f["last_seen"].GetStringValue(); ts != "" {
		if s.LastSeen, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return s, fmt.Errorf("last_seen: %w", err)
		}
	}
	q := f["quaternion"].GetListValue().GetValues()
	if len(q) != len(s.Quaternion) {
		return s, fmt.Errorf("quaternion: expecting %d values, got %d", len(s.Quaternion), len(q))
	}
	for n, v := range q {
		s.Quaternion[n] = v.GetNumberValue()
	}
	euler := f["euler"].GetStructValue().GetFields()
	s.Euler.Roll = euler["roll"].GetNumberValue()
	s.Euler.Pitch = euler["pitch"].GetNumberValue()
	s.Euler.Yaw = euler["yaw"].GetNumberValue()
	if values := f["values"].GetStructValue().GetFields(); len(values) > 0 {
		s.Values = make(map[string]interface{}, len(values))
		for name, v := range values {
			s.Values[name] = plainValue(v)
		}
	}
	return s, nil
}
