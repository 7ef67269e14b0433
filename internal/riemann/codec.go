package riemann

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the Riemann protocol (proto.proto).
const (
	msgFieldOK     protowire.Number = 2
	msgFieldError  protowire.Number = 3
	msgFieldEvents protowire.Number = 6

	eventFieldTime         protowire.Number = 1
	eventFieldState        protowire.Number = 2
	eventFieldService      protowire.Number = 3
	eventFieldHost         protowire.Number = 4
	eventFieldDescription  protowire.Number = 5
	eventFieldTags         protowire.Number = 7
	eventFieldTTL          protowire.Number = 8
	eventFieldAttributes   protowire.Number = 9
	eventFieldMetricSint64 protowire.Number = 13
	eventFieldMetricD      protowire.Number = 14
	eventFieldMetricF      protowire.Number = 15

	attributeFieldKey   protowire.Number = 1
	attributeFieldValue protowire.Number = 2
)

// ErrUnsupportedMetric reports an event metric that is neither int64 nor float64.
var ErrUnsupportedMetric = errors.New("unsupported metric type")

// EncodeMsg serializes events into one Riemann Msg payload.
// Params: events to wrap into repeated Msg.events.
// Returns: protobuf payload or encode error.
func EncodeMsg(events ...*Event) ([]byte, error) {
	var out []byte
	for idx, event := range events {
		if event == nil {
			return nil, fmt.Errorf("encode event[%d]: nil event", idx)
		}
		body, err := appendEvent(nil, event)
		if err != nil {
			return nil, fmt.Errorf("encode event[%d]: %w", idx, err)
		}
		out = protowire.AppendTag(out, msgFieldEvents, protowire.BytesType)
		out = protowire.AppendBytes(out, body)
	}
	return out, nil
}

// EncodeReply serializes a server reply Msg.
// Params: ok flag and optional error text.
// Returns: protobuf payload.
func EncodeReply(ok bool, errText string) []byte {
	var out []byte
	out = protowire.AppendTag(out, msgFieldOK, protowire.VarintType)
	out = protowire.AppendVarint(out, protowire.EncodeBool(ok))
	if errText != "" {
		out = protowire.AppendTag(out, msgFieldError, protowire.BytesType)
		out = protowire.AppendString(out, errText)
	}
	return out
}

// appendEvent appends protobuf encoding of one event.
// Params: b destination buffer; event payload.
// Returns: extended buffer or error for unsupported metric type.
func appendEvent(b []byte, event *Event) ([]byte, error) {
	if event.Time != nil {
		b = protowire.AppendTag(b, eventFieldTime, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*event.Time))
	}
	b = appendOptionalString(b, eventFieldState, event.State)
	b = protowire.AppendTag(b, eventFieldService, protowire.BytesType)
	b = protowire.AppendString(b, event.Service)
	b = appendOptionalString(b, eventFieldHost, event.Host)
	b = appendOptionalString(b, eventFieldDescription, event.Description)
	for _, tag := range event.Tags {
		b = protowire.AppendTag(b, eventFieldTags, protowire.BytesType)
		b = protowire.AppendString(b, tag)
	}
	if event.TTL != nil {
		b = protowire.AppendTag(b, eventFieldTTL, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(*event.TTL))
	}
	for _, attr := range event.Attributes {
		var body []byte
		body = protowire.AppendTag(body, attributeFieldKey, protowire.BytesType)
		body = protowire.AppendString(body, attr.Key)
		body = protowire.AppendTag(body, attributeFieldValue, protowire.BytesType)
		body = protowire.AppendString(body, attr.Value)
		b = protowire.AppendTag(b, eventFieldAttributes, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	}

	switch metric := event.Metric.(type) {
	case int64:
		b = protowire.AppendTag(b, eventFieldMetricSint64, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(metric))
		b = protowire.AppendTag(b, eventFieldMetricF, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(float32(metric)))
	case float64:
		b = protowire.AppendTag(b, eventFieldMetricD, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(metric))
		b = protowire.AppendTag(b, eventFieldMetricF, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(float32(metric)))
	case nil:
	default:
		return nil, fmt.Errorf("%w %T", ErrUnsupportedMetric, metric)
	}

	return b, nil
}

func appendOptionalString(b []byte, num protowire.Number, value *string) []byte {
	if value == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, *value)
}

// DecodeMsg parses one Riemann Msg payload.
// Params: payload protobuf bytes.
// Returns: decoded message or wire error.
func DecodeMsg(payload []byte) (Msg, error) {
	var msg Msg
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == msgFieldOK && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, nil
			}
			ok := protowire.DecodeBool(v)
			msg.OK = &ok
			return n, nil
		case num == msgFieldError && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			msg.Error = v
			return n, nil
		case num == msgFieldEvents && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			event, err := decodeEvent(body)
			if err != nil {
				return 0, fmt.Errorf("decode event[%d]: %w", len(msg.Events), err)
			}
			msg.Events = append(msg.Events, event)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	if err != nil {
		return Msg{}, fmt.Errorf("decode msg: %w", err)
	}
	return msg, nil
}

// decodeEvent parses one embedded Event message.
// Params: payload embedded message bytes.
// Returns: decoded event or wire error.
func decodeEvent(payload []byte) (*Event, error) {
	event := &Event{}
	var (
		sint64Set bool
		sint64Val int64
		doubleSet bool
		doubleVal float64
		floatSet  bool
		floatVal  float32
	)

	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == eventFieldTime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			event.Time = Int64Ptr(int64(v))
			return n, nil
		case num == eventFieldState && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			event.State = StringPtr(v)
			return n, nil
		case num == eventFieldService && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			event.Service = v
			return n, nil
		case num == eventFieldHost && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			event.Host = StringPtr(v)
			return n, nil
		case num == eventFieldDescription && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			event.Description = StringPtr(v)
			return n, nil
		case num == eventFieldTags && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			event.Tags = append(event.Tags, v)
			return n, nil
		case num == eventFieldTTL && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			event.TTL = Float32Ptr(math.Float32frombits(v))
			return n, nil
		case num == eventFieldAttributes && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			attr, err := decodeAttribute(body)
			if err != nil {
				return 0, err
			}
			event.Attributes = append(event.Attributes, attr)
			return n, nil
		case num == eventFieldMetricSint64 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			sint64Set, sint64Val = true, protowire.DecodeZigZag(v)
			return n, nil
		case num == eventFieldMetricD && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			doubleSet, doubleVal = true, math.Float64frombits(v)
			return n, nil
		case num == eventFieldMetricF && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			floatSet, floatVal = true, math.Float32frombits(v)
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	if err != nil {
		return nil, err
	}

	switch {
	case sint64Set:
		event.Metric = sint64Val
	case doubleSet:
		event.Metric = doubleVal
	case floatSet:
		event.Metric = float64(floatVal)
	}
	return event, nil
}

func decodeAttribute(payload []byte) (Attribute, error) {
	var attr Attribute
	err := walkFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == attributeFieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			attr.Key = v
			return n, nil
		case num == attributeFieldValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			attr.Value = v
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return attr, err
}

// walkFields iterates top-level fields of one protobuf message.
// Params: payload message bytes; visit consumes one field value and reports consumed length.
// Returns: first wire or visitor error.
func walkFields(payload []byte, visit func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return protowire.ParseError(n)
		}
		payload = payload[n:]

		consumed, err := visit(num, typ, payload)
		if err != nil {
			return err
		}
		if consumed < 0 {
			return protowire.ParseError(consumed)
		}
		payload = payload[consumed:]
	}
	return nil
}
