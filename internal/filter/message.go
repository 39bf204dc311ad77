package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/tkingovr/quotaguard/api"
	"github.com/tkingovr/quotaguard/internal/router"
)

// ActiveMessage is one message travelling through a chain.
type ActiveMessage struct {
	chain    *Chain
	streamID uint64
	metadata *api.MessageMetadata
	body     json.RawMessage
	info     *api.StreamInfo
	sink     Sink
	filters  []*activeFilter

	steps     []step
	stepIdx   int
	filterIdx int
	stoppedBy *activeFilter
	running   bool

	route         router.Route
	routeResolved bool

	done    bool
	outcome api.Outcome
	reply   api.DirectResponse
	errMsg  string
	endTime time.Time
}

type step struct {
	name string
	call func(f DecoderFilter) FilterStatus
}

func (m *ActiveMessage) StreamID() uint64               { return m.streamID }
func (m *ActiveMessage) Metadata() *api.MessageMetadata { return m.metadata }
func (m *ActiveMessage) Body() json.RawMessage          { return m.body }
func (m *ActiveMessage) StreamInfo() *api.StreamInfo    { return m.info }

// Done reports whether the message reached a final outcome.
func (m *ActiveMessage) Done() bool { return m.done }

// Outcome returns the final outcome. Only meaningful once Done.
func (m *ActiveMessage) Outcome() api.Outcome { return m.outcome }

// Reply returns the local reply, if one was sent.
func (m *ActiveMessage) Reply() api.DirectResponse { return m.reply }

// Err returns the forwarding or decoding error text, if any.
func (m *ActiveMessage) Err() string { return m.errMsg }

// Duration is the time from stream start until the outcome.
func (m *ActiveMessage) Duration() time.Duration {
	if m.endTime.IsZero() {
		return 0
	}
	return m.endTime.Sub(m.info.StartTime)
}

// Suspended reports whether a filter stopped the message and has not
// resumed it yet.
func (m *ActiveMessage) Suspended() bool { return !m.done && m.stoppedBy != nil }

// Start runs the filters until the message is forwarded, answered locally
// or suspended.
func (m *ActiveMessage) Start() {
	if m.steps != nil || m.done {
		return
	}
	steps, err := m.buildSteps()
	if err != nil {
		m.errMsg = err.Error()
		m.localReply(api.NewAppException(api.AppExceptionProtocolError, err.Error()))
		return
	}
	m.steps = steps
	m.run()
}

// Reset tears the message down without a response, e.g. when the
// downstream connection closes while a filter holds it.
func (m *ActiveMessage) Reset() {
	if m.done {
		return
	}
	m.chain.logger.Debug("message reset", "stream", m.streamID)
	m.finish(api.OutcomeDropped)
}

func (m *ActiveMessage) run() {
	m.running = true
	defer func() { m.running = false }()

	for m.stepIdx < len(m.steps) {
		s := m.steps[m.stepIdx]
		for m.filterIdx < len(m.filters) {
			af := m.filters[m.filterIdx]
			status := s.call(af.filter)
			m.chain.logger.Debug("filter executed",
				"filter", af.name,
				"stream", m.streamID,
				"hook", s.name,
				"status", status.String(),
			)
			if m.done {
				return
			}
			m.filterIdx++
			if status == StopIteration {
				m.stoppedBy = af
				return
			}
		}
		m.filterIdx = 0
		m.stepIdx++
	}

	m.forward()
}

func (m *ActiveMessage) forward() {
	if err := m.sink.Forward(m); err != nil {
		m.errMsg = err.Error()
		m.info.SetResponseFlag(api.UpstreamConnectionFailure)
		m.chain.logger.Warn("forwarding failed", "stream", m.streamID, "error", err)
		m.finish(api.OutcomeDropped)
		return
	}
	m.finish(api.OutcomeForwarded)
}

func (m *ActiveMessage) localReply(resp api.DirectResponse) {
	m.reply = resp
	m.sink.LocalReply(m, resp)
	m.finish(api.OutcomeLocalReply)
}

func (m *ActiveMessage) finish(outcome api.Outcome) {
	m.done = true
	m.outcome = outcome
	m.stoppedBy = nil
	m.endTime = time.Now()
	for _, af := range m.filters {
		af.filter.OnDestroy()
	}
	m.sink.Finished(m)
}

func (m *ActiveMessage) resolveRoute() router.Route {
	if !m.routeResolved {
		m.routeResolved = true
		if m.chain.router != nil {
			m.route = m.chain.router.Route(m.metadata)
		}
	}
	return m.route
}

func (m *ActiveMessage) passthrough() bool {
	for _, af := range m.filters {
		if !af.filter.PassthroughSupported() {
			return false
		}
	}
	return true
}

func (m *ActiveMessage) buildSteps() ([]step, error) {
	md := m.metadata
	steps := []step{
		{"transport_begin", func(f DecoderFilter) FilterStatus { return f.TransportBegin(md) }},
		{"message_begin", func(f DecoderFilter) FilterStatus { return f.MessageBegin(md) }},
	}

	if m.passthrough() {
		body := []byte(m.body)
		steps = append(steps, step{"passthrough_data", func(f DecoderFilter) FilterStatus { return f.PassthroughData(body) }})
	} else {
		b := &stepBuilder{}
		if err := b.body(m.body); err != nil {
			return nil, err
		}
		steps = append(steps, b.steps...)
	}

	return append(steps,
		step{"message_end", func(f DecoderFilter) FilterStatus { return f.MessageEnd() }},
		step{"transport_end", func(f DecoderFilter) FilterStatus { return f.TransportEnd() }},
	), nil
}

// stepBuilder turns a JSON body into structured decode events. A JSON
// array is an argument list with one field per element; any other value is
// a single field.
type stepBuilder struct {
	steps []step
}

func (b *stepBuilder) add(name string, call func(f DecoderFilter) FilterStatus) {
	b.steps = append(b.steps, step{name: name, call: call})
}

func (b *stepBuilder) body(raw json.RawMessage) error {
	var args []any
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("decoding message body: %w", err)
		}
		if dec.More() {
			return fmt.Errorf("decoding message body: trailing data")
		}
		if list, ok := v.([]any); ok {
			args = list
		} else {
			args = []any{v}
		}
	}

	b.add("struct_begin", func(f DecoderFilter) FilterStatus { return f.StructBegin("") })
	for i, arg := range args {
		if arg == nil {
			continue
		}
		ft := fieldTypeOf(arg)
		id := int16(i + 1)
		b.add("field_begin", func(f DecoderFilter) FilterStatus {
			t, fid := ft, id
			return f.FieldBegin("", &t, &fid)
		})
		b.value(arg)
		b.add("field_end", func(f DecoderFilter) FilterStatus { return f.FieldEnd() })
	}
	b.add("struct_end", func(f DecoderFilter) FilterStatus { return f.StructEnd() })
	return nil
}

func (b *stepBuilder) value(v any) {
	switch val := v.(type) {
	case bool:
		b.add("bool_value", func(f DecoderFilter) FilterStatus {
			x := val
			return f.BoolValue(&x)
		})
	case json.Number:
		if i, err := val.Int64(); err == nil {
			b.add("int64_value", func(f DecoderFilter) FilterStatus {
				x := i
				return f.Int64Value(&x)
			})
			return
		}
		d, _ := val.Float64()
		b.add("double_value", func(f DecoderFilter) FilterStatus {
			x := d
			return f.DoubleValue(&x)
		})
	case string:
		b.add("string_value", func(f DecoderFilter) FilterStatus { return f.StringValue(val) })
	case []any:
		elem := elemType(val)
		size := uint32(len(val))
		b.add("list_begin", func(f DecoderFilter) FilterStatus {
			t, n := elem, size
			return f.ListBegin(&t, &n)
		})
		for _, item := range val {
			b.value(item)
		}
		b.add("list_end", func(f DecoderFilter) FilterStatus { return f.ListEnd() })
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		values := make([]any, len(keys))
		for i, k := range keys {
			values[i] = val[k]
		}
		elem := elemType(values)
		size := uint32(len(keys))
		b.add("map_begin", func(f DecoderFilter) FilterStatus {
			kt, vt, n := api.FieldTypeString, elem, size
			return f.MapBegin(&kt, &vt, &n)
		})
		for i, k := range keys {
			b.add("string_value", func(f DecoderFilter) FilterStatus { return f.StringValue(k) })
			b.value(values[i])
		}
		b.add("map_end", func(f DecoderFilter) FilterStatus { return f.MapEnd() })
	case nil:
		b.add("string_value", func(f DecoderFilter) FilterStatus { return f.StringValue("") })
	}
}

func fieldTypeOf(v any) api.FieldType {
	switch val := v.(type) {
	case bool:
		return api.FieldTypeBool
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return api.FieldTypeI64
		}
		return api.FieldTypeDouble
	case string, nil:
		return api.FieldTypeString
	case []any:
		return api.FieldTypeList
	case map[string]any:
		return api.FieldTypeMap
	}
	return api.FieldTypeStop
}

// elemType is the type of the first element, or string for an empty
// container.
func elemType(vs []any) api.FieldType {
	if len(vs) == 0 {
		return api.FieldTypeString
	}
	return fieldTypeOf(vs[0])
}

// activeFilter is the callbacks object handed to a single filter.
type activeFilter struct {
	msg    *ActiveMessage
	name   string
	filter DecoderFilter
}

var _ DecoderFilterCallbacks = (*activeFilter)(nil)

func (af *activeFilter) StreamID() uint64            { return af.msg.streamID }
func (af *activeFilter) Route() router.Route         { return af.msg.resolveRoute() }
func (af *activeFilter) StreamInfo() *api.StreamInfo { return af.msg.info }

func (af *activeFilter) SendLocalReply(resp api.DirectResponse, _ bool) {
	m := af.msg
	if m.done {
		return
	}
	m.chain.logger.Debug("local reply",
		"filter", af.name,
		"stream", m.streamID,
		"type", resp.ResponseType(),
		"message", resp.ResponseMessage(),
	)
	m.localReply(resp)
}

func (af *activeFilter) ContinueDecoding() {
	m := af.msg
	if m.done || m.running || m.stoppedBy != af {
		m.chain.logger.Debug("ignoring continue", "filter", af.name, "stream", m.streamID)
		return
	}
	m.stoppedBy = nil
	m.run()
}
