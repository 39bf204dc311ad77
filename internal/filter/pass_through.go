package filter

import "github.com/tkingovr/quotaguard/api"

// PassThroughDecoderFilter continues at every decoding state. Concrete
// filters embed it and override only the hooks they care about.
type PassThroughDecoderFilter struct {
	DecoderCallbacks DecoderFilterCallbacks
}

var _ DecoderFilter = (*PassThroughDecoderFilter)(nil)

func (f *PassThroughDecoderFilter) OnDestroy() {}

func (f *PassThroughDecoderFilter) SetDecoderFilterCallbacks(cb DecoderFilterCallbacks) {
	f.DecoderCallbacks = cb
}

func (f *PassThroughDecoderFilter) TransportBegin(*api.MessageMetadata) FilterStatus { return Continue }
func (f *PassThroughDecoderFilter) TransportEnd() FilterStatus                       { return Continue }

func (f *PassThroughDecoderFilter) PassthroughSupported() bool          { return true }
func (f *PassThroughDecoderFilter) PassthroughData([]byte) FilterStatus { return Continue }

func (f *PassThroughDecoderFilter) MessageBegin(*api.MessageMetadata) FilterStatus { return Continue }
func (f *PassThroughDecoderFilter) MessageEnd() FilterStatus                       { return Continue }

func (f *PassThroughDecoderFilter) StructBegin(string) FilterStatus { return Continue }
func (f *PassThroughDecoderFilter) StructEnd() FilterStatus         { return Continue }

func (f *PassThroughDecoderFilter) FieldBegin(string, *api.FieldType, *int16) FilterStatus {
	return Continue
}
func (f *PassThroughDecoderFilter) FieldEnd() FilterStatus { return Continue }

func (f *PassThroughDecoderFilter) BoolValue(*bool) FilterStatus      { return Continue }
func (f *PassThroughDecoderFilter) ByteValue(*uint8) FilterStatus     { return Continue }
func (f *PassThroughDecoderFilter) Int16Value(*int16) FilterStatus    { return Continue }
func (f *PassThroughDecoderFilter) Int32Value(*int32) FilterStatus    { return Continue }
func (f *PassThroughDecoderFilter) Int64Value(*int64) FilterStatus    { return Continue }
func (f *PassThroughDecoderFilter) DoubleValue(*float64) FilterStatus { return Continue }
func (f *PassThroughDecoderFilter) StringValue(string) FilterStatus   { return Continue }

func (f *PassThroughDecoderFilter) MapBegin(_, _ *api.FieldType, _ *uint32) FilterStatus {
	return Continue
}
func (f *PassThroughDecoderFilter) MapEnd() FilterStatus { return Continue }

func (f *PassThroughDecoderFilter) ListBegin(*api.FieldType, *uint32) FilterStatus { return Continue }
func (f *PassThroughDecoderFilter) ListEnd() FilterStatus                          { return Continue }

func (f *PassThroughDecoderFilter) SetBegin(*api.FieldType, *uint32) FilterStatus { return Continue }
func (f *PassThroughDecoderFilter) SetEnd() FilterStatus                          { return Continue }
