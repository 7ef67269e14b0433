package riemann

// Event is one Riemann event as sent on the wire.
// Params: optional fields are pointers so absent differs from empty.
// Returns: event payload for Msg encoding.
type Event struct {
	Host        *string
	Service     string
	Metric      any // int64 or float64
	State       *string
	Description *string
	TTL         *float32
	Tags        []string
	Time        *int64
	Attributes  []Attribute
}

// Attribute is one custom key/value pair attached to an event.
type Attribute struct {
	Key   string
	Value string
}

// Msg is the Riemann protocol envelope for requests and replies.
// Params: OK/Error are reply fields; Events carries request payload.
// Returns: decoded message.
type Msg struct {
	OK     *bool
	Error  string
	Events []*Event
}

// StringPtr returns pointer to copied string value.
// Params: value to allocate.
// Returns: pointer to copied value.
func StringPtr(value string) *string {
	copied := value
	return &copied
}

// Float32Ptr returns pointer to copied float32 value.
// Params: value to allocate.
// Returns: pointer to copied value.
func Float32Ptr(value float32) *float32 {
	copied := value
	return &copied
}

// Int64Ptr returns pointer to copied int64 value.
// Params: value to allocate.
// Returns: pointer to copied value.
func Int64Ptr(value int64) *int64 {
	copied := value
	return &copied
}
