package publisher

import "riemannpub/internal/riemann"

// buildEvent maps one data point into a fresh Riemann event.
// Params: metric service name; value int64 or float64; timestamp passed through when withTime;
// fields split tags; attributes static attributes shared read-only across calls.
// Returns: call-local event.
func buildEvent(
	metric string,
	value any,
	timestamp int64,
	fields eventFields,
	withTime bool,
	attributes []riemann.Attribute,
) *riemann.Event {
	event := &riemann.Event{
		Service:     metric,
		Metric:      value,
		Host:        fields.host,
		State:       fields.state,
		TTL:         fields.ttl,
		Description: fields.description,
		Tags:        fields.values,
	}
	if event.Tags == nil {
		event.Tags = []string{}
	}
	if withTime {
		event.Time = riemann.Int64Ptr(timestamp)
	}
	if len(attributes) > 0 {
		event.Attributes = attributes
	}
	return event
}
