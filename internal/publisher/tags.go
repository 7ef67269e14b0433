package publisher

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Reserved tag keys mapped to dedicated event fields.
const (
	TagHost        = "host"
	TagState       = "state"
	TagTTL         = "ttl"
	TagDescription = "description"
)

// ErrInvalidTTL reports a ttl tag that does not parse as a float.
var ErrInvalidTTL = errors.New("invalid ttl tag")

// eventFields holds reserved tag values and the remaining tag values of one call.
type eventFields struct {
	host        *string
	state       *string
	ttl         *float32
	description *string
	values      []string
}

// splitTags partitions tags into reserved fields and remaining values.
// Params: tags caller map, read only.
// Returns: call-local fields or ErrInvalidTTL wrap.
func splitTags(tags map[string]string) (eventFields, error) {
	fields := eventFields{values: make([]string, 0, len(tags))}

	for key, value := range tags {
		switch key {
		case TagHost:
			fields.host = stringRef(value)
		case TagState:
			fields.state = stringRef(value)
		case TagDescription:
			fields.description = stringRef(value)
		case TagTTL:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
			if err != nil {
				return eventFields{}, fmt.Errorf("%w %q: %v", ErrInvalidTTL, value, err)
			}
			ttl := float32(parsed)
			fields.ttl = &ttl
		default:
			fields.values = append(fields.values, value)
		}
	}

	return fields, nil
}

func stringRef(value string) *string {
	return &value
}
