package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// millisThreshold separates second and millisecond timestamps like OpenTSDB does.
const millisThreshold = 9_999_999_999

var (
	errEmptyPayload = errors.New("payload is empty")
	errRootType     = errors.New("root JSON must be object or array")
)

// Point is one decoded /api/put data point.
// Integer values keep IsInt set and carry the exact value in Int.
type Point struct {
	Metric    string
	Timestamp int64
	IsInt     bool
	Int       int64
	Float     float64
	Tags      map[string]string
}

type pointJSON struct {
	Metric    string            `json:"metric"`
	Timestamp json.Number       `json:"timestamp"`
	Value     json.RawMessage   `json:"value"`
	Tags      map[string]string `json:"tags"`
}

// ParsePoints decodes an OpenTSDB put body: one object or an array of objects.
// Params: payload raw JSON bytes.
// Returns: points in payload order or the first contract error.
func ParsePoints(payload []byte) ([]Point, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errEmptyPayload
	}

	switch trimmed[0] {
	case '{':
		point, err := parsePointRaw(trimmed)
		if err != nil {
			return nil, err
		}
		return []Point{point}, nil
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
		points := make([]Point, 0, len(records))
		for idx, record := range records {
			point, err := parsePointRaw(record)
			if err != nil {
				return nil, fmt.Errorf("items[%d]: %w", idx, err)
			}
			points = append(points, point)
		}
		return points, nil
	default:
		return nil, errRootType
	}
}

// parsePointRaw converts one object into Point.
// Params: raw object bytes.
// Returns: parsed point or contract error.
func parsePointRaw(raw []byte) (Point, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Point{}, fmt.Errorf("point must be an object")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var record pointJSON
	if err := decoder.Decode(&record); err != nil {
		return Point{}, fmt.Errorf("decode JSON: %w", err)
	}

	metric := strings.TrimSpace(record.Metric)
	if metric == "" {
		return Point{}, fmt.Errorf("metric is required")
	}

	timestamp, err := parseTimestamp(record.Timestamp)
	if err != nil {
		return Point{}, err
	}

	point := Point{
		Metric:    metric,
		Timestamp: timestamp,
		Tags:      record.Tags,
	}
	if err := parseValue(record.Value, &point); err != nil {
		return Point{}, fmt.Errorf("value: %w", err)
	}
	return point, nil
}

// parseTimestamp returns unix seconds; millisecond values are truncated.
func parseTimestamp(raw json.Number) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("timestamp is required")
	}
	ts, err := strconv.ParseInt(raw.String(), 10, 64)
	if err != nil || ts < 0 {
		return 0, fmt.Errorf("timestamp must be a non-negative integer")
	}
	if ts > millisThreshold {
		ts /= 1000
	}
	return ts, nil
}

// parseValue accepts a JSON number or a numeric string.
// Params: raw value token; point destination.
// Returns: error for non-numeric or non-finite values.
func parseValue(raw json.RawMessage, point *Point) error {
	token := string(bytes.TrimSpace(raw))
	if token == "" {
		return fmt.Errorf("is required")
	}
	if token[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return fmt.Errorf("invalid string: %w", err)
		}
		token = strings.TrimSpace(text)
	}

	if n, err := strconv.ParseInt(token, 10, 64); err == nil {
		point.IsInt = true
		point.Int = n
		point.Float = float64(n)
		return nil
	}

	f, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return fmt.Errorf("must be numeric")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("must be finite")
	}
	point.Float = f
	return nil
}
