/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package respshape bounds the size of response payloads before they are
// returned to callers. Shaping is advisory and fails open: on any internal
// error the original data is returned untouched. The caller's data is never
// mutated — truncation always produces a new structure.
package respshape

import (
	"encoding/json"
	"reflect"

	"github.com/acronis/go-apigate/log"
)

// Default parameter values for Shaper.
const (
	DefaultMaxBytes     = 1024 * 1024
	DefaultMaxItems     = 1000
	DefaultMaxStringLen = 1000
	DefaultMarker       = "...[truncated]"
)

// Result is the outcome of shaping one payload.
type Result struct {
	// Data is the shaped payload, or the original one when no shaping applied.
	Data interface{} `json:"data"`

	// Truncated reports whether Data differs from the original payload.
	Truncated bool `json:"truncated"`

	// OriginalSizeBytes is the serialized size of the original payload.
	// It is only set when Truncated is true.
	OriginalSizeBytes int `json:"originalSizeBytes,omitempty"`
}

// Opts represents options for Shaper.
type Opts struct {
	// MaxStringLen is the per-field character limit applied when truncating
	// oversized objects. Defaults to DefaultMaxStringLen.
	MaxStringLen int

	// Marker is appended to truncated string fields. Defaults to DefaultMarker.
	Marker string

	Logger log.FieldLogger
}

// Shaper bounds result sizes by byte and item budgets.
type Shaper struct {
	maxStringLen int
	marker       string
	logger       log.FieldLogger
}

// New creates a new Shaper with default options.
func New() *Shaper {
	return NewWithOpts(Opts{})
}

// NewWithOpts creates a new Shaper with the provided options.
func NewWithOpts(opts Opts) *Shaper {
	if opts.MaxStringLen <= 0 {
		opts.MaxStringLen = DefaultMaxStringLen
	}
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	return &Shaper{
		maxStringLen: opts.MaxStringLen,
		marker:       opts.Marker,
		logger:       opts.Logger,
	}
}

// Shape bounds data by the given budgets. Arrays are capped at maxItems and,
// if still over maxBytes, cut to the largest prefix that fits the byte budget
// (found by binary search over the prefix length). Objects over maxBytes get
// their long string fields truncated recursively. Non-positive budgets fall
// back to the defaults.
func (s *Shaper) Shape(data interface{}, maxBytes, maxItems int) (res Result) {
	res = Result{Data: data}
	defer func() {
		if r := recover(); r != nil {
			// Fail open: shaping must never become an availability risk.
			s.logger.Warn("response shaping panicked, returning original data", log.Any("panic", r))
			res = Result{Data: data}
		}
	}()

	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Warn("response is not serializable, skipping shaping", log.Error(err))
		return Result{Data: data}
	}
	originalSize := len(raw)

	if items, isArray := toItems(data); isArray {
		return s.shapeArray(items, originalSize, maxBytes, maxItems)
	}

	if originalSize <= maxBytes {
		return Result{Data: data}
	}
	return s.shapeObject(data, raw, originalSize)
}

func (s *Shaper) shapeArray(items []interface{}, originalSize, maxBytes, maxItems int) Result {
	shaped := items
	if len(shaped) > maxItems {
		shaped = shaped[:maxItems]
	}

	size := originalSize
	if len(shaped) != len(items) {
		size = serializedSize(shaped)
	}
	if size <= maxBytes {
		if len(shaped) == len(items) {
			return Result{Data: items}
		}
		return Result{Data: shaped, Truncated: true, OriginalSizeBytes: originalSize}
	}

	// Find the largest prefix that fits the byte budget.
	lo, hi := 0, len(shaped)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if serializedSize(shaped[:mid]) <= maxBytes {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return Result{Data: shaped[:lo], Truncated: true, OriginalSizeBytes: originalSize}
}

// shapeObject rebuilds the payload from its serialized form (so the caller's
// object graph stays untouched) and truncates oversized string fields.
func (s *Shaper) shapeObject(data interface{}, raw []byte, originalSize int) Result {
	var copied interface{}
	if err := json.Unmarshal(raw, &copied); err != nil {
		s.logger.Warn("failed to rebuild response for shaping, returning original data", log.Error(err))
		return Result{Data: data}
	}
	return Result{
		Data:              s.truncateStrings(copied),
		Truncated:         true,
		OriginalSizeBytes: originalSize,
	}
}

func (s *Shaper) truncateStrings(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		runes := []rune(val)
		if len(runes) > s.maxStringLen {
			return string(runes[:s.maxStringLen]) + s.marker
		}
		return val
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = s.truncateStrings(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = s.truncateStrings(item)
		}
		return out
	default:
		return v
	}
}

// toItems normalizes slice/array payloads to []interface{}.
// Strings and byte slices are treated as scalars.
func toItems(data interface{}) ([]interface{}, bool) {
	if items, ok := data.([]interface{}); ok {
		return items, true
	}
	v := reflect.ValueOf(data)
	if !v.IsValid() || (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) {
		return nil, false
	}
	if v.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	items := make([]interface{}, v.Len())
	for i := 0; i < v.Len(); i++ {
		items[i] = v.Index(i).Interface()
	}
	return items, true
}

func serializedSize(v interface{}) int {
	b, err := json.Marshal(v)
	if err != nil {
		// Must not happen for values that already serialized once; be generous.
		return 0
	}
	return len(b)
}
