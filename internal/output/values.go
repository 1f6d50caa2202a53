package output

import (
	"math"

	"github.com/nerrad567/gray-logic-logger/internal/engine"
)

// jsonRecord converts a record into a map that encodes cleanly as JSON.
//
// Byte strings become text and conversion failures become their marker.
// NaN and infinities have no JSON form and become null. Everything else
// is already a JSON-native scalar.
func jsonRecord(rec engine.Record) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = jsonValue(v)
	}
	return out
}

func jsonValue(v any) any {
	switch x := engine.Normalize(v).(type) {
	case []byte:
		return string(x)
	case engine.ConversionFailure:
		return x.String()
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	default:
		return x
	}
}
