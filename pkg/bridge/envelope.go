// Package bridge turns a fire-and-forget topic broker into a blocking
// call/response primitive. A caller publishes a correlation-tagged request
// to one topic and blocks until a reply carrying the same tag appears on a
// paired response topic, or until a deadline expires.
package bridge

import (
	"encoding/json"

	"github.com/google/uuid"
)

// CorrelationField is the JSON field that carries the correlation id in
// every request and response envelope.
const CorrelationField = "correlation_id"

// Tag copies the operation-specific fields into a request envelope stamped
// with a freshly generated correlation id. The input map is not modified.
func Tag(fields map[string]any) (envelope map[string]any, correlationID string) {
	correlationID = uuid.NewString()

	envelope = make(map[string]any, len(fields)+1)
	for k, v := range fields {
		envelope[k] = v
	}
	envelope[CorrelationField] = correlationID

	return envelope, correlationID
}

// extractCorrelationID pulls the correlation id out of a raw response
// payload. ok is false when the payload is not a JSON object or the field
// is absent or empty; such payloads are discarded by the listener.
func extractCorrelationID(payload []byte) (id string, ok bool) {
	var probe struct {
		CorrelationID string `json:"correlation_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", false
	}
	if probe.CorrelationID == "" {
		return "", false
	}
	return probe.CorrelationID, true
}
