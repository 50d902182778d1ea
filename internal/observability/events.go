package observability

import "time"

type EventEnvelope struct {
	EventType string `json:"event_type"`
	EventName string `json:"event_name"`
	Payload   any    `json:"payload"`
}

// WSEvent describes one connection lifecycle transition.
type WSEvent struct {
	Event       string
	ConnID      string
	UserID      int64
	DeviceID    string
	IP          string
	ChatID      int64
	ConnectedAt time.Time
	Reason      string
}

// Envelope renders the event in the ws_events wire shape.
func (e WSEvent) Envelope() EventEnvelope {
	ws := map[string]any{
		"event":       e.Event,
		"conn_id":     e.ConnID,
		"duration_ms": time.Since(e.ConnectedAt).Milliseconds(),
		"reason":      e.Reason,
	}
	if e.ChatID != 0 {
		ws["chat_id"] = e.ChatID
	}
	return EventEnvelope{
		EventType: "ws_events",
		EventName: e.Event,
		Payload: map[string]any{
			"ws": ws,
			"identity": map[string]any{
				"user_id":   e.UserID,
				"device_id": e.DeviceID,
				"ip":        e.IP,
			},
		},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
