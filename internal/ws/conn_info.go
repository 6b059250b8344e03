package ws

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"messaging-service/internal/observability"
)

// ConnInfo is the transport-level metadata captured at handshake.
type ConnInfo struct {
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// newConnInfo reads the handshake request. The trace id comes from the span
// carried by the request context, if any.
func newConnInfo(r *http.Request, requestID string, at time.Time) ConnInfo {
	info := ConnInfo{
		DeviceID:    observability.DeviceIDFromRequest(r),
		IP:          observability.IPFromRequest(r),
		RequestID:   requestID,
		ConnectedAt: at,
	}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		info.TraceID = sc.TraceID().String()
	}
	return info
}

func (i ConnInfo) identity(userID string) map[string]interface{} {
	return map[string]interface{}{
		"user_id":   userID,
		"device_id": i.DeviceID,
		"ip":        i.IP,
	}
}
