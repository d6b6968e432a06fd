package log

// Keys set by HTTPMiddleware on every request line.
const (
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"
)

const (
	FieldService = "service"
	FieldSource  = "source"
)

// Keys shared by the session client and the backend so one room can be
// followed across both logs.
const (
	FieldRoomID      = "room_id"
	FieldFrameRoomID = "frame_room_id"
	FieldSender      = "sender"
	FieldMessageID   = "message_id"
	FieldGeneration  = "generation"
	FieldState       = "state"
	FieldEndpoint    = "endpoint"
	FieldAttempt     = "attempt"
)
