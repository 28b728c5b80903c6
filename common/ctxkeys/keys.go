package ctxkeys

// Key — тип ключей контекста, общий для логгера и HTTP-middleware.
type Key string

const (
	TraceIDKey   Key = "trace_id"
	RequestIDKey Key = "request_id"
	UserIDKey    Key = "user_id"
)
