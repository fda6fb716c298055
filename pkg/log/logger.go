package log

// Logger receives protocol log events. Pass nil or NoopLogger to disable
// capture.
type Logger interface {
	// Log records an event. Implementations must be thread-safe and must
	// not block; Log is called from connection and feed goroutines.
	Log(event Event)
}

// NoopLogger discards all events. It is usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
