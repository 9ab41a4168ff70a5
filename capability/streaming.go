package capability

import "log/slog"

// Streamer receives progress updates while a step runs. The chat frontend
// renders them as status lines; non-interactive callers can discard them.
type Streamer interface {
	// Status reports a short progress message for the running step.
	Status(message string)
}

// StreamFunc adapts a function to the Streamer interface.
type StreamFunc func(message string)

func (f StreamFunc) Status(message string) { f(message) }

// NopStreamer discards all updates.
var NopStreamer Streamer = StreamFunc(func(string) {})

// LogStreamer reports status updates to a logger at debug level.
func LogStreamer(logger *slog.Logger, capabilityName string) Streamer {
	return StreamFunc(func(message string) {
		logger.Debug("Capability status", "capability", capabilityName, "status", message)
	})
}
