// Package events carries one-directional notifications from the host to the
// UI. Delivery is best-effort: an event nobody is listening for is dropped.
package events

// UpdateDownloadProgress carries the integer download percentage (0-100)
// while an update artifact is being fetched.
const UpdateDownloadProgress = "update-download-progress"

// Event is the frame written to UI listeners.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

// Emitter publishes events. Emit never blocks on, or reports, delivery.
type Emitter interface {
	Emit(name string, payload any)
}

// EmitterFunc adapts a plain function to Emitter.
type EmitterFunc func(name string, payload any)

// Emit calls f(name, payload).
func (f EmitterFunc) Emit(name string, payload any) {
	f(name, payload)
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(string, any) {})
