package turn

import "context"

// EventType identifies an entry in the event stream sent to the host.
type EventType string

const (
	EventToken  EventType = "token"
	EventStatus EventType = "status"
	EventSystem EventType = "system"
	EventError  EventType = "error"
	EventDone   EventType = "done"
)

// Event is one item of the stream. Done is always the last event of a run.
type Event struct {
	Type     EventType              `json:"type"`
	Content  string                 `json:"content"`
	Turn     int                    `json:"turn,omitempty"`
	State    State                  `json:"state,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// EventSink receives events in emission order.
type EventSink func(Event)

// ChannelSink forwards events to ch until ctx is done.
func ChannelSink(ctx context.Context, ch chan<- Event) EventSink {
	return func(ev Event) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}
}
