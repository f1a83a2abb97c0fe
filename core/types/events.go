package types

import "fmt"

// Attribute is one key/value pair of an event.
type Attribute struct {
	Key   string
	Value string
}

// Attr formats value with fmt.Sprint.
func Attr(key string, value any) Attribute {
	return Attribute{Key: key, Value: fmt.Sprint(value)}
}

// Event records a state change for external observers.
type Event struct {
	Type       string
	Attributes []Attribute
}

// Get returns the value of the first attribute named key.
func (e Event) Get(key string) string {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// EventLog collects events emitted during one transaction. It is shared by
// every component of a deployment.
type EventLog struct {
	events []Event
}

func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) Emit(typ string, attrs ...Attribute) {
	l.events = append(l.events, Event{Type: typ, Attributes: attrs})
}

// Drain returns the collected events and empties the log.
func (l *EventLog) Drain() []Event {
	events := l.events
	l.events = nil
	return events
}

func (l *EventLog) Len() int {
	return len(l.events)
}
