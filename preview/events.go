package preview

import (
	"github.com/mitchellh/mapstructure"
)

// EventName is the fixed vocabulary of uncorrelated notifications from the
// peer. Anything outside this set is dropped by the dispatcher.
type EventName string

const (
	EventReady                EventName = "ready"
	EventLoadStart            EventName = "load-start"
	EventLoadComplete         EventName = "load-complete"
	EventPlay                 EventName = "play"
	EventPause                EventName = "pause"
	EventError                EventName = "error"
	EventTimeChange           EventName = "time-change"
	EventActiveElementsChange EventName = "active-elements-change"
	EventStateChange          EventName = "state-change"
)

var eventNames = []EventName{
	EventReady,
	EventLoadStart,
	EventLoadComplete,
	EventPlay,
	EventPause,
	EventError,
	EventTimeChange,
	EventActiveElementsChange,
	EventStateChange,
}

// Event is one peer notification. Fields carries the payload minus the
// `message` discriminator. Typed views are decoded on demand.
type Event struct {
	Name   EventName
	Fields map[string]any
}

type EventCallback func(event *Event)

type TimeChangeEvent struct {
	Time float64 `mapstructure:"time"`
}

type ActiveElementsChangeEvent struct {
	ElementIds []string `mapstructure:"elementIds"`
}

type ErrorEvent struct {
	Error string `mapstructure:"error"`
}

func decodeEventFields[T any](fields map[string]any) (*T, error) {
	out := new(T)
	config := &mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(fields); err != nil {
		return nil, err
	}
	return out, nil
}

func (self *Event) TimeChange() (*TimeChangeEvent, error) {
	return decodeEventFields[TimeChangeEvent](self.Fields)
}

func (self *Event) ActiveElementsChange() (*ActiveElementsChangeEvent, error) {
	return decodeEventFields[ActiveElementsChangeEvent](self.Fields)
}

func (self *Event) PeerError() (*ErrorEvent, error) {
	return decodeEventFields[ErrorEvent](self.Fields)
}
