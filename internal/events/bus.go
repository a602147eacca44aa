// Package events carries the bot's status stream: timestamped, human-readable
// lines describing lifecycle and ladder transitions. Sinks (log, journal,
// alerts) subscribe; the engine and controller publish.
package events

import (
	"sync"
	"time"
)

type Kind string

const (
	KindConnected     Kind = "connected"
	KindStarted       Kind = "started"
	KindStopped       Kind = "stopped"
	KindLevelPlaced   Kind = "level_placed"
	KindStopPlaced    Kind = "stop_placed"
	KindFillDetected  Kind = "fill_detected"
	KindStopArmed     Kind = "stop_armed"
	KindStopFired     Kind = "stop_fired"
	KindLevelRestored Kind = "level_restored"
	KindError         Kind = "error"
)

type Event struct {
	Time    time.Time
	Kind    Kind
	Message string
	Fields  map[string]any
}

// Bus fans events out to subscribers in publish order. Handlers run on the
// publisher's goroutine and must not block.
type Bus struct {
	mu   sync.Mutex
	subs []func(Event)
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	b.mu.Lock()
	subs := append(([]func(Event))(nil), b.subs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (b *Bus) Emit(kind Kind, message string, fields map[string]any) {
	b.Publish(Event{Kind: kind, Message: message, Fields: fields})
}
