// Package logbus fans log lines and state events out to websocket clients and
// console sinks, keeping the newest messages for late subscribers.
package logbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Message struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Sink receives every log line that passes the level filter, synchronously.
type Sink interface {
	Write(at time.Time, data LogData)
}

type Bus struct {
	mu sync.RWMutex

	// ring holds up to len(ring) messages; head is the oldest slot once full.
	ring   []Message
	head   int
	filled int

	subs     map[chan Message]struct{}
	closed   bool
	minLevel int
	sinks    []Sink

	dropped atomic.Int64
}

var levels = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

func levelOf(s string) int {
	if v, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return v
	}
	return levels["info"]
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	return &Bus{
		ring: make([]Message, capacity),
		subs: make(map[chan Message]struct{}),
	}
}

// SetLevel drops log lines below level. Non-log messages are never filtered.
func (b *Bus) SetLevel(level string) {
	b.mu.Lock()
	b.minLevel = levelOf(level)
	b.mu.Unlock()
}

func (b *Bus) AddSink(s Sink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Dropped counts messages a full subscriber channel did not receive.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.ring = nil
	b.head, b.filled = 0, 0
}

// Snapshot returns the buffered messages oldest first.
func (b *Bus) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, 0, b.filled)
	for i := 0; i < b.filled; i++ {
		out = append(out, b.ring[(b.head+i)%len(b.ring)])
	}
	return out
}

func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

func (b *Bus) Publish(typ string, data any) {
	b.publish(time.Now(), typ, data)
}

func (b *Bus) publish(at time.Time, typ string, data any) {
	msg := Message{Type: typ, Time: at.UnixMilli(), Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.filled < len(b.ring) {
		b.ring[(b.head+b.filled)%len(b.ring)] = msg
		b.filled++
	} else {
		b.ring[b.head] = msg
		b.head = (b.head + 1) % len(b.ring)
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) Log(level, message string, fields map[string]any) {
	b.mu.RLock()
	min := b.minLevel
	sinks := b.sinks
	b.mu.RUnlock()
	if levelOf(level) < min {
		return
	}

	at := time.Now()
	data := LogData{Level: strings.ToLower(level), Msg: message, Fields: fields}
	for _, s := range sinks {
		s.Write(at, data)
	}
	b.publish(at, "log", data)
}
