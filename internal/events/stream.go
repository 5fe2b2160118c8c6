package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ErrStreamClosed is returned by Subscribe after Close.
var ErrStreamClosed = errors.New("event stream closed")

const subscriberQueue = 64

// Stream fans cycle events out to Server-Sent Events subscribers.
// Each device keeps its own monotonic event ids and a bounded replay buffer,
// so a client reconnecting with Last-Event-ID resumes where it left off.
//
// s.mu guards subscribers and buffers. A subscriber is registered and its
// replay snapshot taken under the same lock, so no event falls in between.
type Stream struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	buffers     map[string]*ring

	bufferSize int
	heartbeat  time.Duration
	logger     *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

type subscriber struct {
	deviceID string
	events   chan streamEvent
}

type streamEvent struct {
	id    int64
	event Event
}

var _ Publisher = (*Stream)(nil)

// NewStream creates a stream keeping bufferSize events per device for replay
// and writing a heartbeat to idle subscribers every heartbeat.
func NewStream(bufferSize int, heartbeat time.Duration, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		subscribers: make(map[*subscriber]struct{}),
		buffers:     make(map[string]*ring),
		bufferSize:  bufferSize,
		heartbeat:   heartbeat,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Publish assigns ev the next id of its device, buffers it and hands it to
// matching subscribers. A subscriber whose queue is full misses the event; it
// can recover it by reconnecting with Last-Event-ID.
func (s *Stream) Publish(_ context.Context, ev Event) {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	buf, ok := s.buffers[ev.DeviceID]
	if !ok {
		buf = newRing(s.bufferSize)
		s.buffers[ev.DeviceID] = buf
	}
	se := streamEvent{id: buf.add(ev), event: ev}

	for sub := range s.subscribers {
		if sub.deviceID != ev.DeviceID {
			continue
		}
		select {
		case sub.events <- se:
		default:
			s.logger.Debug("slow event subscriber, event dropped", "deviceId", ev.DeviceID, "id", se.id)
		}
	}
	s.mu.Unlock()
}

// Subscribe streams deviceID's events to w until the request ends or the
// stream is closed. It returns an error only if nothing was written yet.
func (s *Stream) Subscribe(w http.ResponseWriter, r *http.Request, deviceID string) error {
	rc := http.NewResponseController(w)

	var lastID int64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastID = id
		}
	}

	sub := &subscriber{deviceID: deviceID, events: make(chan streamEvent, subscriberQueue)}
	replay, err := s.register(sub, lastID)
	if err != nil {
		return err
	}
	defer s.unregister(sub)

	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ready := map[string]interface{}{"deviceId": deviceID, "ts": time.Now().UTC().Format(time.RFC3339)}
	if err := writeSSE(w, 0, "ready", ready); err != nil {
		return nil
	}
	for _, se := range replay {
		if err := writeSSE(w, se.id, se.event.Type, se.event); err != nil {
			return nil
		}
	}
	if err := rc.Flush(); err != nil {
		return nil
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case <-s.done:
			return nil
		case se := <-sub.events:
			if err := writeSSE(w, se.id, se.event.Type, se.event); err != nil {
				return nil
			}
		case <-heartbeat.C:
			if err := writeSSE(w, 0, "heartbeat", map[string]string{"ts": time.Now().UTC().Format(time.RFC3339)}); err != nil {
				return nil
			}
		}
		if err := rc.Flush(); err != nil {
			return nil
		}
	}
}

func (s *Stream) register(sub *subscriber, lastID int64) ([]streamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return nil, ErrStreamClosed
	default:
	}

	s.subscribers[sub] = struct{}{}
	var replay []streamEvent
	if buf, ok := s.buffers[sub.deviceID]; ok && lastID > 0 {
		replay = buf.after(lastID)
	}
	return replay, nil
}

func (s *Stream) unregister(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, sub)
}

// Subscribers returns the number of connected subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Close ends every subscription. Later publishes are discarded.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
	})
}

func writeSSE(w http.ResponseWriter, id int64, typ string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, payload)
	return err
}

// ring keeps the newest events of one device. Not safe for concurrent use.
type ring struct {
	events []streamEvent
	size   int
	nextID int64
}

func newRing(size int) *ring {
	return &ring{events: make([]streamEvent, 0, size), size: size, nextID: 1}
}

func (b *ring) add(ev Event) int64 {
	id := b.nextID
	b.nextID++
	if b.size <= 0 {
		return id
	}
	if len(b.events) == b.size {
		copy(b.events, b.events[1:])
		b.events = b.events[:b.size-1]
	}
	b.events = append(b.events, streamEvent{id: id, event: ev})
	return id
}

func (b *ring) after(lastID int64) []streamEvent {
	var out []streamEvent
	for _, se := range b.events {
		if se.id > lastID {
			out = append(out, se)
		}
	}
	return out
}
