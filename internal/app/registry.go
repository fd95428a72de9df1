// Package app holds the authoritative in-memory session state.
package app

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mkrajcer/castroom/internal/core"
	"github.com/mkrajcer/castroom/internal/domain"
	"github.com/mkrajcer/castroom/internal/engine"
)

var (
	ErrNoSession        = errors.New("session not found")
	ErrNoRoom           = errors.New("session has not joined a room")
	ErrTransportExists  = errors.New("transport for this role already exists")
	ErrNoTransport      = errors.New("transport not found")
	ErrProducerExists   = errors.New("session already produces")
	ErrNoProducer       = errors.New("producer not found")
	ErrAlreadyConsuming = errors.New("already consuming this producer")
)

// sessionEntry is the per-connection record. Optional fields fill in as
// the protocol advances; they are never inferred from absence checks
// outside this package.
type sessionEntry struct {
	conn              core.SignalConnection
	roomID            domain.RoomID
	router            engine.Router
	producerTransport engine.WebRtcTransport
	consumerTransport engine.WebRtcTransport
	producer          engine.Producer
	consumers         []engine.Consumer
}

// Registry is the single source of truth mapping connection ids to
// session records. Each session's own fields are written only by its
// connection's handler; cross-session reads go through snapshots.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]*sessionEntry)}
}

func (r *Registry) Bind(sid core.SessionID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{conn: conn}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("session bound")
}

func (r *Registry) SetRoom(sid core.SessionID, roomID domain.RoomID, router engine.Router) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ErrNoSession
	}
	e.roomID = roomID
	e.router = router
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(roomID)).Msg("joined room")
	return nil
}

func (r *Registry) Room(sid core.SessionID) (domain.RoomID, engine.Router, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.roomID == "" {
		return "", nil, false
	}
	return e.roomID, e.router, true
}

func (r *Registry) SetTransport(sid core.SessionID, sender bool, t engine.WebRtcTransport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ErrNoSession
	}
	if sender {
		if e.producerTransport != nil {
			return ErrTransportExists
		}
		e.producerTransport = t
	} else {
		if e.consumerTransport != nil {
			return ErrTransportExists
		}
		e.consumerTransport = t
	}
	return nil
}

func (r *Registry) Transport(sid core.SessionID, sender bool) (engine.WebRtcTransport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil, false
	}
	t := e.consumerTransport
	if sender {
		t = e.producerTransport
	}
	return t, t != nil
}

func (r *Registry) SetProducer(sid core.SessionID, p engine.Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ErrNoSession
	}
	if e.producer != nil {
		return ErrProducerExists
	}
	e.producer = p
	return nil
}

func (r *Registry) Producer(sid core.SessionID) (engine.Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.producer == nil {
		return nil, false
	}
	return e.producer, true
}

// AddConsumer appends c to sid's consumer list. A session keeps at most
// one consumer per distinct remote producer.
func (r *Registry) AddConsumer(sid core.SessionID, c engine.Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ErrNoSession
	}
	for _, existing := range e.consumers {
		if existing.ProducerId() == c.ProducerId() {
			return ErrAlreadyConsuming
		}
	}
	e.consumers = append(e.consumers, c)
	return nil
}

// RemoveConsumer drops a consumer from sid's list, typically after the
// engine closed it because its producer went away.
func (r *Registry) RemoveConsumer(sid core.SessionID, consumerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return
	}
	for i, c := range e.consumers {
		if c.Id() == consumerID {
			e.consumers = append(e.consumers[:i], e.consumers[i+1:]...)
			return
		}
	}
}

// Consumers returns a snapshot of sid's consumer list.
func (r *Registry) Consumers(sid core.SessionID) []engine.Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	out := make([]engine.Consumer, len(e.consumers))
	copy(out, e.consumers)
	return out
}

// SessionResources is everything a removed session owned. The caller
// tears these down outside the registry lock.
type SessionResources struct {
	RoomID            domain.RoomID
	Conn              core.SignalConnection
	ProducerTransport engine.WebRtcTransport
	ConsumerTransport engine.WebRtcTransport
	Producer          engine.Producer
	Consumers         []engine.Consumer
}

// Remove deletes sid and reports the remaining member count of its room.
func (r *Registry) Remove(sid core.SessionID) (*SessionResources, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil, 0
	}
	delete(r.sessions, sid)

	remaining := 0
	if e.roomID != "" {
		for _, other := range r.sessions {
			if other.roomID == e.roomID {
				remaining++
			}
		}
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(e.roomID)).Int("remaining", remaining).Msg("session removed")
	return &SessionResources{
		RoomID:            e.roomID,
		Conn:              e.conn,
		ProducerTransport: e.producerTransport,
		ConsumerTransport: e.consumerTransport,
		Producer:          e.producer,
		Consumers:         e.consumers,
	}, remaining
}

// PeerSnap is a point-in-time view of a room member used for fan-out.
type PeerSnap struct {
	SID      core.SessionID
	Conn     core.SignalConnection
	Producer engine.Producer
}

// Peers snapshots every member of roomID except sid. Fan-out loops
// iterate this copy, never the live table.
func (r *Registry) Peers(roomID domain.RoomID, except core.SessionID) []PeerSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if sid == except || e.roomID != roomID {
			continue
		}
		out = append(out, PeerSnap{SID: sid, Conn: e.conn, Producer: e.producer})
	}
	return out
}

// ProducersOf returns the producers of every member of roomID.
func (r *Registry) ProducersOf(roomID domain.RoomID) []engine.Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []engine.Producer
	for _, e := range r.sessions {
		if e.roomID == roomID && e.producer != nil {
			out = append(out, e.producer)
		}
	}
	return out
}

// Rooms lists rooms with their member counts.
func (r *Registry) Rooms() []domain.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[domain.RoomID]int)
	for _, e := range r.sessions {
		if e.roomID != "" {
			counts[e.roomID]++
		}
	}
	out := make([]domain.RoomInfo, 0, len(counts))
	for id, n := range counts {
		out = append(out, domain.RoomInfo{ID: id, MemberCount: n})
	}
	return out
}
