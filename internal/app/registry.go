// Package app keeps one session coordinator per browser client and fans its
// state changes out to that client's event connections.
package app

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/app/session"
	"github.com/dkeye/SupportCall/internal/core"
	"github.com/dkeye/SupportCall/internal/domain"
)

// ClientID is the browser's client token.
type ClientID string

// Factory builds a coordinator whose observer is listener.
type Factory func(listener session.Listener) *session.Coordinator

// StateEvent is pushed to subscribers on every transition.
type StateEvent struct {
	Type      string                 `json:"type"`
	SessionID domain.SessionID       `json:"session_id"`
	State     domain.ConnectionState `json:"state"`
}

// ClosedEvent is pushed once per session when it reaches Closed.
type ClosedEvent struct {
	Type      string            `json:"type"`
	SessionID domain.SessionID  `json:"session_id"`
	Reason    domain.ReasonKind `json:"reason"`
	Error     string            `json:"error,omitempty"`
}

// GuestName is the display name a client has until it renames itself.
const GuestName = "guest"

// clientEntry holds a coordinator only while the client has a call in
// progress. Between calls only the participant and the last snapshot remain.
type clientEntry struct {
	coord       *session.Coordinator
	starting    int
	last        session.Snapshot
	participant *domain.Participant
	subs        map[core.SignalConnection]struct{}
}

type Registry struct {
	factory Factory
	policy  Policy

	// MaxClients caps the number of known clients; zero means no cap. When
	// full, a client without a call or subscriber is forgotten to make room.
	MaxClients int

	mu      sync.RWMutex
	clients map[ClientID]*clientEntry
	closed  bool
}

var (
	ErrRegistryClosed = errors.New("registry closed")
	ErrRegistryFull   = errors.New("too many clients")
)

func NewRegistry(factory Factory, policy Policy) *Registry {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Registry{
		factory: factory,
		policy:  policy,
		clients: make(map[ClientID]*clientEntry),
	}
}

// entry returns the client's entry, creating it on first use. r.mu must be
// held for writing.
func (r *Registry) entry(id ClientID) (*clientEntry, error) {
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if e, ok := r.clients[id]; ok {
		return e, nil
	}
	if r.MaxClients > 0 && len(r.clients) >= r.MaxClients && !r.evictIdle() {
		return nil, ErrRegistryFull
	}
	participant, err := domain.NewParticipant(GuestName)
	if err != nil {
		return nil, err
	}
	e := &clientEntry{
		participant: participant,
		last:        session.Snapshot{State: domain.StateIdle},
		subs:        make(map[core.SignalConnection]struct{}),
	}
	r.clients[id] = e
	return e, nil
}

func (r *Registry) evictIdle() bool {
	for id, e := range r.clients {
		if e.coord == nil && e.starting == 0 && len(e.subs) == 0 {
			delete(r.clients, id)
			log.Debug().Str("module", "app.registry").Str("client", string(id)).Msg("evicted idle client")
			return true
		}
	}
	return false
}

// Coordinator returns the client's coordinator, creating it if the client
// has none.
func (r *Registry) Coordinator(id ClientID) (*session.Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coordinator(id)
}

func (r *Registry) coordinator(id ClientID) (*session.Coordinator, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	if e.coord == nil {
		e.coord = r.factory(&clientListener{reg: r, id: id})
		log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("created coordinator")
	}
	return e.coord, nil
}

// Acquire returns the client's coordinator and keeps it from being released
// until done is called. Callers hold it across Start.
func (r *Registry) Acquire(id ClientID) (coord *session.Coordinator, done func(), err error) {
	r.mu.Lock()
	coord, err = r.coordinator(id)
	if err != nil {
		r.mu.Unlock()
		return nil, nil, err
	}
	e := r.clients[id]
	e.starting++
	r.mu.Unlock()

	var once sync.Once
	return coord, func() {
		once.Do(func() {
			r.mu.Lock()
			e.starting--
			r.mu.Unlock()
			r.release(id)
		})
	}, nil
}

// release stops the client's coordinator once it has no call in progress,
// keeping its final snapshot.
func (r *Registry) release(id ClientID) {
	r.mu.Lock()
	e, ok := r.clients[id]
	if !ok || e.coord == nil || e.starting > 0 || e.coord.State().IsActive() {
		r.mu.Unlock()
		return
	}
	coord := e.coord
	if snap := coord.Snapshot(); snap.SessionID != "" {
		e.last = snap
	}
	e.coord = nil
	r.mu.Unlock()

	coord.Close()
	log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("released coordinator")
}

// Lookup returns the coordinator of the client's call without creating one.
func (r *Registry) Lookup(id ClientID) (*session.Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.clients[id]
	if !ok || e.coord == nil {
		return nil, false
	}
	return e.coord, true
}

// Snapshot returns the client's identity and session state without creating
// anything. Between calls the state is the one the last call ended in.
func (r *Registry) Snapshot(id ClientID) (domain.Participant, session.Snapshot, bool) {
	r.mu.RLock()
	e, ok := r.clients[id]
	if !ok {
		r.mu.RUnlock()
		return domain.Participant{}, session.Snapshot{}, false
	}
	participant, coord, last := *e.participant, e.coord, e.last
	r.mu.RUnlock()

	if coord != nil {
		return participant, coord.Snapshot(), true
	}
	return participant, last, true
}

// Len is the number of clients the registry knows.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Participant returns a copy of the client's caller identity.
func (r *Registry) Participant(id ClientID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.clients[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *e.participant, true
}

// Rename changes the display name the client joins with.
func (r *Registry) Rename(id ClientID, name string) error {
	if name == "" {
		return domain.ErrDisplayNameEmpty
	}
	if len(name) > domain.MaxDisplayNameLen {
		return domain.ErrDisplayNameTooLong
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.participant.DisplayName = name
	log.Info().Str("module", "app.registry").Str("client", string(id)).Str("display_name", name).Msg("updated display name")
	return nil
}

// Subscribe attaches an event connection to the client. The returned func
// detaches it.
func (r *Registry) Subscribe(id ClientID, conn core.SignalConnection) (func(), error) {
	r.mu.Lock()
	e, err := r.entry(id)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	e.subs[conn] = struct{}{}
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("bound subscriber")

	return func() { r.unsubscribe(id, conn) }, nil
}

func (r *Registry) unsubscribe(id ClientID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.clients[id]; ok {
		delete(e.subs, conn)
	}
	log.Info().Str("module", "app.registry").Str("client", string(id)).Msg("unbind subscriber")
}

// Publish encodes v and offers it to every subscriber of the client without
// blocking. Subscribers the policy drops are closed.
func (r *Registry) Publish(id ClientID, v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("publish marshal")
		return
	}

	r.mu.RLock()
	e, ok := r.clients[id]
	var subs []core.SignalConnection
	if ok {
		subs = make([]core.SignalConnection, 0, len(e.subs))
		for s := range e.subs {
			subs = append(subs, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range subs {
		if err := s.TrySend(frame); err != nil {
			if r.policy.OnBackPressure(id, s) == DropSubscriber {
				log.Warn().Err(err).Str("module", "app.registry").Str("client", string(id)).Msg("dropping slow subscriber")
				r.unsubscribe(id, s)
				s.Close()
			}
		}
	}
}

// Close aborts every session and refuses new clients.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := make([]*clientEntry, 0, len(r.clients))
	var coords []*session.Coordinator
	for _, e := range r.clients {
		entries = append(entries, e)
		if e.coord != nil {
			coords = append(coords, e.coord)
		}
	}
	r.mu.Unlock()

	// Coordinators call back into Publish while closing, so no lock is held here.
	for _, c := range coords {
		c.Close()
	}
	r.mu.Lock()
	for _, e := range entries {
		for s := range e.subs {
			s.Close()
		}
	}
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Int("clients", len(entries)).Msg("registry closed")
}

// clientListener turns coordinator callbacks into subscriber events.
type clientListener struct {
	reg *Registry
	id  ClientID
}

func (l *clientListener) OnStateChanged(sid domain.SessionID, state domain.ConnectionState) {
	l.reg.Publish(l.id, StateEvent{Type: "state", SessionID: sid, State: state})
}

func (l *clientListener) OnClosed(sid domain.SessionID, reason domain.CloseReason) {
	ev := ClosedEvent{Type: "closed", SessionID: sid, Reason: reason.Kind}
	if reason.Err != nil {
		ev.Error = reason.Err.Error()
	}
	l.reg.Publish(l.id, ev)
	// Called on the coordinator goroutine, which release waits for.
	go l.reg.release(l.id)
}
