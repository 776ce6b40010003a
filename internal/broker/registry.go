package broker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Store holds the live brokers of a Registry keyed by RoomKey.
type Store interface {
	Load(key string) (*Broker, bool)
	LoadOrStore(key string, b *Broker) (actual *Broker, loaded bool)
	CompareAndDelete(key string, b *Broker) bool
	Range(fn func(key string, b *Broker) bool)
}

// MapStore is a Store backed by sync.Map.
type MapStore struct {
	m sync.Map
}

func (s *MapStore) Load(key string) (*Broker, bool) {
	v, ok := s.m.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Broker), true
}

func (s *MapStore) LoadOrStore(key string, b *Broker) (*Broker, bool) {
	v, loaded := s.m.LoadOrStore(key, b)
	return v.(*Broker), loaded
}

func (s *MapStore) CompareAndDelete(key string, b *Broker) bool {
	return s.m.CompareAndDelete(key, b)
}

func (s *MapStore) Range(fn func(key string, b *Broker) bool) {
	s.m.Range(func(k, v any) bool {
		return fn(k.(string), v.(*Broker))
	})
}

// RoomKey normalizes a room id into the registry key.
func RoomKey(roomID string) string {
	sum := sha256.Sum256([]byte(roomID))
	return hex.EncodeToString(sum[:])
}

// Registry maps room ids to their running Broker.
type Registry struct {
	store Store
	group singleflight.Group
	opts  Options
}

// NewRegistry returns a Registry using store, or a fresh MapStore when nil.
func NewRegistry(store Store, opts Options) *Registry {
	if store == nil {
		store = &MapStore{}
	}
	return &Registry{store: store, opts: opts.withDefaults()}
}

// GetOrCreate returns the broker for roomID, starting one if needed.
// Concurrent callers for the same room share a single construction.
func (r *Registry) GetOrCreate(roomID string) *Broker {
	key := RoomKey(roomID)
	if b, ok := r.store.Load(key); ok {
		return b
	}

	v, _, _ := r.group.Do(key, func() (any, error) {
		if b, ok := r.store.Load(key); ok {
			return b, nil
		}
		b := newBroker(key, r.opts, r.reclaim)
		actual, loaded := r.store.LoadOrStore(key, b)
		if !loaded {
			go b.Run()
		}
		return actual, nil
	})
	return v.(*Broker)
}

// Lookup returns the live broker for roomID without creating one.
func (r *Registry) Lookup(roomID string) (*Broker, bool) {
	return r.store.Load(RoomKey(roomID))
}

// Len reports the number of live brokers.
func (r *Registry) Len() int {
	n := 0
	r.store.Range(func(string, *Broker) bool {
		n++
		return true
	})
	return n
}

// Attach connects s to the room, retrying when it raced with the room closing.
func (r *Registry) Attach(s *Session, roomID string) (*Broker, error) {
	for {
		b := r.GetOrCreate(roomID)
		err := b.Connect(s, roomID)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ErrBrokerClosed) {
			return nil, err
		}
	}
}

// Serve runs a client connection in roomID until it closes.
func (r *Registry) Serve(conn Conn, roomID string) error {
	s := newSession(conn, r.opts.SendQueue)
	b, err := r.Attach(s, roomID)
	if err != nil {
		return err
	}
	go s.writePump(r.opts.Logger, r.opts)
	go s.readPump(b, r.opts)
	return nil
}

// Close stops every broker and disconnects their sessions.
func (r *Registry) Close() {
	var brokers []*Broker
	r.store.Range(func(_ string, b *Broker) bool {
		brokers = append(brokers, b)
		return true
	})
	for _, b := range brokers {
		b.Close()
	}
}

func (r *Registry) reclaim(b *Broker) {
	r.store.CompareAndDelete(b.key, b)
}
