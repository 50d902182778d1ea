package ws

import (
	"sync"
)

const shardCount = 32

// Peer is one realtime connection as seen by the registry.
type Peer interface {
	ID() string
	UserID() int64
	// Send queues a frame without blocking and reports whether it was accepted.
	Send(frame []byte) bool
}

type shard struct {
	mu    sync.RWMutex
	rooms map[int64]map[string]Peer
}

// Registry maps chat ids to the peers currently joined to them. Rooms are spread over
// independently locked shards so traffic in unrelated chats does not contend.
type Registry struct {
	shards [shardCount]*shard
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{rooms: make(map[int64]map[string]Peer)}
	}
	return r
}

func (r *Registry) shardFor(chatID int64) *shard {
	idx := chatID % shardCount
	if idx < 0 {
		idx = -idx
	}
	return r.shards[idx]
}

// Join adds peer to the room. It reports true when the room was empty before, and false
// when the room was already active or the peer was already in it.
func (r *Registry) Join(chatID int64, peer Peer) bool {
	s := r.shardFor(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[chatID]
	if !ok {
		room = make(map[string]Peer)
		s.rooms[chatID] = room
	}
	if _, exists := room[peer.ID()]; exists {
		return false
	}
	room[peer.ID()] = peer
	return len(room) == 1
}

// Leave removes peer from the room and drops the room when it becomes empty.
func (r *Registry) Leave(chatID int64, peer Peer) {
	s := r.shardFor(chatID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[chatID]; ok {
		delete(room, peer.ID())
		if len(room) == 0 {
			delete(s.rooms, chatID)
		}
	}
}

// LeaveAll removes peer from every listed room.
func (r *Registry) LeaveAll(peer Peer, chatIDs []int64) {
	for _, id := range chatIDs {
		r.Leave(id, peer)
	}
}

// EvictUser removes every peer of userID from the room and returns them. Joined clients
// stop tracking the room too.
func (r *Registry) EvictUser(chatID, userID int64) []Peer {
	s := r.shardFor(chatID)
	s.mu.Lock()
	var evicted []Peer
	if room, ok := s.rooms[chatID]; ok {
		for id, peer := range room {
			if peer.UserID() == userID {
				evicted = append(evicted, peer)
				delete(room, id)
			}
		}
		if len(room) == 0 {
			delete(s.rooms, chatID)
		}
	}
	s.mu.Unlock()

	for _, peer := range evicted {
		if c, ok := peer.(*Client); ok {
			c.untrack(chatID)
		}
	}
	return evicted
}

// Broadcast sends frame to every peer in the room except exceptPeerID and returns how
// many peers accepted it. Delivery is best effort.
func (r *Registry) Broadcast(chatID int64, frame []byte, exceptPeerID string) int {
	s := r.shardFor(chatID)
	s.mu.RLock()
	room := s.rooms[chatID]
	targets := make([]Peer, 0, len(room))
	for id, peer := range room {
		if id != exceptPeerID {
			targets = append(targets, peer)
		}
	}
	s.mu.RUnlock()

	delivered := 0
	for _, peer := range targets {
		if peer.Send(frame) {
			delivered++
		}
	}
	return delivered
}

// Size returns the number of peers in the room.
func (r *Registry) Size(chatID int64) int {
	s := r.shardFor(chatID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[chatID])
}

// Contains reports whether peer is in the room.
func (r *Registry) Contains(chatID int64, peer Peer) bool {
	s := r.shardFor(chatID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[chatID][peer.ID()]
	return ok
}
