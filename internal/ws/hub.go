package ws

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
)

// Hub tracks attached clients and per-conversation rooms.
// Delivery never blocks: Broadcast only enqueues on each client's bounded queue.
type Hub struct {
	mu          sync.RWMutex
	clients     map[string]*Client             // sessionID -> client
	rooms       map[string]map[string]*Client  // conversationID -> sessionID -> client
	clientRooms map[string]map[string]struct{} // sessionID -> conversationIDs

	seqMu sync.Mutex
	seq   map[string]*sequencer

	logger *zap.Logger
}

type sequencer struct {
	mu   sync.Mutex
	refs int
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		rooms:       make(map[string]map[string]*Client),
		clientRooms: make(map[string]map[string]struct{}),
		seq:         make(map[string]*sequencer),
		logger:      logger,
	}
}

// Attach makes a client eligible to join rooms.
func (h *Hub) Attach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Detach removes the client from the attached set so no further joins succeed,
// and returns the rooms it still belongs to. Room membership itself is left for
// the caller to tear down under each conversation's sequencer.
func (h *Hub) Detach(sessionID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, sessionID)
	return h.roomsOfLocked(sessionID)
}

// Client returns an attached client.
func (h *Hub) Client(sessionID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[sessionID]
	return c, ok
}

// JoinResult tells the caller what Join did.
type JoinResult int

const (
	// JoinRefused means the client is detached.
	JoinRefused JoinResult = iota
	// JoinAdded means the client was added to the room.
	JoinAdded
	// JoinExisting means the client was already a member.
	JoinExisting
)

// Join adds the client to a room. Detached clients are refused.
func (h *Hub) Join(conversationID string, c *Client) JoinResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return JoinRefused
	}

	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[string]*Client)
		h.rooms[conversationID] = room
	}
	if _, ok := room[c.ID]; ok {
		return JoinExisting
	}
	room[c.ID] = c

	memberships := h.clientRooms[c.ID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		h.clientRooms[c.ID] = memberships
	}
	memberships[conversationID] = struct{}{}
	return JoinAdded
}

// Leave removes a session from a room, dropping the room once empty.
// It reports whether the session was a member.
func (h *Hub) Leave(conversationID, sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(conversationID, sessionID)
}

func (h *Hub) leaveLocked(conversationID, sessionID string) bool {
	room := h.rooms[conversationID]
	if room == nil {
		return false
	}
	if _, ok := room[sessionID]; !ok {
		return false
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
	if memberships, ok := h.clientRooms[sessionID]; ok {
		delete(memberships, conversationID)
		if len(memberships) == 0 {
			delete(h.clientRooms, sessionID)
		}
	}
	return true
}

// IsMember reports whether the session has joined the conversation.
func (h *Hub) IsMember(conversationID, sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[conversationID][sessionID]
	return ok
}

// HasUser reports whether any session of userID is in the room.
func (h *Hub) HasUser(conversationID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[conversationID] {
		if c.Session.UserID == userID {
			return true
		}
	}
	return false
}

// MembersOf returns the session ids joined to a conversation, sorted.
func (h *Hub) MembersOf(conversationID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[conversationID]
	ids := make([]string, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Participants describes the distinct users present in a room.
func (h *Hub) Participants(conversationID string) []models.Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	out := []models.Participant{}
	for _, c := range h.rooms[conversationID] {
		if _, ok := seen[c.Session.UserID]; ok {
			continue
		}
		seen[c.Session.UserID] = struct{}{}
		out = append(out, models.Participant{UserID: c.Session.UserID, UserName: c.Session.Name, Role: c.Session.Role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// RoomsOf returns the conversations a session has joined, sorted.
func (h *Hub) RoomsOf(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.roomsOfLocked(sessionID)
}

func (h *Hub) roomsOfLocked(sessionID string) []string {
	rooms := make([]string, 0, len(h.clientRooms[sessionID]))
	for id := range h.clientRooms[sessionID] {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Broadcast enqueues event for every member of the conversation except
// excludeSessionID and returns how many clients accepted it.
func (h *Hub) Broadcast(conversationID string, event models.Event, excludeSessionID string) int {
	h.mu.RLock()
	room := h.rooms[conversationID]
	targets := make([]*Client, 0, len(room))
	for id, c := range room {
		if id != excludeSessionID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	return h.deliver(targets, event)
}

// BroadcastAll enqueues event for every attached client.
func (h *Hub) BroadcastAll(event models.Event) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return h.deliver(targets, event)
}

func (h *Hub) deliver(targets []*Client, event models.Event) int {
	if len(targets) == 0 {
		return 0
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode event", zap.String("event", event.Name), zap.Error(err))
		return 0
	}

	delivered, dropped := 0, 0
	for _, c := range targets {
		switch err := c.Send(payload); err {
		case nil:
			delivered++
		case errSendBufferFull:
			dropped++
			h.logger.Warn("closing slow client", zap.String("session_id", c.ID), zap.String("event", event.Name))
		}
	}
	observability.AddBroadcastDropped(dropped)
	return delivered
}

// Sequence runs fn while holding the conversation's sequencer, so persist and
// broadcast steps for one conversation are totally ordered. Sequencers are
// created on demand and removed once idle.
func (h *Hub) Sequence(conversationID string, fn func()) {
	h.seqMu.Lock()
	s := h.seq[conversationID]
	if s == nil {
		s = &sequencer{}
		h.seq[conversationID] = s
	}
	s.refs++
	h.seqMu.Unlock()

	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		h.seqMu.Lock()
		s.refs--
		if s.refs == 0 {
			delete(h.seq, conversationID)
		}
		h.seqMu.Unlock()
	}()
	fn()
}

func (h *Hub) sequencers() int {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()
	return len(h.seq)
}

// CloseAll closes every attached client. Their read loops run the normal
// disconnect cleanup.
func (h *Hub) CloseAll(code int, reason string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close(code, reason)
	}
}
