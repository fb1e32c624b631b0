// Package room binds two Session Pipelines, a Turn Controller, and a
// language pair into the fan-out unit spec.md §4.5 calls a Room.
package room

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lokutor-ai/speech-relay/pkg/relayerr"
	"github.com/lokutor-ai/speech-relay/pkg/turn"
)

// ErrRoomFull is returned by Join when both seats are already taken.
var ErrRoomFull = relayerr.ErrRoomFull

// codeAlphabet excludes visually ambiguous glyphs (no I, L, O, 0, 1).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 6

// Participant is one of a Room's (at most two) occupants.
type Participant struct {
	Role     turn.Role
	Name     string
	Language string

	mu           sync.Mutex
	socketOpen   bool
	ttsCancelled bool

	SessionID string
}

// NewParticipant creates a Participant with its socket marked open.
func NewParticipant(role turn.Role, name, language, sessionID string) *Participant {
	return &Participant{
		Role:       role,
		Name:       name,
		Language:   language,
		SessionID:  sessionID,
		socketOpen: true,
	}
}

// SocketOpen reports whether sends to this participant should still be
// attempted.
func (p *Participant) SocketOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.socketOpen
}

// MarkClosed flips the socket-open flag false, after which all further
// sends to this participant are silently suppressed.
func (p *Participant) MarkClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.socketOpen = false
}

// TTSCancelled reports whether a barge-in has requested this
// participant's in-flight TTS be dropped.
func (p *Participant) TTSCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ttsCancelled
}

// SetTTSCancelled sets or clears the barge-in flag. A benign race with
// the Dispatcher reading it is acceptable: worst case one stale TTS
// frame is sent and then silenced by the mic lock it triggers.
func (p *Participant) SetTTSCancelled(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ttsCancelled = v
}

// Room binds two Participants, a shared Turn Controller, and the
// language pair they're translating between. The Turn Controller is
// the only field mutated across Participant-owning goroutines; it
// carries its own lock, so Room itself only needs a lock around the
// participant slots.
type Room struct {
	Code string

	// PartnerLanguageHint is the language the creator declared for
	// whoever joins second (spec.md §6.1's create-request partner_lang).
	// The joiner's own connection request carries no language of its
	// own, so the conversation handler reads this back to tag role b's
	// Participant when they arrive.
	PartnerLanguageHint string

	mu           sync.Mutex
	participants map[turn.Role]*Participant
	Turn         *turn.Controller

	createdAt time.Time
}

// New creates an empty Room (no participants yet) with its own Turn
// Controller, configured with the lockout buffer and per-role grace
// periods from config.
func New(code string, lockoutBuffer, graceA, graceB time.Duration) *Room {
	return &Room{
		Code:         code,
		participants: make(map[turn.Role]*Participant),
		Turn:         turn.New(lockoutBuffer, graceA, graceB),
		createdAt:    time.Now(),
	}
}

// Join admits a participant under the first free role (a, then b).
// Returns ErrRoomFull if both seats are occupied.
func (r *Room) Join(name, language, sessionID string) (*Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var role turn.Role
	switch {
	case r.participants[turn.RoleA] == nil:
		role = turn.RoleA
	case r.participants[turn.RoleB] == nil:
		role = turn.RoleB
	default:
		return nil, ErrRoomFull
	}

	p := NewParticipant(role, name, language, sessionID)
	r.participants[role] = p
	return p, nil
}

// Participant returns the occupant in the given role, or nil.
func (r *Room) Participant(role turn.Role) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participants[role]
}

// Partner returns the occupant of the role's counterpart seat, or nil
// if that seat is unfilled.
func (r *Room) Partner(role turn.Role) *Participant {
	other := turn.RoleB
	if role == turn.RoleB {
		other = turn.RoleA
	}
	return r.Participant(other)
}

// Leave removes role's occupant. Returns true if the room is now empty
// and should be torn down by the caller (the registry, not Room
// itself, owns the teardown decision since it holds the code→Room map).
func (r *Room) Leave(role turn.Role) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, role)
	return len(r.participants) == 0
}

// Full reports whether both seats are occupied.
func (r *Room) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participants[turn.RoleA] != nil && r.participants[turn.RoleB] != nil
}

// Registry is the process-wide collection of live Rooms, keyed by
// their 6-character code. Room codes are unique across the process
// while the room exists (spec.md §3 invariant).
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Create generates a fresh, collision-free room code and registers a
// new Room under it.
func (reg *Registry) Create(lockoutBuffer, graceA, graceB time.Duration) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var code string
	for {
		code = generateCode()
		if _, exists := reg.rooms[code]; !exists {
			break
		}
	}

	rm := New(code, lockoutBuffer, graceA, graceB)
	reg.rooms[code] = rm
	return rm
}

// Get looks up a Room by code.
func (reg *Registry) Get(code string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rm, ok := reg.rooms[code]
	return rm, ok
}

// Remove deletes code from the registry, called once a Room reports
// itself empty.
func (reg *Registry) Remove(code string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, code)
}

// List returns a diagnostic snapshot of every live room, for the
// GET /rooms REST endpoint.
func (reg *Registry) List() []Snapshot {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	out := make([]Snapshot, 0, len(reg.rooms))
	for code, rm := range reg.rooms {
		out = append(out, rm.snapshotLocked(code))
	}
	return out
}

// Snapshot is a point-in-time view of a Room for diagnostics.
type Snapshot struct {
	Code         string      `json:"code"`
	Participants []string    `json:"participants"`
	Turn         turn.Status `json:"turn"`
	CreatedAt    time.Time   `json:"created_at"`
}

func (r *Room) snapshotLocked(code string) Snapshot {
	r.mu.Lock()
	names := make([]string, 0, len(r.participants))
	for _, p := range r.participants {
		names = append(names, p.Name)
	}
	r.mu.Unlock()

	return Snapshot{
		Code:         code,
		Participants: names,
		Turn:         r.Turn.Status(),
		CreatedAt:    r.createdAt,
	}
}

// generateCode draws codeLength characters from codeAlphabet using a
// cryptographically random index per character. uuid.New() underlies
// the session ids minted around a Room (see pkg/session); the room
// code itself wants a short human-speakable string, not a UUID, so it
// is generated independently here.
func generateCode() string {
	b := make([]byte, codeLength)
	idx := make([]byte, codeLength)
	if _, err := rand.Read(idx); err != nil {
		// crypto/rand failing is unrecoverable on any real OS; fall
		// back to a UUID-derived string so the server doesn't panic.
		u := uuid.New()
		for i := 0; i < codeLength; i++ {
			b[i] = codeAlphabet[int(u[i])%len(codeAlphabet)]
		}
		return string(b)
	}
	for i, v := range idx {
		b[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return string(b)
}
