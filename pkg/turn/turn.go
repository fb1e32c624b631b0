// Package turn implements floor arbitration and echo-suppression
// lockouts for a two-party conversation room.
package turn

import (
	"sync"
	"time"
)

// Role identifies a participant's seat in a room. Only two exist: the
// creator ("a") and the joiner ("b").
type Role string

const (
	RoleA Role = "a"
	RoleB Role = "b"
)

// FloorState is the observable state of the conversation turn.
type FloorState string

const (
	Idle        FloorState = "idle"
	ASpeaking   FloorState = "a_speaking"
	AProcessing FloorState = "a_processing"
	BSpeaking   FloorState = "b_speaking"
	BProcessing FloorState = "b_processing"
)

// Controller is a lightweight turn-taking and echo-suppression state
// machine for a 2-party room. The grace period is per-role so
// asymmetric conversations (a party that asks long multi-part
// questions vs. one that gives short answers) each get an appropriate
// pause allowance before the floor auto-releases.
//
// All methods are safe for concurrent use; a Controller is shared by
// both participants' goroutines in a room.
type Controller struct {
	mu sync.Mutex

	lockoutBuffer time.Duration
	grace         map[Role]time.Duration

	state       FloorState
	floorHolder Role // "" means no holder
	lockout     map[Role]time.Time
	graceExpiry time.Time
}

// New creates a Controller. graceA/graceB are the per-role floor-hold
// grace periods; lockoutBuffer is extra silence appended to a TTS
// playback duration before the recipient's mic is considered unlocked.
func New(lockoutBuffer, graceA, graceB time.Duration) *Controller {
	return &Controller{
		lockoutBuffer: lockoutBuffer,
		grace:         map[Role]time.Duration{RoleA: graceA, RoleB: graceB},
		state:         Idle,
		lockout:       map[Role]time.Time{RoleA: {}, RoleB: {}},
	}
}

// checkGrace auto-releases the floor if its grace period has elapsed.
// Callers must hold c.mu.
func (c *Controller) checkGrace() {
	if c.floorHolder != "" && !c.graceExpiry.IsZero() && !time.Now().Before(c.graceExpiry) {
		c.floorHolder = ""
		c.graceExpiry = time.Time{}
		c.state = Idle
	}
}

func speakingState(role Role) FloorState {
	if role == RoleA {
		return ASpeaking
	}
	return BSpeaking
}

func processingState(role Role) FloorState {
	if role == RoleA {
		return AProcessing
	}
	return BProcessing
}

// IsLocked reports whether role's mic is currently echo-locked.
func (c *Controller) IsLocked(role Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Before(c.lockout[role])
}

// HoldsFloor reports whether role currently owns the floor.
func (c *Controller) HoldsFloor(role Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkGrace()
	return c.floorHolder == role
}

// TryStart is called on VAD speech_start. It returns true if role is
// granted (or already holds) the floor, false if role is locked or the
// other party holds the floor.
func (c *Controller) TryStart(role Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkGrace()

	if time.Now().Before(c.lockout[role]) {
		return false
	}

	if c.floorHolder == "" || c.floorHolder == role {
		c.floorHolder = role
		c.graceExpiry = time.Time{}
		c.state = speakingState(role)
		return true
	}

	return false
}

// OnSpeechEnd is called on VAD speech_end. It transitions role into its
// processing state and starts its grace timer. Returns false if role
// was not the active speaker (the event is stale and should be
// ignored by the caller).
func (c *Controller) OnSpeechEnd(role Role) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.floorHolder != role {
		return false
	}

	c.state = processingState(role)
	c.graceExpiry = time.Now().Add(c.grace[role])
	return true
}

// LockUser starts an echo-suppression lockout for role lasting
// duration plus the configured lockout buffer. It is a no-op if role
// currently holds the floor, since an active speaker should never be
// locked out by their own outbound TTS.
func (c *Controller) LockUser(role Role, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.floorHolder == role {
		return
	}
	c.lockout[role] = time.Now().Add(duration + c.lockoutBuffer)
}

// OnInterrupt handles barge-in: role is given the floor immediately
// and its own lockout is cleared, so a speech_end arriving moments
// later is accepted and routed through the pipeline instead of
// silently dropped.
func (c *Controller) OnInterrupt(role Role) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lockout[role] = time.Time{}
	c.floorHolder = role
	c.graceExpiry = time.Time{}
	c.state = speakingState(role)
}

// Status is a snapshot of the controller's state, suitable for the
// diagnostics REST endpoint or logging.
type Status struct {
	State            FloorState `json:"state"`
	FloorHolder      Role       `json:"floor_holder,omitempty"`
	GraceAMS         int64      `json:"grace_a_ms"`
	GraceBMS         int64      `json:"grace_b_ms"`
	ALocked          bool       `json:"a_locked"`
	BLocked          bool       `json:"b_locked"`
	ALockRemainingMS int64      `json:"a_lock_remaining_ms"`
	BLockRemainingMS int64      `json:"b_lock_remaining_ms"`
}

// Status returns a point-in-time snapshot of the turn state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkGrace()

	now := time.Now()
	remaining := func(role Role) int64 {
		d := c.lockout[role].Sub(now).Milliseconds()
		if d < 0 {
			return 0
		}
		return d
	}

	return Status{
		State:            c.state,
		FloorHolder:      c.floorHolder,
		GraceAMS:         c.grace[RoleA].Milliseconds(),
		GraceBMS:         c.grace[RoleB].Milliseconds(),
		ALocked:          now.Before(c.lockout[RoleA]),
		BLocked:          now.Before(c.lockout[RoleB]),
		ALockRemainingMS: remaining(RoleA),
		BLockRemainingMS: remaining(RoleB),
	}
}

// String renders a short diagnostic line, mirroring the status fields.
func (c *Controller) String() string {
	s := c.Status()
	out := "Controller(state=" + string(s.State) + ", floor=" + string(s.FloorHolder)
	if s.ALocked {
		out += ", a_locked"
	}
	if s.BLocked {
		out += ", b_locked"
	}
	return out + ")"
}
