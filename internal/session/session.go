// Package session implements the gating state machine (L3): a weak,
// date-derived session secret gates process access, and the master
// secret gates a specific volume (spec §4.4).
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hytong05/NT212-New-File-System/internal/crypto"
	"github.com/hytong05/NT212-New-File-System/internal/log"
	"github.com/hytong05/NT212-New-File-System/internal/merrors"
)

// State is a position in the Closed -> SessionOpen -> VolumeOpen ->
// Closed state machine (spec §4.4).
type State int

const (
	Closed State = iota
	SessionOpen
	VolumeOpen
)

// DefaultInactivityTimeout closes an idle VolumeOpen session. Spec §4.4
// lists this as "(recommended)"; §5 names it the only built-in time
// limit on any operation.
const DefaultInactivityTimeout = 10 * time.Minute

const sessionSecretLayout = "myfs-20060102"

// Authenticator holds the session's current state and, once a volume is
// open, its master key. It has no ambient/global state: callers pass it
// explicitly to every L5/L6 operation (spec §9 "Global state").
type Authenticator struct {
	mu              sync.Mutex
	state           State
	masterKey       *crypto.KeyMaterial
	openedAt        time.Time
	inactivityAfter time.Duration
	timer           *time.Timer
	logger          log.Logger
}

// New creates an Authenticator in the Closed state.
func New() *Authenticator {
	return &Authenticator{
		state:           Closed,
		inactivityAfter: DefaultInactivityTimeout,
		logger:          log.GetLogger(),
	}
}

// State returns the current state.
func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// OpenSession validates a "myfs-YYYYMMDD" secret against now's local
// date (spec §4.4, §8 P8) and transitions Closed -> SessionOpen.
func (a *Authenticator) OpenSession(secret string, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != Closed {
		return fmt.Errorf("session: cannot open session from state %v", a.state)
	}

	want := now.Local().Format(sessionSecretLayout)
	if !strings.EqualFold(secret, want) {
		return fmt.Errorf("%w: session secret mismatch", merrors.ErrAuthFailed)
	}

	a.state = SessionOpen
	return nil
}

// AdmitVolume transitions SessionOpen -> VolumeOpen once the caller has
// independently verified the master secret and machine binding
// (internal/volume.Open does that work; this just records the resulting
// key and starts the inactivity timer).
func (a *Authenticator) AdmitVolume(masterKey []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != SessionOpen {
		return fmt.Errorf("session: cannot admit volume from state %v", a.state)
	}

	a.masterKey = crypto.NewKeyMaterial(masterKey)
	a.state = VolumeOpen
	a.openedAt = time.Now()
	a.resetTimerLocked()
	return nil
}

func (a *Authenticator) resetTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.inactivityAfter, func() {
		a.logger.Warn("session: closing VolumeOpen session after inactivity timeout")
		a.Close()
	})
}

// Touch resets the inactivity timer; call it after each completed
// operation.
func (a *Authenticator) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == VolumeOpen {
		a.resetTimerLocked()
	}
}

// MasterKey returns the active master key, or nil outside VolumeOpen.
func (a *Authenticator) MasterKey() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != VolumeOpen || a.masterKey == nil {
		return nil
	}
	return a.masterKey.Bytes()
}

// Close zeros key material and transitions to Closed from any state
// (spec §4.4 "Key material is zeroized on every exit from VolumeOpen").
func (a *Authenticator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if a.masterKey != nil {
		a.masterKey.Close()
		a.masterKey = nil
	}
	a.state = Closed
}
