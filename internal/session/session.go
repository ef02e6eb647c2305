// Package session is the identity handle the core reads the current owner
// from.
//
// Nothing in the core reads a global "current user". Components hold a
// *Manager and ask it explicitly; every sign-in or sign-out bumps an epoch so
// work started under one owner can tell, when it completes, whether the
// owner it was started for is still the current one.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/progress-tracker/internal/apperror"
)

// State is a point-in-time view of the session.
type State struct {
	OwnerID string
	Token   string
	Epoch   uint64
}

// SignedIn reports whether an owner is present.
func (s State) SignedIn() bool {
	return s.OwnerID != ""
}

// Listener is called after every owner change with the previous and the new
// state. Listeners run synchronously, in registration order.
type Listener func(prev, next State)

// Manager holds the current owner and notifies listeners on change.
type Manager struct {
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
	order     []int
}

// NewManager creates a signed-out Manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:    logger,
		listeners: make(map[int]Listener),
	}
}

// Current returns the current state.
func (m *Manager) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OwnerID returns the current owner id and whether one is signed in.
func (m *Manager) OwnerID() (string, bool) {
	s := m.Current()
	return s.OwnerID, s.SignedIn()
}

// IsCurrent reports whether epoch is still the live session epoch.
func (m *Manager) IsCurrent(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Epoch == epoch
}

// SignIn makes ownerID the current owner. Signing in as the owner that is
// already current keeps the session (and its epoch) as is.
func (m *Manager) SignIn(ownerID string) (State, error) {
	if ownerID == "" {
		return State{}, apperror.ValidationFailed("owner_id", "owner id must not be empty")
	}
	return m.set(ownerID, ""), nil
}

// SignInWithToken signs in as the subject of a token issued by the server.
//
// The token is not verified here: the signing secret lives on the server,
// which verifies it on every request. The claims are only read to learn the
// owner id and to refuse a token that has already expired.
func (m *Manager) SignInWithToken(token string) (State, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return State{}, apperror.ValidationFailed("token", fmt.Sprintf("malformed token: %v", err))
	}
	if claims.Subject == "" {
		return State{}, apperror.ValidationFailed("token", "token has no subject")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return State{}, apperror.NotAuthenticated()
	}
	return m.set(claims.Subject, token), nil
}

// SignOut clears the current owner. Signing out while signed out is a no-op.
func (m *Manager) SignOut() {
	m.set("", "")
}

// OnChange registers l and returns a function that unregisters it.
func (m *Manager) OnChange(l Listener) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.order = append(m.order, id)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) set(ownerID, token string) State {
	m.mu.Lock()
	prev := m.state
	if prev.OwnerID == ownerID {
		if token != "" {
			m.state.Token = token
		}
		s := m.state
		m.mu.Unlock()
		return s
	}
	m.state = State{OwnerID: ownerID, Token: token, Epoch: prev.Epoch + 1}
	next := m.state
	listeners := make([]Listener, 0, len(m.listeners))
	for _, id := range m.order {
		if l, ok := m.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	m.mu.Unlock()

	m.logger.Info("session owner changed",
		slog.String("previous_owner", prev.OwnerID),
		slog.String("owner_id", next.OwnerID),
		slog.Uint64("epoch", next.Epoch),
	)
	for _, l := range listeners {
		l(prev, next)
	}
	return next
}

// Require returns the current state or a NotAuthenticated error.
func (m *Manager) Require() (State, error) {
	s := m.Current()
	if !s.SignedIn() {
		return State{}, apperror.NotAuthenticated()
	}
	return s, nil
}
