package conference

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sebac/pbxcore/internal/media"
	"github.com/sebac/pbxcore/internal/metrics"
)

// Manager is the process-wide conference room registry: rooms are
// created lazily on first join and removed once their mixer goroutine
// decides (via Conference.shouldDestroy) that they should go away.
type Manager struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Conference

	ctx context.Context
}

// NewManager returns an empty conference manager. ctx is the parent
// context every room's mixer goroutine and member read pump runs
// under; cancelling it tears down every active room.
func NewManager(ctx context.Context, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{log: log, rooms: make(map[string]*Conference), ctx: ctx}
}

// Join resolves name to a conference, creating and starting it on
// first join, then adds m to it. pin is checked only if the room is
// (or becomes) locked.
func (mgr *Manager) Join(name string, codec media.Codec, m *Member, pin string) (*Conference, error) {
	mgr.mu.Lock()
	room, ok := mgr.rooms[name]
	if !ok {
		room = New(name, codec, mgr.log)
		room.OnEmpty(func(c *Conference) {
			mgr.remove(name, c)
		})
		mgr.rooms[name] = room
		room.Run(mgr.ctx)
		metrics.ConferencesActive.Inc()
	}
	mgr.mu.Unlock()

	if err := room.Join(m, pin); err != nil {
		return nil, err
	}
	metrics.ConferenceMembersActive.Inc()
	return room, nil
}

func (mgr *Manager) remove(name string, c *Conference) {
	mgr.mu.Lock()
	if mgr.rooms[name] == c {
		delete(mgr.rooms, name)
	}
	mgr.mu.Unlock()
	metrics.ConferencesActive.Dec()
	mgr.log.Info("conference destroyed", "conference", name)
}

// Lookup returns the named room if it currently exists.
func (mgr *Manager) Lookup(name string) (*Conference, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	c, ok := mgr.rooms[name]
	return c, ok
}

// Names returns the currently active room names.
func (mgr *Manager) Names() []string {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	out := make([]string, 0, len(mgr.rooms))
	for n := range mgr.rooms {
		out = append(out, n)
	}
	return out
}
