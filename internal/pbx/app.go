package pbx

import (
	"context"
	"fmt"
	"sync"

	"github.com/sebac/pbxcore/internal/channel"
)

// AppResult is the outcome of executing one dialplan application
// instance within a priority.
type AppResult int

const (
	// ResultOK means the application finished normally; the
	// interpreter advances to the next priority.
	ResultOK AppResult = iota
	// ResultKeepalive requests the h-extension-without-hangup
	// behavior: jump to "h" but leave the channel connected.
	ResultKeepalive
	// ResultDigit is returned alongside a DTMF digit the application
	// collected out of band, escaping the main loop so the caller can
	// act on it (e.g. feature-code interception).
	ResultDigit
)

// AppReturn is what an Application's Run method reports back to the
// interpreter.
type AppReturn struct {
	Result AppResult
	Digit  rune
}

// Application is a dialplan function registered under an app name,
// invoked with its app-data string already variable-substituted.
type Application interface {
	Name() string
	Run(ctx context.Context, ch *channel.Channel, data string) (AppReturn, error)
}

// AppFunc adapts a plain function to the Application interface for
// simple, stateless applications.
type AppFunc struct {
	AppName string
	Fn      func(ctx context.Context, ch *channel.Channel, data string) (AppReturn, error)
}

func (f AppFunc) Name() string { return f.AppName }
func (f AppFunc) Run(ctx context.Context, ch *channel.Channel, data string) (AppReturn, error) {
	return f.Fn(ctx, ch, data)
}

// AppRegistry is the function registry applications are looked up in
// by name when a priority executes.
type AppRegistry struct {
	mu    sync.RWMutex
	byName map[string]Application
}

// NewAppRegistry returns an empty application registry.
func NewAppRegistry() *AppRegistry {
	return &AppRegistry{byName: make(map[string]Application)}
}

// Register adds app under its own Name(). Re-registering the same
// name replaces the previous entry, the same "module reload redefines
// its own app" behavior the loader relies on.
func (r *AppRegistry) Register(app Application) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[app.Name()] = app
}

// Unregister removes an application by name.
func (r *AppRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// Lookup finds a registered application by name.
func (r *AppRegistry) Lookup(name string) (Application, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("pbx: application %q not registered", name)
	}
	return app, nil
}
