package pbx

import (
	"strings"
	"sync"
)

// DeviceState is the per-device state reported into a hint's
// aggregate.
type DeviceState int

const (
	DeviceNotInUse DeviceState = iota
	DeviceInUse
	DeviceBusy
	DeviceRinging
	DeviceUnavailable
	DeviceRingingInUse
)

func (s DeviceState) String() string {
	switch s {
	case DeviceNotInUse:
		return "NOT_INUSE"
	case DeviceInUse:
		return "INUSE"
	case DeviceBusy:
		return "BUSY"
	case DeviceRinging:
		return "RINGING"
	case DeviceUnavailable:
		return "UNAVAILABLE"
	case DeviceRingingInUse:
		return "RINGING+INUSE"
	default:
		return "UNKNOWN"
	}
}

// Watcher is invoked when a hint's aggregate device state changes.
type Watcher func(context, exten string, state DeviceState)

// hint is one priority-0 extension whose app-data lists devices.
type hint struct {
	mu       sync.Mutex
	context  string
	exten    string
	devices  []string
	states   map[string]DeviceState
	watchers []Watcher
}

// HintTable is the process-wide registry of device-state watches,
// keyed by context+exten of the priority-0 extension that declared
// the device list.
type HintTable struct {
	mu    sync.RWMutex
	hints map[string]*hint
}

// NewHintTable returns an empty hint table.
func NewHintTable() *HintTable {
	return &HintTable{hints: make(map[string]*hint)}
}

func hintKey(context, exten string) string { return context + "\x00" + exten }

// Register declares a hint for context/exten, backed by an
// ampersand-separated device list, e.g. "SIP/1000&SIP/1001".
func (t *HintTable) Register(context, exten, deviceList string) {
	devices := strings.Split(deviceList, "&")
	h := &hint{
		context: context,
		exten:   exten,
		devices: devices,
		states:  make(map[string]DeviceState, len(devices)),
	}
	for _, d := range devices {
		h.states[d] = DeviceNotInUse
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hints[hintKey(context, exten)] = h
}

// Watch registers a watcher for context/exten's aggregate state.
func (t *HintTable) Watch(context, exten string, w Watcher) {
	t.mu.RLock()
	h, ok := t.hints[hintKey(context, exten)]
	t.mu.RUnlock()
	if !ok {
		return
	}
	h.mu.Lock()
	h.watchers = append(h.watchers, w)
	h.mu.Unlock()
}

// SetDeviceState updates device's state across every hint that lists
// it, recomputing each hint's aggregate and invoking its watchers only
// when the aggregate actually changed.
func (t *HintTable) SetDeviceState(device string, state DeviceState) {
	t.mu.RLock()
	hints := make([]*hint, 0, len(t.hints))
	for _, h := range t.hints {
		hints = append(hints, h)
	}
	t.mu.RUnlock()

	for _, h := range hints {
		h.mu.Lock()
		if _, tracked := h.states[device]; !tracked {
			h.mu.Unlock()
			continue
		}
		old := h.aggregate()
		h.states[device] = state
		next := h.aggregate()
		watchers := append([]Watcher(nil), h.watchers...)
		ctxName, exten := h.context, h.exten
		h.mu.Unlock()

		if next != old {
			for _, w := range watchers {
				w(ctxName, exten, next)
			}
		}
	}
}

// aggregate computes the hint's combined device state. Caller must
// hold h.mu.
func (h *hint) aggregate() DeviceState {
	anyRinging, anyInUse, anyBusy, allUnavailable := false, false, false, true
	for _, s := range h.states {
		if s != DeviceUnavailable {
			allUnavailable = false
		}
		switch s {
		case DeviceRinging:
			anyRinging = true
		case DeviceInUse:
			anyInUse = true
		case DeviceBusy:
			anyBusy = true
		}
	}
	if allUnavailable {
		return DeviceUnavailable
	}
	if anyRinging && anyInUse {
		return DeviceRingingInUse
	}
	if anyRinging {
		return DeviceRinging
	}
	if anyBusy {
		return DeviceBusy
	}
	if anyInUse {
		return DeviceInUse
	}
	return DeviceNotInUse
}
