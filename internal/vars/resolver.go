package vars

import (
	"strconv"
	"time"
)

// SyntheticNames lists the fixed synthetic channel variables resolved
// before a channel's own variable store. Order is documentation only —
// resolution is by name, not position.
var SyntheticNames = []string{
	"CALLERID", "CALLERIDNUM", "EXTEN", "CONTEXT", "PRIORITY", "CHANNEL",
	"UNIQUEID", "HANGUPCAUSE", "ACCOUNTCODE", "LANGUAGE", "SYSTEMNAME",
	"HINT", "HINTNAME", "RDNIS", "DNID", "CALLINGPRES", "CALLINGANI2",
	"CALLINGTON", "CALLINGTNS",
}

// SyntheticSource is implemented by whatever owns the current call
// (normally channel.Channel) to answer the fixed synthetic-variable
// set without needing a reverse import of the channel package here.
type SyntheticSource interface {
	// Synthetic returns the value of one of SyntheticNames, or
	// ok=false if name is not one of the synthetic set.
	Synthetic(name string) (string, bool)
}

// Func is a dialplan function invoked by ${NAME(ARGS):OFF:LEN}.
type Func func(args []string) (string, error)

// FuncRegistry is the name -> Func lookup table consulted for
// function-style substitution tokens.
type FuncRegistry struct {
	fns map[string]Func
}

// NewFuncRegistry returns an empty function registry.
func NewFuncRegistry() *FuncRegistry {
	return &FuncRegistry{fns: make(map[string]Func)}
}

// Register adds or replaces the function named name.
func (f *FuncRegistry) Register(name string, fn Func) {
	f.fns[name] = fn
}

// Call invokes the named function. ok is false if name is not
// registered or the function itself returned an error.
func (f *FuncRegistry) Call(name string, args []string) (string, bool) {
	fn, found := f.fns[name]
	if !found {
		return "", false
	}
	v, err := fn(args)
	if err != nil {
		return "", false
	}
	return v, true
}

// Resolver implements the full lookup chain: (1) synthetic channel
// variables, (2) the channel's own store, (3) built-in computed
// globals (EPOCH/DATETIME/TIMESTAMP), (4) the process-global store.
//
// Per the resolved open question, synthetic variables win over a
// channel variable of the same name — a channel variable literally
// named EXTEN is shadowed. This is deliberate, not an oversight.
type Resolver struct {
	Synthetic SyntheticSource // nil outside a channel context
	Channel   *Store          // nil outside a channel context
	Global    *Store
	Funcs     *FuncRegistry
}

// Lookup resolves name through the four-tier chain described above.
func (r *Resolver) Lookup(name string) (string, bool) {
	if r.Synthetic != nil {
		if v, ok := r.Synthetic.Synthetic(name); ok {
			return v, true
		}
	}
	if r.Channel != nil {
		if v, ok := r.Channel.Get(name); ok {
			return v, true
		}
	}
	if v, ok := builtinGlobal(name); ok {
		return v, true
	}
	if r.Global != nil {
		if v, ok := r.Global.Get(name); ok {
			return v, true
		}
	}
	return "", false
}

func builtinGlobal(name string) (string, bool) {
	now := time.Now()
	switch name {
	case "EPOCH":
		return strconv.FormatInt(now.Unix(), 10), true
	case "DATETIME":
		return now.Format("2006-01-02 15:04:05"), true
	case "TIMESTAMP":
		return now.Format("20060102-150405"), true
	}
	return "", false
}
