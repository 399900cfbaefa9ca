package main

import "github.com/sebac/pbxcore/internal/pbx"

// seedDialplan returns a small in-code demo dialplan: a classic-INI
// dialplan.conf parser is explicitly out of scope (spec.md's "Out of
// scope" list), so the core boots with a minimal "default" context
// good enough to answer a call, echo a DISA-style passcode prompt on
// extension 100, and hang up cleanly everywhere else.
func seedDialplan(reg *pbx.Registry) {
	def := pbx.NewContext("default")
	def.AddExtension(&pbx.Extension{
		Pattern: "s",
		Priorities: []pbx.Priority{
			{Number: 1, App: "Answer"},
			{Number: 2, App: "Goto", Data: "default,100,1"},
		},
	})
	def.AddExtension(&pbx.Extension{
		Pattern: "100",
		Priorities: []pbx.Priority{
			{Number: 1, App: "DISA", Data: "no-password,disa"},
			{Number: 2, App: "Hangup"},
		},
	})
	def.AddExtension(&pbx.Extension{
		Pattern: "h",
		Priorities: []pbx.Priority{
			{Number: 1, App: "NoOp", Data: "call ended"},
		},
	})

	disa := pbx.NewContext("disa")
	disa.AddExtension(&pbx.Extension{
		Pattern: "_X.",
		Priorities: []pbx.Priority{
			{Number: 1, App: "NoOp", Data: "reached ${EXTEN} via DISA"},
			{Number: 2, App: "Hangup"},
		},
	})

	reg.Load(map[string]*pbx.Context{
		"default": def,
		"disa":    disa,
	})
}
