package vars

import (
	"strconv"
	"strings"

	"github.com/sebac/pbxcore/internal/dynbuf"
)

// maxRecursionDepth bounds nested ${...}/$[...] expansion; beyond it
// the innermost unexpanded text is returned as-is rather than
// recursing further.
const maxRecursionDepth = 8

// Substitute expands every ${...} and $[...] token in template against
// r, then truncates the result to maxLen bytes if maxLen > 0. The
// second return value reports whether truncation occurred — the
// source's "writes beyond the caller's buffer truncate silently and
// log once" contract; logging that once is the caller's job.
func (r *Resolver) Substitute(template string, maxLen int) (string, bool) {
	out := r.substitute(template, 0)
	if maxLen > 0 && len(out) > maxLen {
		return out[:maxLen], true
	}
	return out, false
}

func (r *Resolver) substitute(template string, depth int) string {
	if depth > maxRecursionDepth {
		return template
	}

	var b dynbuf.Str
	i := 0
	for i < len(template) {
		if template[i] == '$' && i+1 < len(template) && (template[i+1] == '{' || template[i+1] == '[') {
			open := template[i+1]
			end, ok := findMatchingClose(template, i+1)
			if !ok {
				b.AppendByte(template[i])
				i++
				continue
			}
			inner := template[i+2 : end]
			resolved := r.substitute(inner, depth+1)

			var value string
			if open == '{' {
				value = r.resolveVarToken(resolved)
			} else {
				value = EvalExpr(resolved)
			}
			b.Append(value)
			i = end + 1
			continue
		}
		b.AppendByte(template[i])
		i++
	}
	return b.String()
}

// findMatchingClose returns the index of the '}' or ']' matching the
// delimiter at template[openIdx], tracking nested ${ and $[ openers so
// a function argument list containing its own substitution (e.g.
// ${FOO:$[1+2]:3}) balances correctly.
func findMatchingClose(template string, openIdx int) (int, bool) {
	stack := []byte{closeFor(template[openIdx])}
	i := openIdx + 1
	for i < len(template) {
		if template[i] == '$' && i+1 < len(template) && (template[i+1] == '{' || template[i+1] == '[') {
			stack = append(stack, closeFor(template[i+1]))
			i += 2
			continue
		}
		if len(stack) > 0 && template[i] == stack[len(stack)-1] {
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
		i++
	}
	return -1, false
}

func closeFor(open byte) byte {
	if open == '{' {
		return '}'
	}
	return ']'
}

// resolveVarToken interprets an already-substituted ${...} body as
// one of: NAME, NAME(ARGS):OFF:LEN, or NAME:OFF:LEN.
func (r *Resolver) resolveVarToken(token string) string {
	name, args, hasArgs, offStr, lenStr, hasOff, hasLen := splitVarToken(token)

	var value string
	var ok bool
	if hasArgs {
		value, ok = r.Funcs.Call(name, args)
	} else {
		value, ok = r.Lookup(name)
	}
	if !ok {
		return ""
	}
	if hasOff {
		value = sliceValue(value, offStr, lenStr, hasLen)
	}
	return value
}

func splitVarToken(token string) (name string, args []string, hasArgs bool, offStr, lenStr string, hasOff, hasLen bool) {
	if idx := strings.IndexByte(token, '('); idx >= 0 {
		if end := strings.IndexByte(token[idx:], ')'); end >= 0 {
			end += idx
			name = token[:idx]
			hasArgs = true
			if argsStr := token[idx+1 : end]; argsStr != "" {
				args = strings.Split(argsStr, ",")
			}
			rest := strings.TrimPrefix(token[end+1:], ":")
			if rest != "" {
				parts := strings.SplitN(rest, ":", 2)
				offStr = parts[0]
				hasOff = true
				if len(parts) == 2 {
					lenStr = parts[1]
					hasLen = true
				}
			}
			return
		}
	}

	parts := strings.SplitN(token, ":", 3)
	name = parts[0]
	if len(parts) >= 2 {
		offStr = parts[1]
		hasOff = true
	}
	if len(parts) >= 3 {
		lenStr = parts[2]
		hasLen = true
	}
	return
}

// sliceValue applies the OFF:LEN clamp rules: a negative OFF is
// measured from the end; an OFF past the end clamps to the end; a LEN
// that would run off the end is shortened.
func sliceValue(s, offStr, lenStr string, hasLen bool) string {
	off, err := strconv.Atoi(strings.TrimSpace(offStr))
	if err != nil {
		return s
	}
	n := len(s)
	if off < 0 {
		off = n + off
	}
	if off < 0 {
		off = 0
	}
	if off > n {
		off = n
	}
	if !hasLen {
		return s[off:]
	}
	length, err := strconv.Atoi(strings.TrimSpace(lenStr))
	if err != nil {
		return s[off:]
	}
	if length < 0 {
		length = 0
	}
	end := off + length
	if end > n {
		end = n
	}
	return s[off:end]
}
