package command

import "strings"

// Payload template tokens.
//
// Templates may reference the command's opcode, a device configuration
// parameter, or the outgoing value:
//
//	$C        replaced by the command opcode
//	$P:key:   replaced by the device parameter "key" (empty if unset)
//	$V        replaced by the encoded outgoing value
//
// The parameter pass repeats until no tokens remain, so parameter
// values may themselves contain further $P references. The value pass
// runs only when a value is supplied (writes).
const (
	tokenOpcode      = "$C"
	tokenValue       = "$V"
	tokenParamPrefix = "$P:"
)

// maxParamPasses bounds the parameter substitution loop so
// self-referential parameter values terminate.
const maxParamPasses = 8

// renderTemplate applies the full substitution sequence to a payload
// template: opcode, then parameters (iterated), then the value when
// one is present.
func renderTemplate(tmpl, opcode string, params map[string]string, value *string) string {
	s := strings.ReplaceAll(tmpl, tokenOpcode, opcode)

	for pass := 0; pass < maxParamPasses && strings.Contains(s, tokenParamPrefix); pass++ {
		next, changed := substituteParams(s, params)
		if !changed {
			break
		}
		s = next
	}

	if value != nil {
		s = strings.ReplaceAll(s, tokenValue, *value)
	}

	return s
}

// substituteParams replaces every well-formed $P:key: token in one
// pass. Unterminated tokens are left in place; unknown keys substitute
// the empty string.
func substituteParams(s string, params map[string]string) (string, bool) {
	var b strings.Builder
	changed := false
	rest := s

	for {
		idx := strings.Index(rest, tokenParamPrefix)
		if idx < 0 {
			b.WriteString(rest)
			break
		}

		keyStart := idx + len(tokenParamPrefix)
		end := strings.Index(rest[keyStart:], ":")
		if end < 0 {
			b.WriteString(rest)
			break
		}

		key := rest[keyStart : keyStart+end]
		b.WriteString(rest[:idx])
		b.WriteString(params[key])
		changed = true
		rest = rest[keyStart+end+1:]
	}

	return b.String(), changed
}

// renderTree renders an extra-parameters tree. Strings receive the
// value substitution pass only; the opcode and parameter passes apply
// solely at the template level. Sequences and mappings render
// element-wise, other scalars pass through unchanged.
func renderTree(node any, value *string) any {
	switch n := node.(type) {
	case string:
		if value != nil {
			return strings.ReplaceAll(n, tokenValue, *value)
		}
		return n
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = renderTree(v, value)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = renderTree(v, value)
		}
		return out
	default:
		return n
	}
}
