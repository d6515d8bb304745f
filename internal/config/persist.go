package config

import "strings"

// Persist serializes a directive tree back to nginx-style configuration
// text. The root directive itself (name "root") is not printed; only its
// children are. Persist and Parse round-trip: Parse(Persist(t)) is
// structurally Equal to t, modulo include expansion (Persist never emits
// include directives since the tree it serializes has already had them
// inlined).
func Persist(root *Directive) string {
	var b strings.Builder
	writeChildren(&b, root.Children, 0)
	return b.String()
}

func writeChildren(b *strings.Builder, children []*Directive, depth int) {
	indent := strings.Repeat("    ", depth)
	for _, c := range children {
		b.WriteString(indent)
		b.WriteString(quoteIfNeeded(c.Name))
		for _, a := range c.Args {
			b.WriteByte(' ')
			b.WriteString(quoteIfNeeded(a))
		}
		if c.IsLeaf() {
			b.WriteString(";\n")
			continue
		}
		b.WriteString(" {\n")
		writeChildren(b, c.Children, depth+1)
		b.WriteString(indent)
		b.WriteString("}\n")
	}
}

// quoteIfNeeded wraps a token in double quotes when it contains characters
// that would otherwise be parsed as whitespace or a terminator.
func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	needsQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n', ';', '{', '}', '#', '"', '\'':
			needsQuote = true
		}
	}
	if !needsQuote {
		return s
	}
	return `"` + s + `"`
}
