// Package config implements the hierarchical configuration engine: an
// nginx-style directive parser with include resolution, a schema-versioning
// transformer, a validator that enforces schema closure, a typed accessor
// layer reconciling environment/tree/default in strict precedence, and a
// reload diff/dispatch pipeline that notifies subscribers of what changed.
package config

// Directive is the sole structural node of the configuration tree. It has a
// name, an ordered list of positional arguments, an ordered list of child
// directives, and a source line number used for diagnostics.
type Directive struct {
	Name     string
	Args     []string
	Children []*Directive
	Line     int
}

// NewDirective constructs a leaf or block directive. Children may be nil.
func NewDirective(name string, args []string, line int) *Directive {
	return &Directive{Name: name, Args: append([]string(nil), args...), Line: line}
}

// IsLeaf reports whether the directive has no children.
func (d *Directive) IsLeaf() bool {
	return d == nil || len(d.Children) == 0
}

// Arg returns the positional argument at index i, or "" when absent.
func (d *Directive) Arg(i int) string {
	if d == nil || i < 0 || i >= len(d.Args) {
		return ""
	}
	return d.Args[i]
}

// Get returns the first direct child named name, or nil.
func (d *Directive) Get(name string) *Directive {
	if d == nil {
		return nil
	}
	for _, c := range d.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// GetAll returns every direct child named name, in order.
func (d *Directive) GetAll(name string) []*Directive {
	if d == nil {
		return nil
	}
	var out []*Directive
	for _, c := range d.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Clone deep-copies the directive and its subtree.
func (d *Directive) Clone() *Directive {
	if d == nil {
		return nil
	}
	clone := &Directive{
		Name: d.Name,
		Args: append([]string(nil), d.Args...),
		Line: d.Line,
	}
	if d.Children != nil {
		clone.Children = make([]*Directive, len(d.Children))
		for i, c := range d.Children {
			clone.Children[i] = c.Clone()
		}
	}
	return clone
}

// NewRoot constructs the synthetic root directive of a parsed file: name
// "root", no arguments, and the file's top-level directives as children.
func NewRoot(children []*Directive) *Directive {
	return &Directive{Name: "root", Children: children}
}

// Equal reports whether two directives (and their subtrees) are structurally
// equal: same name, same ordered arguments, same ordered children
// (recursively equal).
func Equal(a, b *Directive) bool {
	return equalExcept(a, b, "")
}

// EqualExcept is a variant of Equal that skips children named exceptName
// during comparison at every level of the subtree. It is used by the reload
// dispatcher to ignore policy-only subtrees (e.g. dvr_apply) when diffing.
func EqualExcept(a, b *Directive, exceptName string) bool {
	return equalExcept(a, b, exceptName)
}

func equalExcept(a, b *Directive, exceptName string) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name {
		return false
	}
	if len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	ac := filterChildren(a.Children, exceptName)
	bc := filterChildren(b.Children, exceptName)
	if len(ac) != len(bc) {
		return false
	}
	for i := range ac {
		if !equalExcept(ac[i], bc[i], exceptName) {
			return false
		}
	}
	return true
}

func filterChildren(children []*Directive, exceptName string) []*Directive {
	if exceptName == "" {
		return children
	}
	out := make([]*Directive, 0, len(children))
	for _, c := range children {
		if c.Name == exceptName {
			continue
		}
		out = append(out, c)
	}
	return out
}
