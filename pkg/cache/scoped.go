package cache

// ScopedKeyer wraps a Keyer with a prefix so that renders from different
// engines never share entries.
//
//	plantuml := NewScopedKeyer(nil, "plantuml:")
//	graphviz := NewScopedKeyer(nil, "graphviz:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// A nil inner keyer uses DefaultKeyer.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// RenderKey generates a prefixed render key.
func (k *ScopedKeyer) RenderKey(source string, opts RenderKeyOpts) string {
	return k.prefix + k.inner.RenderKey(source, opts)
}
