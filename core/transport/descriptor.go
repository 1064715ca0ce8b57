package transport

// Descriptor is one logical chunk of outbound data passed to Write.
type Descriptor struct {
	data   []byte
	cached bool
}

// Bytes describes data that is copied into arena buffers during Write.
// The caller may reuse p as soon as Write returns.
func Bytes(p []byte) Descriptor {
	return Descriptor{data: p}
}

// String is Bytes for a string
func String(s string) Descriptor {
	return Descriptor{data: []byte(s)}
}

// Cached describes caller-owned data that is referenced, not copied.
// p must stay unmodified until the connection has written it or terminated.
func Cached(p []byte) Descriptor {
	return Descriptor{data: p, cached: true}
}

// Len returns the descriptor length in bytes
func (d Descriptor) Len() int {
	return len(d.data)
}

// IsCached reports whether the descriptor is referenced rather than copied
func (d Descriptor) IsCached() bool {
	return d.cached
}
