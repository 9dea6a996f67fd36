package advdata

// Builder assembles an advertising payload for adapters that only expose
// already-parsed scan results. Fields that do not fit in MaxLen bytes are
// dropped and recorded as ErrTooLong.
type Builder struct {
	buf []byte
	err error
}

// Add appends one AD structure.
func (b *Builder) Add(typ byte, value []byte) {
	if len(b.buf)+2+len(value) > MaxLen {
		b.err = ErrTooLong
		return
	}
	b.buf = append(b.buf, byte(len(value)+1), typ)
	b.buf = append(b.buf, value...)
}

// AddService128 appends a complete list of 128-bit service UUIDs.
func (b *Builder) AddService128(uuids ...UUID) {
	value := make([]byte, 0, 16*len(uuids))
	for _, u := range uuids {
		value = append(value, u[:]...)
	}
	b.Add(TypeService128Complete, value)
}

// AddName appends the local name, shortening it to whatever room is left.
func (b *Builder) AddName(name string) {
	if name == "" {
		return
	}
	room := MaxLen - len(b.buf) - 2
	if room <= 0 {
		return
	}
	if len(name) > room {
		b.Add(TypeShortName, []byte(name[:room]))
		return
	}
	b.Add(TypeCompleteName, []byte(name))
}

// Bytes returns the payload built so far and the first error, if any.
func (b *Builder) Bytes() ([]byte, error) {
	return b.buf, b.err
}
