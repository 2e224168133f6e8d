package branch

// EffectorMap flags, per fixed-size chunk, whether touching that chunk
// changed the coverage checksum during an earlier probing pass (flip8).
// Deterministic stages use it to skip chunks known to be no-ops, cutting
// the cost of the expensive wide stages (flip16/32, arith16/32,
// interest16/32).
type EffectorMap struct {
	effective []bool
	chunkSize int
}

// NewEffectorMap allocates a map over length bytes, divided into
// chunkSize-byte chunks (8 bytes by default).
func NewEffectorMap(length, chunkSize int) *EffectorMap {
	if chunkSize <= 0 {
		chunkSize = 8
	}
	n := (length + chunkSize - 1) / chunkSize
	return &EffectorMap{effective: make([]bool, n), chunkSize: chunkSize}
}

// ChunkOf returns the chunk index a byte position falls in.
func (e *EffectorMap) ChunkOf(pos int) int { return pos / e.chunkSize }

// MarkEffective records that touching pos's chunk changed coverage.
func (e *EffectorMap) MarkEffective(pos int) {
	c := e.ChunkOf(pos)
	if c < len(e.effective) {
		e.effective[c] = true
	}
}

// IsEffective reports whether pos's chunk is known effective. Positions
// past the map's end are conservatively treated as effective.
func (e *EffectorMap) IsEffective(pos int) bool {
	c := e.ChunkOf(pos)
	if c >= len(e.effective) {
		return true
	}
	return e.effective[c]
}

// ShouldBypass reports whether the effector map has stopped being worth
// consulting: inputs shorter than effMinLen never gate on it, and if more
// than effMaxPerc percent of chunks are already known effective, gating
// saves no work and every position should be treated as effective.
func (e *EffectorMap) ShouldBypass(length, effMinLen, effMaxPerc int) bool {
	if length < effMinLen {
		return true
	}
	if len(e.effective) == 0 {
		return true
	}
	eff := 0
	for _, v := range e.effective {
		if v {
			eff++
		}
	}
	pct := eff * 100 / len(e.effective)
	return pct > effMaxPerc
}
