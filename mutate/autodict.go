package mutate

// AutoToken is one auto-extracted dictionary candidate mined during flip1.
type AutoToken struct {
	Bytes []byte
}

// AutoDict holds the auto-extracted tokens consumed by the extras_AO
// stage, capped at cfg.MaxAutoExtra entries and deduplicated against the
// user dictionary. Grounded on original_source/src/afl-fuzz-one.c's
// auto-dictionary bookkeeping: tokens already present in the user
// dictionary, or degenerating to a single repeated byte, are discarded
// (the "auto-dictionary token quality gate" SPEC_FULL.md supplements).
type AutoDict struct {
	tokens     []AutoToken
	maxEntries int
	minLen     int
	maxLen     int
}

// NewAutoDict returns an empty auto-dictionary bounded by cfg's
// MinAutoExtra/MaxAutoExtra/MaxDictFile.
func NewAutoDict(minLen, maxLen, maxEntries int) *AutoDict {
	return &AutoDict{minLen: minLen, maxLen: maxLen, maxEntries: maxEntries}
}

func isDegenerate(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	for _, v := range b[1:] {
		if v != b[0] {
			return false
		}
	}
	return true
}

func containsToken(list []AutoToken, tok []byte) bool {
	for _, t := range list {
		if len(t.Bytes) != len(tok) {
			continue
		}
		match := true
		for i := range tok {
			if t.Bytes[i] != tok[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// Add filters and inserts a candidate mined token: too short/long tokens
// are dropped, degenerate (single-repeated-byte) tokens are dropped, and
// duplicates of the user dictionary or of already-mined tokens are
// dropped. The dictionary caps at maxEntries, dropping the oldest entry
// to make room (FIFO, mirroring the source's ring-buffer-like behavior).
func (d *AutoDict) Add(candidate []byte, userDict [][]byte) {
	if len(candidate) < d.minLen || len(candidate) > d.maxLen {
		return
	}
	if isDegenerate(candidate) {
		return
	}
	for _, u := range userDict {
		if containsToken([]AutoToken{{Bytes: u}}, candidate) {
			return
		}
	}
	if containsToken(d.tokens, candidate) {
		return
	}
	tok := AutoToken{Bytes: append([]byte{}, candidate...)}
	if len(d.tokens) >= d.maxEntries {
		d.tokens = d.tokens[1:]
	}
	d.tokens = append(d.tokens, tok)
}

// Tokens returns the current auto-dictionary contents.
func (d *AutoDict) Tokens() []AutoToken { return d.tokens }

// Len reports the number of auto-dictionary entries.
func (d *AutoDict) Len() int { return len(d.tokens) }
