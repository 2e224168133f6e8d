package mutate

import (
	"github.com/bradleyjkemp/rarefuzz/config"
	"github.com/bradleyjkemp/rarefuzz/iface"
)

// StageStats summarizes one deterministic stage's run: how many
// mutations were attempted vs. gated out, and how many executions
// produced a new coverage finding attributed to the stage: any
// post-read queue-count delta is credited to whichever stage was running.
type StageStats struct {
	Name    string
	Cycles  int
	Skipped int
	Finds   int
}

// execProbe wraps an Executor with the running "queued_paths" baseline a
// stage needs to turn each run into a reward/find signal.
type execProbe struct {
	exec    iface.Executor
	current int
}

func newExecProbe(exec iface.Executor, baselineQueued int) *execProbe {
	return &execProbe{exec: exec, current: baselineQueued}
}

func (p *execProbe) run(buf []byte) (found bool, err error) {
	res, err := p.exec.Run(buf)
	if err != nil {
		return false, err
	}
	if res.Status == iface.StatusOK && res.QueuedPaths > p.current {
		found = true
	}
	if res.QueuedPaths > p.current {
		p.current = res.QueuedPaths
	}
	return found, nil
}

func xorBits(buf []byte, bitPos, width int) {
	for i := 0; i < width; i++ {
		bp := bitPos + i
		byteIdx := bp / 8
		if byteIdx >= len(buf) {
			return
		}
		buf[byteIdx] ^= 1 << uint(bp%8)
	}
}

func flipSubByteName(widthBits int) string {
	switch widthBits {
	case 1:
		return "flip1"
	case 2:
		return "flip2"
	case 4:
		return "flip4"
	default:
		return "flip"
	}
}

// FlipSubByte implements flip1/flip2/flip4: a walking XOR of widthBits
// (1, 2, or 4) bits at every bit offset, restoring after each
// application. widthBits==1 additionally mines auto-dictionary tokens:
// every 8th flip, it hashes the coverage trace, and a run of consecutive
// bytes whose hash differs from the unmutated baseline becomes a
// candidate token.
func FlipSubByte(exec iface.Executor, st *State, cfg config.Config, widthBits int, baselineQueued int, autoDict *AutoDict, userDict [][]byte) (StageStats, error) {
	stats := StageStats{Name: flipSubByteName(widthBits)}
	probe := newExecProbe(exec, baselineQueued)
	baselineChecksum := exec.ExecChecksum()
	runStart := -1
	totalBits := len(st.Buf) * 8

	for bitPos := 0; bitPos <= totalBits-widthBits; bitPos++ {
		bytePos := bitPos / 8
		endByte := (bitPos + widthBits - 1) / 8
		nBytes := endByte - bytePos + 1

		if !st.eligibleRange(bytePos, nBytes, true) {
			stats.Skipped++
			continue
		}

		xorBits(st.Buf, bitPos, widthBits)
		stats.Cycles++

		found, err := probe.run(st.Buf)
		if err != nil {
			xorBits(st.Buf, bitPos, widthBits)
			return stats, err
		}
		if found {
			stats.Finds++
		}

		if widthBits == 1 && bitPos%8 == 7 {
			cksum := exec.ExecChecksum()
			if cksum != baselineChecksum {
				if runStart < 0 {
					runStart = bytePos
				}
			} else if runStart >= 0 {
				mineToken(st.Buf, runStart, bytePos, autoDict, userDict, cfg)
				runStart = -1
			}
		}

		xorBits(st.Buf, bitPos, widthBits)
	}
	if widthBits == 1 && runStart >= 0 {
		mineToken(st.Buf, runStart, len(st.Buf), autoDict, userDict, cfg)
	}
	return stats, nil
}

func mineToken(buf []byte, start, end int, autoDict *AutoDict, userDict [][]byte, cfg config.Config) {
	if end <= start || end > len(buf) {
		return
	}
	autoDict.Add(buf[start:end], userDict)
}

func flipBytesName(widthBytes int) string {
	switch widthBytes {
	case 1:
		return "flip8"
	case 2:
		return "flip16"
	case 4:
		return "flip32"
	default:
		return "flip"
	}
}

// FlipBytes implements flip8/flip16/flip32: a walking 0xFF XOR across
// widthBytes contiguous bytes, stepping by one byte. flip8 (widthBytes==1)
// additionally fills the effector map -- marking a chunk effective iff
// flipping changes the coverage checksum -- and, in rare-branch mode,
// populates the branch mask's overwrite bit whenever the flip still
// reaches targetEdge. flip16/32 instead
// require every involved chunk already effective and, in rare-branch
// mode, every involved byte overwrite-safe.
func FlipBytes(exec iface.Executor, st *State, baselineQueued int, widthBytes int, rareMode bool, targetEdge int) (StageStats, error) {
	stats := StageStats{Name: flipBytesName(widthBytes)}
	probe := newExecProbe(exec, baselineQueued)
	n := len(st.Buf)

	for pos := 0; pos+widthBytes <= n; pos++ {
		if widthBytes == 1 {
			if st.Mask != nil && rareMode && !st.Mask.Overwritable(pos) {
				stats.Skipped++
				continue
			}
		} else {
			if !st.eligibleRange(pos, widthBytes, false) {
				stats.Skipped++
				continue
			}
		}

		for i := 0; i < widthBytes; i++ {
			st.Buf[pos+i] ^= 0xFF
		}
		stats.Cycles++

		baseCksum := exec.ExecChecksum()
		found, err := probe.run(st.Buf)
		if err != nil {
			for i := 0; i < widthBytes; i++ {
				st.Buf[pos+i] ^= 0xFF
			}
			return stats, err
		}
		if found {
			stats.Finds++
		}

		if widthBytes == 1 {
			if exec.ExecChecksum() != baseCksum {
				st.Eff.MarkEffective(pos)
			}
			if rareMode && st.Mask != nil && exec.TraceContains(targetEdge) {
				st.Mask.SetOverwrite(pos)
			}
		}

		for i := 0; i < widthBytes; i++ {
			st.Buf[pos+i] ^= 0xFF
		}
	}
	return stats, nil
}

func loadLE(buf []byte, pos, n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v |= uint32(buf[pos+i]) << uint(8*i)
	}
	return v
}

func storeLE(buf []byte, pos, n int, v uint32) {
	for i := 0; i < n; i++ {
		buf[pos+i] = byte(v >> uint(8*i))
	}
}

func loadBE(buf []byte, pos, n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v = v<<8 | uint32(buf[pos+i])
	}
	return v
}

func storeBE(buf []byte, pos, n int, v uint32) {
	for i := n - 1; i >= 0; i-- {
		buf[pos+i] = byte(v)
		v >>= 8
	}
}

func arithName(widthBytes int) string {
	switch widthBytes {
	case 1:
		return "arith8"
	case 2:
		return "arith16"
	case 4:
		return "arith32"
	default:
		return "arith"
	}
}

// Arith implements arith8/16/32: add and subtract every value in
// [1, ARITH_MAX] at each byte (widthBytes==1) or word/dword offset (both
// endiannesses for widthBytes>1), skipping any substitution
// CouldBeBitflip already reaches.
func Arith(exec iface.Executor, st *State, cfg config.Config, widthBytes int, baselineQueued int, rareMode bool) (StageStats, error) {
	stats := StageStats{Name: arithName(widthBytes)}
	probe := newExecProbe(exec, baselineQueued)
	n := len(st.Buf)

	tryValue := func(pos int, oldVal, newVal uint32, store func([]byte, int, int, uint32)) error {
		if CouldBeBitflip(oldVal ^ newVal) {
			stats.Skipped++
			return nil
		}
		store(st.Buf, pos, widthBytes, newVal)
		stats.Cycles++
		found, err := probe.run(st.Buf)
		if err != nil {
			store(st.Buf, pos, widthBytes, oldVal)
			return err
		}
		if found {
			stats.Finds++
		}
		store(st.Buf, pos, widthBytes, oldVal)
		return nil
	}

	for pos := 0; pos+widthBytes <= n; pos++ {
		if !st.eligibleRange(pos, widthBytes, widthBytes == 1) {
			stats.Skipped++
			continue
		}
		if rareMode && st.Mask != nil && !st.eligibleRange(pos, widthBytes, true) {
			continue
		}

		oldLE := loadLE(st.Buf, pos, widthBytes)
		for delta := 1; delta <= cfg.ArithMax; delta++ {
			for _, nv := range []uint32{oldLE + uint32(delta), oldLE - uint32(delta)} {
				if err := tryValue(pos, oldLE, nv, storeLE); err != nil {
					return stats, err
				}
			}
		}
		if widthBytes > 1 {
			oldBE := loadBE(st.Buf, pos, widthBytes)
			for delta := 1; delta <= cfg.ArithMax; delta++ {
				for _, nv := range []uint32{oldBE + uint32(delta), oldBE - uint32(delta)} {
					if err := tryValue(pos, oldBE, nv, storeBE); err != nil {
						return stats, err
					}
				}
			}
		}
	}
	return stats, nil
}

func interestName(widthBytes int) string {
	switch widthBytes {
	case 1:
		return "interest8"
	case 2:
		return "interest16"
	case 4:
		return "interest32"
	default:
		return "interest"
	}
}

// Interest implements interest8/16/32: substitute each known-interesting
// constant at every byte/word/dword offset (both endiannesses for
// width>1), skipping any value CouldBeBitflip or CouldBeArith already
// reaches.
func Interest(exec iface.Executor, st *State, cfg config.Config, widthBytes int, baselineQueued int, rareMode bool, tabs InterestingTables, values []int32) (StageStats, error) {
	stats := StageStats{Name: interestName(widthBytes)}
	probe := newExecProbe(exec, baselineQueued)
	n := len(st.Buf)

	tryValue := func(pos int, oldVal, newVal uint32, store func([]byte, int, int, uint32)) error {
		if CouldBeBitflip(oldVal^newVal) || CouldBeArith(oldVal, newVal, widthBytes, cfg.ArithMax) {
			stats.Skipped++
			return nil
		}
		store(st.Buf, pos, widthBytes, newVal)
		stats.Cycles++
		found, err := probe.run(st.Buf)
		if err != nil {
			store(st.Buf, pos, widthBytes, oldVal)
			return err
		}
		if found {
			stats.Finds++
		}
		store(st.Buf, pos, widthBytes, oldVal)
		return nil
	}

	for pos := 0; pos+widthBytes <= n; pos++ {
		if !st.eligibleRange(pos, widthBytes, widthBytes == 1) {
			stats.Skipped++
			continue
		}
		if rareMode && st.Mask != nil && !st.eligibleRange(pos, widthBytes, true) {
			continue
		}

		oldLE := loadLE(st.Buf, pos, widthBytes)
		for _, iv := range values {
			if err := tryValue(pos, oldLE, uint32(iv), storeLE); err != nil {
				return stats, err
			}
		}
		if widthBytes > 1 {
			oldBE := loadBE(st.Buf, pos, widthBytes)
			for _, iv := range values {
				if err := tryValue(pos, oldBE, uint32(iv), storeBE); err != nil {
					return stats, err
				}
			}
		}
	}
	return stats, nil
}

// ExtrasOverwrite implements extras_UO/extras_AO: overwrite each position
// with each dictionary token, gated by the effector map and, in
// rare-branch mode, the branch mask.
func ExtrasOverwrite(exec iface.Executor, st *State, tokens [][]byte, baselineQueued int) (StageStats, error) {
	stats := StageStats{Name: "extras_overwrite"}
	probe := newExecProbe(exec, baselineQueued)

	for _, tok := range tokens {
		for pos := 0; pos+len(tok) <= len(st.Buf); pos++ {
			if !st.eligibleRange(pos, len(tok), false) {
				stats.Skipped++
				continue
			}
			saved := append([]byte{}, st.Buf[pos:pos+len(tok)]...)
			copy(st.Buf[pos:pos+len(tok)], tok)
			stats.Cycles++
			found, err := probe.run(st.Buf)
			copy(st.Buf[pos:pos+len(tok)], saved)
			if err != nil {
				return stats, err
			}
			if found {
				stats.Finds++
			}
		}
	}
	return stats, nil
}

// ExtrasInsert implements extras_UI: splice each dictionary token in
// before every insert-safe position.
func ExtrasInsert(exec iface.Executor, st *State, tokens [][]byte, baselineQueued int) (StageStats, error) {
	stats := StageStats{Name: "extras_insert"}
	probe := newExecProbe(exec, baselineQueued)

	for _, tok := range tokens {
		for pos := 0; pos <= len(st.Buf); pos++ {
			if st.Mask != nil && !st.Mask.Insertable(pos) {
				stats.Skipped++
				continue
			}
			candidate := make([]byte, 0, len(st.Buf)+len(tok))
			candidate = append(candidate, st.Buf[:pos]...)
			candidate = append(candidate, tok...)
			candidate = append(candidate, st.Buf[pos:]...)
			stats.Cycles++
			found, err := probe.run(candidate)
			if err != nil {
				return stats, err
			}
			if found {
				stats.Finds++
			}
		}
	}
	return stats, nil
}
