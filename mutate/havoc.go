package mutate

import (
	"github.com/bradleyjkemp/rarefuzz/bandit"
	"github.com/bradleyjkemp/rarefuzz/branch"
	"github.com/bradleyjkemp/rarefuzz/config"
	"github.com/bradleyjkemp/rarefuzz/iface"
	"github.com/bradleyjkemp/rarefuzz/rng"
)

// OpClass enumerates the havoc operator classes, grounded on
// original_source/src/afl-fuzz-one.c's havoc_stage switch and cross-checked
// against other_examples/degeri-go-fuzz__mutator.go's operator catalogue.
// Structural ops (insert/delete) change the buffer's length and so
// invalidate the branch mask and effector map; fine-grained ops only flip
// bytes in place and are cheaply reversible. Splicing another corpus
// entry's bytes in is handled by the separate top-level splice stage
// (splice.go) rather than as an op class here; see DESIGN.md for why.
type OpClass int

const (
	OpFlipBit OpClass = iota
	OpSetInterest8
	OpSetInterest16LE
	OpSetInterest16BE
	OpSetInterest32LE
	OpSetInterest32BE
	OpSubByte
	OpAddByte
	OpSubWord16LE
	OpAddWord16LE
	OpSubWord16BE
	OpAddWord16BE
	OpSubDword32LE
	OpAddDword32LE
	OpSubDword32BE
	OpAddDword32BE
	OpRandomByte
	OpDeleteBytes
	OpDeleteBytesClone
	OpCloneInsertOriginal
	OpCloneInsertRandom
	OpOverwriteFromSelf
	OpOverwriteRandom
	OpDictOverwriteExtra
	OpDictOverwriteAutoExtra
	OpDictInsertExtra
	OpDictInsertAutoExtra

	NumOpClasses = int(OpDictInsertAutoExtra) + 1
)

func (c OpClass) structural() bool {
	switch c {
	case OpDeleteBytes, OpDeleteBytesClone, OpCloneInsertOriginal, OpCloneInsertRandom, OpDictInsertExtra, OpDictInsertAutoExtra:
		return true
	default:
		return false
	}
}

// HavocStats mirrors StageStats but additionally tracks the running
// stage_max so callers can report the doubling the reward signal drives.
type HavocStats struct {
	StageStats
	FinalStageMax int
}

func blockLen(r *rng.Source, cfg config.Config, bufLen int) int {
	if bufLen <= 0 {
		return 0
	}
	choice := r.Intn(4)
	var maxLen int
	switch choice {
	case 0:
		maxLen = cfg.HavocBlkSmall
	case 1:
		maxLen = cfg.HavocBlkMedium
	case 2:
		maxLen = cfg.HavocBlkLarge
	default:
		maxLen = cfg.HavocBlkXL
	}
	if maxLen > bufLen {
		maxLen = bufLen
	}
	if maxLen < 1 {
		maxLen = 1
	}
	return 1 + r.Intn(maxLen)
}

// opResult reports what applyOp did: whether it actually mutated the
// buffer (false means the branch-mask-aware position pool found no valid
// offset and the op was skipped, the Transient case of the error
// taxonomy) and whether the mutation was structural (length-changing).
type opResult struct {
	applied    bool
	structural bool
}

// overwritePos resolves a fine-grained op's offset via the branch-mask-
// aware ModifiablePosition helper: the exclusive
// entry point by which havoc mutators pick offsets under rare-branch
// mode. A NoPosition return means the op must be skipped with no retry.
func overwritePos(st *State, r *rng.Source, sizeBits int) (branch.Position, bool) {
	pos := branch.ModifiablePosition(st.Mask, branch.Overwritable, sizeBits, r)
	return pos, pos.Valid
}

func deletePos(st *State, r *rng.Source, lenBytes int) (branch.Position, bool) {
	pos := branch.ModifiablePosition(st.Mask, branch.Deletable, lenBytes*8, r)
	return pos, pos.Valid
}

func insertPos(st *State, r *rng.Source) (branch.Position, bool) {
	pos := branch.InsertPosition(st.Mask, r)
	return pos, pos.Valid
}

// applyOp mutates st in place according to class. opResult.applied is
// false when the position pool found nothing to target; opResult.
// structural is true for length-changing ops. Havoc restores the buffer,
// mask and effector map from its snapshots after every iteration either way.
func applyOp(r *rng.Source, cfg config.Config, st *State, class OpClass, userDict [][]byte, autoDict *AutoDict) opResult {
	n := len(st.Buf)
	if n == 0 && !class.structural() {
		return opResult{}
	}

	switch class {
	case OpFlipBit:
		p, ok := overwritePos(st, r, 1)
		if !ok {
			return opResult{}
		}
		st.Buf[p.Offset] ^= 1 << uint(p.BitOffset)

	case OpSetInterest8:
		p, ok := overwritePos(st, r, 8)
		if !ok {
			return opResult{}
		}
		iv := config.Interesting8[r.Intn(len(config.Interesting8))]
		st.Buf[p.Offset] = byte(iv)

	case OpSetInterest16LE:
		p, ok := overwritePos(st, r, 16)
		if !ok {
			return opResult{}
		}
		iv := config.Interesting16[r.Intn(len(config.Interesting16))]
		storeLE(st.Buf, p.Offset, 2, uint32(uint16(iv)))

	case OpSetInterest16BE:
		p, ok := overwritePos(st, r, 16)
		if !ok {
			return opResult{}
		}
		iv := config.Interesting16[r.Intn(len(config.Interesting16))]
		storeBE(st.Buf, p.Offset, 2, uint32(uint16(iv)))

	case OpSetInterest32LE:
		p, ok := overwritePos(st, r, 32)
		if !ok {
			return opResult{}
		}
		iv := config.Interesting32[r.Intn(len(config.Interesting32))]
		storeLE(st.Buf, p.Offset, 4, uint32(iv))

	case OpSetInterest32BE:
		p, ok := overwritePos(st, r, 32)
		if !ok {
			return opResult{}
		}
		iv := config.Interesting32[r.Intn(len(config.Interesting32))]
		storeBE(st.Buf, p.Offset, 4, uint32(iv))

	case OpSubByte:
		p, ok := overwritePos(st, r, 8)
		if !ok {
			return opResult{}
		}
		st.Buf[p.Offset] -= byte(1 + r.Intn(cfg.ArithMax))

	case OpAddByte:
		p, ok := overwritePos(st, r, 8)
		if !ok {
			return opResult{}
		}
		st.Buf[p.Offset] += byte(1 + r.Intn(cfg.ArithMax))

	case OpSubWord16LE:
		p, ok := overwritePos(st, r, 16)
		if !ok {
			return opResult{}
		}
		v := uint16(loadLE(st.Buf, p.Offset, 2)) - uint16(1+r.Intn(cfg.ArithMax))
		storeLE(st.Buf, p.Offset, 2, uint32(v))

	case OpAddWord16LE:
		p, ok := overwritePos(st, r, 16)
		if !ok {
			return opResult{}
		}
		v := uint16(loadLE(st.Buf, p.Offset, 2)) + uint16(1+r.Intn(cfg.ArithMax))
		storeLE(st.Buf, p.Offset, 2, uint32(v))

	case OpSubWord16BE:
		p, ok := overwritePos(st, r, 16)
		if !ok {
			return opResult{}
		}
		v := uint16(loadBE(st.Buf, p.Offset, 2)) - uint16(1+r.Intn(cfg.ArithMax))
		storeBE(st.Buf, p.Offset, 2, uint32(v))

	case OpAddWord16BE:
		p, ok := overwritePos(st, r, 16)
		if !ok {
			return opResult{}
		}
		v := uint16(loadBE(st.Buf, p.Offset, 2)) + uint16(1+r.Intn(cfg.ArithMax))
		storeBE(st.Buf, p.Offset, 2, uint32(v))

	case OpSubDword32LE:
		p, ok := overwritePos(st, r, 32)
		if !ok {
			return opResult{}
		}
		v := loadLE(st.Buf, p.Offset, 4) - uint32(1+r.Intn(cfg.ArithMax))
		storeLE(st.Buf, p.Offset, 4, v)

	case OpAddDword32LE:
		p, ok := overwritePos(st, r, 32)
		if !ok {
			return opResult{}
		}
		v := loadLE(st.Buf, p.Offset, 4) + uint32(1+r.Intn(cfg.ArithMax))
		storeLE(st.Buf, p.Offset, 4, v)

	case OpSubDword32BE:
		p, ok := overwritePos(st, r, 32)
		if !ok {
			return opResult{}
		}
		v := loadBE(st.Buf, p.Offset, 4) - uint32(1+r.Intn(cfg.ArithMax))
		storeBE(st.Buf, p.Offset, 4, v)

	case OpAddDword32BE:
		p, ok := overwritePos(st, r, 32)
		if !ok {
			return opResult{}
		}
		v := loadBE(st.Buf, p.Offset, 4) + uint32(1+r.Intn(cfg.ArithMax))
		storeBE(st.Buf, p.Offset, 4, v)

	case OpRandomByte:
		p, ok := overwritePos(st, r, 8)
		if !ok {
			return opResult{}
		}
		st.Buf[p.Offset] ^= byte(1 + r.Intn(255))

	case OpDeleteBytes, OpDeleteBytesClone:
		if n < 2 {
			return opResult{}
		}
		delLen := blockLen(r, cfg, n-1)
		if delLen >= n {
			delLen = n - 1
		}
		p, ok := deletePos(st, r, delLen)
		if !ok {
			return opResult{}
		}
		st.DeleteBytes(p.Offset, delLen)
		return opResult{applied: true, structural: true}

	case OpCloneInsertOriginal:
		srcLen := blockLen(r, cfg, n)
		if srcLen > n {
			srcLen = n
		}
		srcPos := r.Intn(n - srcLen + 1)
		dst, ok := insertPos(st, r)
		if !ok {
			return opResult{}
		}
		extra := append([]byte{}, st.Buf[srcPos:srcPos+srcLen]...)
		st.InsertBytes(dst.Offset, extra)
		return opResult{applied: true, structural: true}

	case OpCloneInsertRandom:
		insLen := blockLen(r, cfg, n)
		if insLen < 1 {
			insLen = 1
		}
		dst, ok := insertPos(st, r)
		if !ok {
			return opResult{}
		}
		extra := make([]byte, insLen)
		for i := range extra {
			extra[i] = byte(r.UniformU32(256))
		}
		st.InsertBytes(dst.Offset, extra)
		return opResult{applied: true, structural: true}

	case OpOverwriteFromSelf:
		if n < 2 {
			return opResult{}
		}
		copyLen := blockLen(r, cfg, n-1)
		p, ok := overwritePos(st, r, copyLen*8)
		if !ok {
			return opResult{}
		}
		srcPos := r.Intn(n - copyLen + 1)
		copy(st.Buf[p.Offset:p.Offset+copyLen], st.Buf[srcPos:srcPos+copyLen])

	case OpOverwriteRandom:
		copyLen := blockLen(r, cfg, n)
		p, ok := overwritePos(st, r, copyLen*8)
		if !ok {
			return opResult{}
		}
		for i := 0; i < copyLen; i++ {
			st.Buf[p.Offset+i] = byte(r.UniformU32(256))
		}

	case OpDictOverwriteExtra:
		tok := pickUserToken(r, userDict)
		if tok == nil || len(tok) > n {
			return opResult{}
		}
		p, ok := overwritePos(st, r, len(tok)*8)
		if !ok {
			return opResult{}
		}
		copy(st.Buf[p.Offset:p.Offset+len(tok)], tok)

	case OpDictOverwriteAutoExtra:
		tok := pickAutoToken(r, autoDict)
		if tok == nil || len(tok) > n {
			return opResult{}
		}
		p, ok := overwritePos(st, r, len(tok)*8)
		if !ok {
			return opResult{}
		}
		copy(st.Buf[p.Offset:p.Offset+len(tok)], tok)

	case OpDictInsertExtra:
		tok := pickUserToken(r, userDict)
		if tok == nil {
			return opResult{}
		}
		dst, ok := insertPos(st, r)
		if !ok {
			return opResult{}
		}
		st.InsertBytes(dst.Offset, tok)
		return opResult{applied: true, structural: true}

	case OpDictInsertAutoExtra:
		tok := pickAutoToken(r, autoDict)
		if tok == nil {
			return opResult{}
		}
		dst, ok := insertPos(st, r)
		if !ok {
			return opResult{}
		}
		st.InsertBytes(dst.Offset, tok)
		return opResult{applied: true, structural: true}
	}
	return opResult{applied: true}
}

// pickUserToken draws from the manually supplied dictionary only, keeping
// it a separate bandit arm from the mined auto-dictionary.
func pickUserToken(r *rng.Source, userDict [][]byte) []byte {
	if len(userDict) == 0 {
		return nil
	}
	return userDict[r.Intn(len(userDict))]
}

// pickAutoToken draws from the tokens mined during the run (see
// deterministic.go's mineToken), kept as its own arm since its token
// quality evolves over the course of fuzzing unlike the fixed user dict.
func pickAutoToken(r *rng.Source, autoDict *AutoDict) []byte {
	if autoDict == nil || autoDict.Len() == 0 {
		return nil
	}
	toks := autoDict.Tokens()
	return toks[r.Intn(len(toks))].Bytes
}

// dynamicMask disables the user-dict and auto-dict arms independently,
// each when its own token source is empty; the operator bandit's arm mask
// is recomputed each stacking iteration as the auto-dictionary grows.
func dynamicMask(numClasses int, haveUserDict, haveAutoDict bool) []bool {
	mask := make([]bool, numClasses)
	if !haveUserDict {
		mask[OpDictOverwriteExtra] = true
		mask[OpDictInsertExtra] = true
	}
	if !haveAutoDict {
		mask[OpDictOverwriteAutoExtra] = true
		mask[OpDictInsertAutoExtra] = true
	}
	return mask
}

// Havoc implements the havoc stage: stage_max iterations, each stacking a
// batch-bandit-selected number of operator-bandit-selected mutations onto
// st.Buf in place (restored from a pre-iteration copy afterwards),
// executing the result, and feeding back a
// reward of 1 iff QueuedPaths increased. stage_max
// doubles whenever an iteration scores a reward, capped at
// havoc_max_mult*100*score.
func Havoc(exec iface.Executor, st *State, cfg config.Config, opBandit, batchBandit *bandit.Strategy, baselineQueued int, score int, userDict [][]byte, autoDict *AutoDict, rngSrc *rng.Source) (HavocStats, error) {
	stats := HavocStats{StageStats: StageStats{Name: "havoc"}}
	probe := newExecProbe(exec, baselineQueued)

	stageMax := cfg.HavocCycles * score / 100
	if stageMax < cfg.HavocMin {
		stageMax = cfg.HavocMin
	}
	stageMaxCap := cfg.HavocMaxMult * 100 * score
	if stageMaxCap < stageMax {
		stageMaxCap = stageMax
	}
	haveUserDict := len(userDict) > 0
	haveAutoDict := autoDict != nil && autoDict.Len() > 0
	opMask := dynamicMask(opBandit.NumArms(), haveUserDict, haveAutoDict)

	// original_source/src/afl-fuzz-one.c:4892 restores branch_mask from a
	// copy saved before the havoc loop after every length-changing op is
	// reverted, rather than discarding the probed classification. Mirror
	// that: snapshot once here and restore from the snapshot, never from a
	// fresh all-safe default.
	var originalMask *branch.Mask
	if st.Mask != nil {
		originalMask = st.Mask.Clone()
	}
	originalEff := st.Eff

	for iter := 0; iter < stageMax; iter++ {
		batchIdx := batchBandit.SelectArm(nil)
		// Power-of-two batch sizing: arm t stacks 1<<t ops, so
		// cfg.NumBatchArms=8 spans 1..128 the way AFL's
		// 1<<(1+rand(HAVOC_STACK_POWER)) draw does, just bandit-selected
		// instead of randomly drawn.
		stackCount := 1 << uint(batchIdx)

		before := append([]byte{}, st.Buf...)
		chosen := make([]int, 0, stackCount)
		for s := 0; s < stackCount; s++ {
			armIdx := opBandit.SelectArm(opMask)
			res := applyOp(rngSrc, cfg, st, OpClass(armIdx), userDict, autoDict)
			if !res.applied {
				// Transient: no valid position under the branch mask
				// (the Transient case); break the batch early.
				break
			}
			chosen = append(chosen, armIdx)
		}
		stats.Cycles++

		found, err := probe.run(st.Buf)
		reward := 0.0
		if err != nil {
			restoreBuffer(st, before, originalMask, originalEff)
			return stats, err
		}
		if found {
			reward = 1.0
			stats.Finds++
		}
		for _, armIdx := range chosen {
			opBandit.AddReward(armIdx, reward)
		}
		batchBandit.AddReward(batchIdx, reward)

		if reward == 1 {
			stageMax *= 2
			if stageMax > stageMaxCap {
				stageMax = stageMaxCap
			}
		}

		restoreBuffer(st, before, originalMask, originalEff)
	}

	stats.FinalStageMax = stageMax
	return stats, nil
}

// restoreBuffer reverts st.Buf to before (the pre-iteration snapshot) and
// resets Mask/Eff to the originals saved once at Havoc entry, cloning the
// mask so a structural op's own InsertRange/DeleteRange call (which
// mutates its receiver in place) never corrupts the saved original. This
// runs every iteration regardless of whether that iteration's ops were
// structural, so a rebuilt default mask never leaks in and silently
// discards the probed overwrite/delete/insert classification.
func restoreBuffer(st *State, before []byte, originalMask *branch.Mask, originalEff *branch.EffectorMap) {
	st.Buf = append(st.Buf[:0], before...)
	if originalMask != nil {
		st.Mask = originalMask.Clone()
	} else {
		st.Mask = nil
	}
	st.Eff = originalEff
}
