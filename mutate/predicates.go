// Package mutate implements the staged mutation pipeline: the could-be-*
// redundancy predicates, the deterministic stages (walking bit flips,
// arithmetic, interesting
// values, dictionary insertion), the havoc stage's 27 operator classes,
// and the splice stage. Grounded primarily on
// original_source/src/afl-fuzz-one.c's could_be_bitflip/could_be_arith/
// could_be_interest and its deterministic/havoc stage bodies, with the
// havoc operator catalogue and interesting-value tables cross-checked
// against other_examples/degeri-go-fuzz__mutator.go, dvyukov/go-fuzz's
// own Mutator.
package mutate

// CouldBeBitflip reports whether xorVal (the XOR of an old and a
// candidate new value) is a pattern any of the walking bit-flip stages
// could already produce, byte-for-byte matching could_be_bitflip.
func CouldBeBitflip(xorVal uint32) bool {
	if xorVal == 0 {
		return true
	}
	sh := 0
	for xorVal&1 == 0 {
		sh++
		xorVal >>= 1
	}
	if xorVal == 1 || xorVal == 3 || xorVal == 15 {
		return true
	}
	if sh&7 == 0 {
		if xorVal == 0xff || xorVal == 0xffff || xorVal == 0xffffffff {
			return true
		}
	}
	return false
}

func swap16(v uint16) uint16 { return v<<8 | v>>8 }

func swap32(v uint32) uint32 {
	return v<<24 | (v&0xff00)<<8 | (v>>8)&0xff00 | v>>24
}

// CouldBeArith reports whether newVal is reachable from oldVal by adding
// or subtracting a value in [1, arithMax] at exactly one byte, one
// 16-bit word (either endianness), or -- for blen==4 -- the whole
// 32-bit value (either endianness), matching could_be_arith.
func CouldBeArith(oldVal, newVal uint32, blen, arithMax int) bool {
	if oldVal == newVal {
		return true
	}

	diffs := 0
	var ov, nv byte
	for i := 0; i < blen; i++ {
		a := byte(oldVal >> uint(8*i))
		b := byte(newVal >> uint(8*i))
		if a != b {
			diffs++
			ov, nv = a, b
		}
	}
	if diffs == 1 {
		if int(byte(ov-nv)) <= arithMax || int(byte(nv-ov)) <= arithMax {
			return true
		}
	}
	if blen == 1 {
		return false
	}

	diffs = 0
	var ov16, nv16 uint16
	for i := 0; i < blen/2; i++ {
		a := uint16(oldVal >> uint(16*i))
		b := uint16(newVal >> uint(16*i))
		if a != b {
			diffs++
			ov16, nv16 = a, b
		}
	}
	if diffs == 1 {
		if int(ov16-nv16) <= arithMax && int(ov16-nv16) >= -arithMax {
			return true
		}
		if uint16(ov16-nv16) <= uint16(arithMax) || uint16(nv16-ov16) <= uint16(arithMax) {
			return true
		}
		so, sn := swap16(ov16), swap16(nv16)
		if uint16(so-sn) <= uint16(arithMax) || uint16(sn-so) <= uint16(arithMax) {
			return true
		}
	}

	if blen == 4 {
		d1, d2 := oldVal-newVal, newVal-oldVal
		if d1 <= uint32(arithMax) || d2 <= uint32(arithMax) {
			return true
		}
		so, sn := swap32(oldVal), swap32(newVal)
		d3, d4 := so-sn, sn-so
		if d3 <= uint32(arithMax) || d4 <= uint32(arithMax) {
			return true
		}
	}

	return false
}

// InterestingTables bundles the interesting-value tables that Interest and
// CouldBeInterest take as parameters from the caller (fuzzone wires
// config.Interesting{8,16,32} in).
type InterestingTables struct {
	I8  []int8
	I16 []int16
	I32 []int32
}

// CouldBeInterest reports whether newVal is reachable from oldVal by
// pasting an interesting_8 at any byte position, an interesting_16 at any
// aligned word position (both endiannesses when checkLE), or -- for
// blen==4 and checkLE -- an interesting_32 value, matching
// could_be_interest.
func CouldBeInterest(oldVal, newVal uint32, blen int, checkLE bool, tabs InterestingTables) bool {
	if oldVal == newVal {
		return true
	}

	for _, iv := range tabs.I8 {
		for j := 0; j < blen; j++ {
			shift := uint(j * 8)
			tval := (oldVal &^ (0xff << shift)) | (uint32(uint8(iv)) << shift)
			if newVal == tval {
				return true
			}
		}
	}

	if blen == 2 && !checkLE {
		return false
	}
	if blen >= 2 {
		for _, iv := range tabs.I16 {
			v16 := uint16(iv)
			if uint16(newVal) == v16 {
				return true
			}
			tval := (oldVal &^ 0xffff) | uint32(v16)
			if newVal == tval {
				return true
			}
			if checkLE {
				sw := swap16(v16)
				if uint16(newVal) == sw {
					return true
				}
				tval2 := (oldVal &^ 0xffff) | uint32(sw)
				if newVal == tval2 {
					return true
				}
			}
		}
	}

	if blen == 4 && checkLE {
		for _, iv := range tabs.I32 {
			if newVal == uint32(iv) {
				return true
			}
		}
	}
	return false
}
