package mutate

import "testing"

func TestCouldBeBitflipIdentity(t *testing.T) {
	if !CouldBeBitflip(0) {
		t.Fatalf("CouldBeBitflip(0) should always be true")
	}
}

func TestCouldBeBitflipKnownPatterns(t *testing.T) {
	cases := []uint32{1, 3, 15, 0xff, 0xffff, 0xffffffff, 0xff00, 0xff0000}
	for _, c := range cases {
		if !CouldBeBitflip(c) {
			t.Errorf("CouldBeBitflip(%#x) = false, want true", c)
		}
	}
}

func TestCouldBeBitflipRejectsUnaligned(t *testing.T) {
	if CouldBeBitflip(0xff0) {
		t.Fatalf("0xff0 is not a byte-aligned 0xff pattern, should be false")
	}
}

func TestCouldBeArithIdentity(t *testing.T) {
	if !CouldBeArith(42, 42, 1, 35) {
		t.Fatalf("CouldBeArith(v, v, ...) should always be true")
	}
}

func TestCouldBeArithByteDelta(t *testing.T) {
	if !CouldBeArith(10, 15, 1, 35) {
		t.Fatalf("10+5=15 should be reachable by byte arithmetic")
	}
	if CouldBeArith(10, 100, 1, 35) {
		t.Fatalf("delta 90 exceeds ARITH_MAX=35, should not be reachable")
	}
}

func TestCouldBeInterestIdentity(t *testing.T) {
	tabs := InterestingTables{I8: []int8{-1, 0, 1}, I16: []int16{-1, 0, 1}, I32: []int32{-1, 0, 1}}
	if !CouldBeInterest(7, 7, 1, true, tabs) {
		t.Fatalf("CouldBeInterest(v, v, ...) should always be true")
	}
}

func TestCouldBeInterestMatchesTable(t *testing.T) {
	tabs := InterestingTables{I8: []int8{-128, -1, 0, 127}, I16: []int16{}, I32: []int32{}}
	if !CouldBeInterest(5, 0xff, 1, false, tabs) {
		t.Fatalf("byte substitution to -1 (0xff as uint8) should be detected")
	}
}
