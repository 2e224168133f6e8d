// Package config collects the tunables a test suite needs to vary. The teacher configures itself through
// package-level flag.* vars (go-fuzz/main.go, runtime/coordinator_main.go);
// since the core has no CLI of its own, the flag block's role is played by
// a plain struct with a DefaultConfig constructor.
package config

// Config carries every tunable of the per-seed fuzzing core.
type Config struct {
	ArithMax int

	HavocMin         int
	HavocCycles      int
	HavocBlkSmall    int
	HavocBlkMedium   int
	HavocBlkLarge    int
	HavocBlkXL       int
	HavocMaxMult     int // cap on stage_max growth, in units of 100*score
	HavocStackPower  int // not used directly; kept for parity with AFL naming

	TrimStartSteps int
	TrimEndSteps   int
	TrimMinBytes   int

	EffMinLen  int
	EffMaxPerc int

	UseAutoExtras bool
	MinAutoExtra  int
	MaxAutoExtra  int
	MaxDictFile   int
	MaxFile       int

	SpliceCycles     int
	SkipToNewProb    float64
	SkipNFavNewProb  float64
	SkipNFavOldProb  float64

	ADWINM                  int
	ADWINDelta              float64
	ADWINMinElemToCheck     int
	ADWINMinElemToStartDrop int
	ADWINDropInterval       int
	ADWINAdaptiveReset      bool

	DTSGamma float64
	DBEGamma float64

	KLUCBDelta float64
	KLUCBEps   float64

	ExpAlpha      float64
	ExpBeta       float64
	ExpMaxNArms   int
	ExpLower      float64
	ExpAmplitude  float64

	NumBatchBucket        int
	BatchBucketThresholds [4]int

	MaxRareBranches int
	ShadowMode      bool

	// NumOpClasses is the arm count for the operator bandit; must track
	// mutate.NumOpClasses (the length of mutate.OpClass's enum). Kept as a
	// configurable field rather than a compile-time constant since the
	// atomization granularity is possibly over-refined.
	NumOpClasses int
	// NumBatchArms is the arm count for the batch-size bandit. Batch size
	// is bandit-selected as 1<<arm, so at least 7 arms are needed to cover
	// roughly 1..128.
	NumBatchArms int
}

// DefaultConfig returns AFL-derived defaults, the same values
// original_source/src/afl-fuzz-one.c compiles in as #define constants.
func DefaultConfig() Config {
	return Config{
		ArithMax: 35,

		HavocMin:        16,
		HavocCycles:     256,
		HavocBlkSmall:   32,
		HavocBlkMedium:  128,
		HavocBlkLarge:   1500,
		HavocBlkXL:      32768,
		HavocMaxMult:    8,
		HavocStackPower: 7,

		TrimStartSteps: 16,
		TrimEndSteps:   1024,
		TrimMinBytes:   4,

		EffMinLen:  128,
		EffMaxPerc: 90,

		UseAutoExtras: true,
		MinAutoExtra:  3,
		MaxAutoExtra:  32,
		MaxDictFile:   64,
		MaxFile:       1 << 20,

		SpliceCycles:    15,
		SkipToNewProb:   0.99,
		SkipNFavNewProb: 0.75,
		SkipNFavOldProb: 0.95,

		ADWINM:                  5,
		ADWINDelta:              0.002,
		ADWINMinElemToCheck:     5,
		ADWINMinElemToStartDrop: 10,
		ADWINDropInterval:       32,
		ADWINAdaptiveReset:      false,

		DTSGamma: 0.9999,
		DBEGamma: 0.9999,

		KLUCBDelta: 1e-6,
		KLUCBEps:   1e-6,

		ExpAlpha:     0.5,
		ExpBeta:      1.0,
		ExpMaxNArms:  32,
		ExpLower:     0.0,
		ExpAmplitude: 1.0,

		NumBatchBucket:        5,
		BatchBucketThresholds: [4]int{100, 1000, 10000, 100000},

		MaxRareBranches: 64,
		ShadowMode:      false,

		NumOpClasses: 27,
		NumBatchArms: 8,
	}
}

// Interesting8/16/32 are the classic AFL "interesting value" tables, the
// same constants go-fuzz's own Mutator substitutes (other_examples/
// degeri-go-fuzz__mutator.go: interesting8/interesting16/interesting32).
var (
	Interesting8 = []int8{-128, -1, 0, 1, 16, 32, 64, 100, 127}

	Interesting16 = append(append([]int16{}, widen8to16(Interesting8)...),
		-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767)

	Interesting32 = append(append([]int32{}, widen16to32(Interesting16)...),
		-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647)
)

func widen8to16(in []int8) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		out[i] = int16(v)
	}
	return out
}

func widen16to32(in []int16) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}

// BatchBucket returns the index [0, NumBatchBucket) that an input of the
// given length maps to.
func (c Config) BatchBucket(length int) int {
	for i, threshold := range c.BatchBucketThresholds {
		if length <= threshold {
			return i
		}
	}
	return len(c.BatchBucketThresholds)
}
