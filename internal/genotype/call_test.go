package genotype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/zcall/internal/gtc"
	"github.com/inodb/zcall/internal/threshold"
)

func TestClassify_LowerLeftIsNoCall(t *testing.T) {
	assert.Equal(t, NoCall, Classify(0.1, 0.05, 0.5, 0.5))
}

func TestClassify_Quadrants(t *testing.T) {
	tests := []struct {
		x, y float64
		want Call
	}{
		{0.9, 0.1, HomA},
		{0.1, 0.9, HomB},
		{0.9, 0.9, Het},
		{0.1, 0.1, NoCall},
		// Boundary ties.
		{0.5, 0.5, HomA},
		{0.5, 0.1, HomA},
		{0.1, 0.5, HomB},
		{0.5, 0.9, Het},
		{0.9, 0.5, HomA},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.x, tt.y, 0.5, 0.5), "(%v, %v)", tt.x, tt.y)
	}
}

func TestClassify_Total(t *testing.T) {
	// Every point on a grid straddling the thresholds gets exactly one valid call.
	seen := map[Call]int{}
	for xi := 0; xi <= 20; xi++ {
		for yi := 0; yi <= 20; yi++ {
			c := Classify(float64(xi)/10, float64(yi)/10, 1.0, 1.0)
			require.True(t, c.Valid())
			seen[c]++
		}
	}
	assert.Len(t, seen, 4)
	assert.Equal(t, 21*21, seen[NoCall]+seen[HomA]+seen[Het]+seen[HomB])
}

func TestNormalizeOrientation(t *testing.T) {
	assert.Equal(t, HomB, NormalizeOrientation(HomA, 3, 50))
	assert.Equal(t, HomA, NormalizeOrientation(HomB, 3, 50))
	assert.Equal(t, Het, NormalizeOrientation(Het, 3, 50))
	assert.Equal(t, NoCall, NormalizeOrientation(NoCall, 3, 50))
	assert.Equal(t, HomA, NormalizeOrientation(HomA, 50, 3))
	assert.Equal(t, HomA, NormalizeOrientation(HomA, 10, 10))
}

func TestFromCodes(t *testing.T) {
	calls, err := FromCodes([]int8{0, 1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []Call{NoCall, HomA, Het, HomB}, calls)

	_, err = FromCodes([]int8{1, 4})
	assert.Error(t, err)
	_, err = FromCodes([]int8{-1})
	assert.Error(t, err)
}

func TestCall_String(t *testing.T) {
	assert.Equal(t, "AB", Het.String())
	assert.Equal(t, "Call(7)", Call(7).String())
}

func testSample() *gtc.Sample {
	return &gtc.Sample{
		File: gtc.File{
			Name:      "s1",
			RawX:      make([]uint16, 4),
			Genotypes: []int8{0, 0, 1, 2},
		},
		NormX: []float64{0.9, 0.1, 0.1, 0.9},
		NormY: []float64{0.1, 0.9, 0.9, 0.9},
	}
}

var testThresholds = []threshold.Threshold{
	{Tx: 0.5, Ty: 0.5, Defined: true},
	threshold.NotApplicable,
	{Tx: 0.5, Ty: 0.5, Defined: true},
	{Tx: 0.5, Ty: 0.5, Defined: true},
}

func TestCaller_RecallNoCallsOnly(t *testing.T) {
	calls, err := NewCaller(testThresholds).Recall(testSample())
	require.NoError(t, err)
	// Variant 1 has no threshold and keeps its no-call; variant 2 keeps
	// its original call even though it falls in the HomB quadrant.
	assert.Equal(t, []Call{HomA, NoCall, HomA, Het}, calls)
}

func TestCaller_RecallAll(t *testing.T) {
	c := &Caller{Thresholds: testThresholds, Policy: RecallAll}
	calls, err := c.Recall(testSample())
	require.NoError(t, err)
	assert.Equal(t, []Call{HomA, NoCall, HomB, Het}, calls)
}

func TestCaller_PassThrough(t *testing.T) {
	c := &Caller{Thresholds: testThresholds, Policy: PassThrough}
	calls, err := c.Recall(testSample())
	require.NoError(t, err)
	assert.Equal(t, []Call{NoCall, NoCall, HomA, Het}, calls)
}

func TestCaller_NotApplicableNeverOverwritten(t *testing.T) {
	s := testSample()
	ths := make([]threshold.Threshold, 4)
	for _, p := range []Policy{RecallNoCallsOnly, RecallAll, PassThrough} {
		calls, err := (&Caller{Thresholds: ths, Policy: p}).Recall(s)
		require.NoError(t, err)
		assert.Equal(t, []Call{NoCall, NoCall, HomA, Het}, calls, p.String())
	}
}

func TestCaller_LengthMismatch(t *testing.T) {
	_, err := NewCaller(testThresholds[:3]).Recall(testSample())
	assert.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{RecallNoCallsOnly, RecallAll, PassThrough} {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePolicy("bogus")
	assert.Error(t, err)
}
