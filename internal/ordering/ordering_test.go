package ordering

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertPosition(t *testing.T) {
	testCases := []struct {
		name      string
		index     int
		positions []float64
		want      float64
	}{
		{name: "empty", index: 0, positions: nil, want: Gap},
		{name: "append", index: 2, positions: []float64{65536, 131072}, want: 131072 + Gap},
		{name: "append-uses-maximum", index: 2, positions: []float64{200000, 131072}, want: 200000 + Gap},
		{name: "front", index: 0, positions: []float64{65536, 131072}, want: 32768},
		{name: "middle", index: 1, positions: []float64{65536, 131072}, want: 98304},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, err := InsertPosition(testCase.index, testCase.positions)
			require.NoError(t, err)
			require.Equal(t, testCase.want, got)
		})
	}
}

func TestInsertPositionRejectsOutOfRange(t *testing.T) {
	_, err := InsertPosition(3, []float64{1, 2})
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = InsertPosition(-1, nil)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestMovePositionToStartHalvesFirst(t *testing.T) {
	// B moved in front of A: target order is [B, A].
	target := []float64{131072, 65536}

	got, err := MovePosition(0, target)
	require.NoError(t, err)
	require.Equal(t, 32768.0, got)
	require.Less(t, got, 65536.0)
}

func TestMovePositionToEndAddsGap(t *testing.T) {
	target := []float64{65536, 196608, 131072}

	got, err := MovePosition(2, target)
	require.NoError(t, err)
	require.Equal(t, 196608+Gap, got)
}

func TestMovePositionToMiddle(t *testing.T) {
	target := []float64{65536, 262144, 131072}

	got, err := MovePosition(1, target)
	require.NoError(t, err)
	require.Equal(t, 98304.0, got)
}

func TestMovePositionSingleElementKeepsPosition(t *testing.T) {
	got, err := MovePosition(0, []float64{4096})
	require.NoError(t, err)
	require.Equal(t, 4096.0, got)
}

func TestMovePositionRejectsOutOfRange(t *testing.T) {
	_, err := MovePosition(0, nil)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestRandomMovesPreserveTargetOrder(t *testing.T) {
	random := rand.New(rand.NewSource(42))

	positions := make([]float64, 0, 20)
	for index := 0; index < 20; index++ {
		positions = append(positions, AppendPosition(positions))
	}
	require.True(t, StrictlyIncreasing(positions))

	for step := 0; step < 40; step++ {
		from := random.Intn(len(positions))
		to := random.Intn(len(positions))

		moved := positions[from]
		target := append([]float64{}, positions[:from]...)
		target = append(target, positions[from+1:]...)
		target = append(target[:to], append([]float64{moved}, target[to:]...)...)

		next, err := MovePosition(to, target)
		require.NoError(t, err)
		target[to] = next
		require.True(t, StrictlyIncreasing(target), "step %d moved %d->%d: %v", step, from, to, target)
		positions = target
	}
}

func TestRandomInsertsPreserveTargetOrder(t *testing.T) {
	random := rand.New(rand.NewSource(7))

	var positions []float64
	for step := 0; step < 30; step++ {
		index := random.Intn(len(positions) + 1)
		next, err := InsertPosition(index, positions)
		require.NoError(t, err)
		positions = append(positions[:index], append([]float64{next}, positions[index:]...)...)
		require.True(t, StrictlyIncreasing(positions), "step %d inserted at %d: %v", step, index, positions)
	}
}

// Midpoint insertion between two adjacent groups a gap apart keeps a strict
// order for 52 insertions; the 53rd collides with its lower neighbour.
func TestMidpointDepthBoundary(t *testing.T) {
	depth := MidpointDepth(Gap, 2*Gap)
	require.Equal(t, 52, depth)

	lo, hi := Gap, 2*Gap
	for index := 0; index < depth; index++ {
		hi = (lo + hi) / 2
		require.Less(t, lo, hi)
	}
	require.Equal(t, lo, (lo+hi)/2, "insertion past the boundary must collide")
}
