// Package ordering computes fractional position keys for user-ordered lists.
//
// Positions are float64 values; moving or inserting one element assigns it a
// single new key between its neighbours so no sibling is renumbered. There is
// no rebalancing pass: repeated insertion between the same neighbours halves
// the remaining gap each time and eventually collides (see MidpointDepth).
package ordering

import (
	"errors"
	"fmt"
)

// Gap separates a newly appended element from the current maximum.
const Gap = 65536.0

// ErrIndexOutOfRange indicates a target index outside the collection.
var ErrIndexOutOfRange = errors.New("ordering: index out of range")

// InsertPosition returns the position for a new element inserted at index of
// the ordered positions. Appending uses the maximum existing position.
func InsertPosition(index int, positions []float64) (float64, error) {
	if index < 0 || index > len(positions) {
		return 0, fmt.Errorf("%w: %d not in [0,%d]", ErrIndexOutOfRange, index, len(positions))
	}
	switch {
	case len(positions) == 0:
		return Gap, nil
	case index == len(positions):
		return maxPosition(positions) + Gap, nil
	case index == 0:
		return positions[0] / 2, nil
	default:
		return midpoint(positions[index-1], positions[index]), nil
	}
}

// AppendPosition returns the position for an element added after every
// existing one.
func AppendPosition(positions []float64) float64 {
	position, _ := InsertPosition(len(positions), positions)
	return position
}

// MovePosition returns the new position of an element that has been moved to
// toIndex. positions is the target order, with the moved element already at
// toIndex; its own current value is ignored.
func MovePosition(toIndex int, positions []float64) (float64, error) {
	if toIndex < 0 || toIndex >= len(positions) {
		return 0, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, toIndex, len(positions))
	}
	last := len(positions) - 1
	switch {
	case last == 0:
		return positions[0], nil
	case toIndex == 0:
		return positions[1] / 2, nil
	case toIndex == last:
		return positions[last-1] + Gap, nil
	default:
		return midpoint(positions[toIndex-1], positions[toIndex+1]), nil
	}
}

// StrictlyIncreasing reports whether positions induce a strict order.
func StrictlyIncreasing(positions []float64) bool {
	for index := 1; index < len(positions); index++ {
		if !(positions[index-1] < positions[index]) {
			return false
		}
	}
	return true
}

// MidpointDepth counts how many successive insertions between lo and a
// shrinking upper neighbour keep the order strict before the midpoint
// collides with one of its neighbours.
func MidpointDepth(lo, hi float64) int {
	depth := 0
	for {
		mid := midpoint(lo, hi)
		if !(lo < mid && mid < hi) {
			return depth
		}
		hi = mid
		depth++
	}
}

func midpoint(lower, upper float64) float64 {
	return (lower + upper) / 2
}

func maxPosition(positions []float64) float64 {
	result := positions[0]
	for _, position := range positions[1:] {
		if position > result {
			result = position
		}
	}
	return result
}
