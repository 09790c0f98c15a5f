package games

import "math"

// wheelValues is the multiplier wheel layout. The draw below raises the
// uniform sample to the 1.2 power, which biases the index toward the low
// end of the wheel and keeps the 10x slice rare.
var wheelValues = []float64{2, 3, 2, 5, 2, 3, 10, 2, 3, 2, 5, 3}

func spinWheel(rng *lockedRand) float64 {
	idx := int(math.Pow(rng.Float64(), 1.2) * float64(len(wheelValues)))
	if idx >= len(wheelValues) {
		idx = len(wheelValues) - 1
	}
	return wheelValues[idx]
}
