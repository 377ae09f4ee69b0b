package openformats

import "math"

// QuantizeWeights renormalizes four skinning weights so that their 255-scaled
// integer values sum to exactly 255. A non-positive sum is returned unchanged.
func QuantizeWeights(w [INFLUENCES]float32) [INFLUENCES]float32 {
	q, ok := quantize(w)
	if !ok {
		return w
	}
	var out [INFLUENCES]float32
	for i := range q {
		out[i] = float32(q[i]) / WEIGHT_TOTAL
	}
	return out
}

// WeightBytes is the integer form of QuantizeWeights, as stored in a .mesh file.
func WeightBytes(w [INFLUENCES]float32) [INFLUENCES]int {
	q, ok := quantize(w)
	if !ok {
		var out [INFLUENCES]int
		for i := range w {
			out[i] = int(math.Round(float64(w[i]) * WEIGHT_TOTAL))
		}
		return out
	}
	return q
}

func quantize(w [INFLUENCES]float32) ([INFLUENCES]int, bool) {
	var q [INFLUENCES]int
	var sum float64
	for _, v := range w {
		sum += float64(v)
	}
	if !(sum > 0) {
		return q, false
	}
	total := 0
	for i, v := range w {
		q[i] = int(math.Round(float64(v) / sum * WEIGHT_TOTAL))
		total += q[i]
	}
	residual := WEIGHT_TOTAL - total
	for residual != 0 {
		moved := false
		for i := range q {
			if residual == 0 {
				break
			}
			if q[i] <= 0 {
				continue
			}
			if residual > 0 {
				q[i]++
				residual--
			} else {
				q[i]--
				residual++
			}
			moved = true
		}
		if !moved {
			break
		}
	}
	return q, true
}
