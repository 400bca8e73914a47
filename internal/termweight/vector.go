package termweight

import "math"

// Vector is a sparse term-weight vector. Terms that are absent weigh 0.
type Vector map[string]float64

func (v Vector) Norm() float64 {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// Equal reports whether both vectors carry the same non-zero weights.
func (v Vector) Equal(other Vector) bool {
	for term, w := range v {
		if w != other[term] {
			return false
		}
	}
	for term, w := range other {
		if w != v[term] {
			return false
		}
	}
	return true
}

func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for term, w := range v {
		out[term] = w
	}
	return out
}

// Similarity is the cosine of the angle between a and b. It is 0 when
// either vector has zero magnitude.
func Similarity(a, b Vector) float64 {
	var dot, magA, magB float64
	for term, wa := range a {
		magA += wa * wa
		dot += wa * b[term]
	}
	for _, wb := range b {
		magB += wb * wb
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
