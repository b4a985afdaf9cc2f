// Package entropy computes the Shannon entropy of byte sequences.
package entropy

import "math"

// MaxBits is the largest entropy a byte sequence can have.
const MaxBits = 8.0

// Shannon returns the Shannon entropy of data in bits per byte. It is 0 for
// an empty slice and for a slice made of a single repeated value, and never
// exceeds log2(min(256, len(data))).
func Shannon(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	total := float64(len(data))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}
