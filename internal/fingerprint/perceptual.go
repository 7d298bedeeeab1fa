package fingerprint

import (
	"fmt"
	"image"
	"math"
	"math/bits"
	"slices"

	"github.com/disintegration/imaging"
)

// Thumbnail sizes: the pHash runs a DCT over a dctSide square and keeps the
// lowest blockSide x blockSide frequencies; the dHash compares neighbours on a
// (blockSide+1) x blockSide grid.
const (
	dctSide   = 32
	blockSide = 8
)

// ComputeHashes computes both pHash and dHash for a decoded image.
// Callers hashing full-size photos should shrink them first; only the
// thumbnails below are ever sampled.
func ComputeHashes(img image.Image) (*HashResult, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("failed to hash image: empty raster")
	}

	gray := imaging.Grayscale(img)
	pHash := dctHash(lumaPlane(imaging.Resize(gray, dctSide, dctSide, imaging.Linear)))
	dHash := gradientHash(lumaPlane(imaging.Resize(gray, blockSide+1, blockSide, imaging.Linear)))

	return &HashResult{
		PHash:     fmt.Sprintf("%016x", pHash),
		DHash:     fmt.Sprintf("%016x", dHash),
		PHashBits: pHash,
		DHashBits: dHash,
	}, nil
}

// HammingDistance computes the Hamming distance between two 64-bit hashes.
func HammingDistance(hash1, hash2 uint64) int {
	return bits.OnesCount64(hash1 ^ hash2)
}

// Similar returns true if two hashes are within the given threshold.
func Similar(hash1, hash2 uint64, threshold int) bool {
	return HammingDistance(hash1, hash2) <= threshold
}

// plane is a row-major grid of luma samples.
type plane struct {
	w, h int
	v    []float64
}

func (p plane) at(x, y int) float64 { return p.v[y*p.w+x] }

// lumaPlane reads a grayscale thumbnail; every channel already holds the luma.
func lumaPlane(img *image.NRGBA) plane {
	p := plane{w: img.Rect.Dx(), h: img.Rect.Dy()}
	p.v = make([]float64, p.w*p.h)
	for y := range p.h {
		for x := range p.w {
			p.v[y*p.w+x] = float64(img.Pix[img.PixOffset(x, y)])
		}
	}
	return p
}

// dctHash sets one bit per low-frequency AC coefficient above their median.
// The DC term only carries overall brightness and is left out, giving 63 bits.
func dctHash(p plane) uint64 {
	basis := dctBasis(p.w, blockSide)

	// separable DCT-II: transform rows, then columns of the kept frequencies
	rows := make([]float64, p.h*blockSide)
	for y := range p.h {
		for v := range blockSide {
			var sum float64
			for x := range p.w {
				sum += p.at(x, y) * basis[v][x]
			}
			rows[y*blockSide+v] = sum
		}
	}

	coeffs := make([]float64, 0, blockSide*blockSide-1)
	for u := range blockSide {
		for v := range blockSide {
			if u == 0 && v == 0 {
				continue
			}
			var sum float64
			for y := range p.h {
				sum += rows[y*blockSide+v] * basis[u][y]
			}
			coeffs = append(coeffs, sum)
		}
	}
	return thresholdBits(coeffs, median(coeffs))
}

// dctBasis returns the first k cosine basis vectors of length n.
func dctBasis(n, k int) [][]float64 {
	basis := make([][]float64, k)
	for u := range k {
		basis[u] = make([]float64, n)
		for x := range n {
			basis[u][x] = math.Cos(math.Pi * float64(u) * (2*float64(x) + 1) / (2 * float64(n)))
		}
	}
	return basis
}

// gradientHash sets one bit per horizontally adjacent pair that gets darker.
func gradientHash(p plane) uint64 {
	var hash uint64
	for y := range p.h {
		for x := 0; x+1 < p.w; x++ {
			hash <<= 1
			if p.at(x, y) > p.at(x+1, y) {
				hash |= 1
			}
		}
	}
	return hash
}

func thresholdBits(values []float64, pivot float64) uint64 {
	var hash uint64
	for _, v := range values {
		hash <<= 1
		if v > pivot {
			hash |= 1
		}
	}
	return hash
}

func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
