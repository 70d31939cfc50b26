package imaging

import (
	"fmt"
	"image"
	"math"
	"math/rand/v2"

	"golang.org/x/image/draw"
)

// DefaultColorClusters is the k used for the exported dominant colour.
const DefaultColorClusters = 3

const (
	swatchSize     = 256
	kmeansAttempts = 5
	kmeansMaxIter  = 20
	kmeansEpsilon  = 1.0
)

// RGB is an 8-bit colour triple.
type RGB struct {
	R, G, B uint8
}

// Hex formats the colour as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// DominantColor clusters the pixels of a 256x256 thumbnail into k colours and
// returns the centre of the most populated cluster.
func DominantColor(img image.Image, k int) (RGB, error) {
	if img == nil {
		return RGB{}, fmt.Errorf("nil image")
	}
	if k <= 0 {
		return RGB{}, fmt.Errorf("k must be positive, got %d", k)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return RGB{}, fmt.Errorf("empty image")
	}

	thumb := image.NewNRGBA(image.Rect(0, 0, swatchSize, swatchSize))
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), toNRGBA(img), b, draw.Src, nil)

	points := make([][3]float64, 0, swatchSize*swatchSize)
	for i := 0; i < len(thumb.Pix); i += 4 {
		points = append(points, [3]float64{float64(thumb.Pix[i]), float64(thumb.Pix[i+1]), float64(thumb.Pix[i+2])})
	}

	centers, labels := kmeans(points, k)
	counts := make([]int, len(centers))
	for _, l := range labels {
		counts[l]++
	}
	best := 0
	for i := range counts {
		if counts[i] > counts[best] {
			best = i
		}
	}
	c := centers[best]
	return RGB{R: toUint8(c[0]), G: toUint8(c[1]), B: toUint8(c[2])}, nil
}

// kmeans runs several k-means++ seeded attempts with a fixed seed and keeps the
// most compact clustering.
func kmeans(points [][3]float64, k int) ([][3]float64, []int) {
	if k > len(points) {
		k = len(points)
	}
	rng := rand.New(rand.NewPCG(0x5eed, 0xc0105))

	var (
		bestCenters [][3]float64
		bestLabels  []int
		bestScore   = math.Inf(1)
	)
	for attempt := 0; attempt < kmeansAttempts; attempt++ {
		centers := seedPlusPlus(points, k, rng)
		labels := make([]int, len(points))
		for iter := 0; iter < kmeansMaxIter; iter++ {
			assign(points, centers, labels)
			shift := recenter(points, centers, labels)
			if shift <= kmeansEpsilon*kmeansEpsilon {
				break
			}
		}
		score := assign(points, centers, labels)
		if score < bestScore {
			bestScore = score
			bestCenters = centers
			bestLabels = append([]int(nil), labels...)
		}
	}
	return bestCenters, bestLabels
}

func seedPlusPlus(points [][3]float64, k int, rng *rand.Rand) [][3]float64 {
	centers := make([][3]float64, 0, k)
	centers = append(centers, points[rng.IntN(len(points))])
	dist := make([]float64, len(points))
	for len(centers) < k {
		var total float64
		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centers {
				d = math.Min(d, sqDist(p, c))
			}
			dist[i] = d
			total += d
		}
		if total == 0 {
			centers = append(centers, centers[0])
			continue
		}
		target := rng.Float64() * total
		idx := len(points) - 1
		for i, d := range dist {
			target -= d
			if target <= 0 {
				idx = i
				break
			}
		}
		centers = append(centers, points[idx])
	}
	return centers
}

// assign labels every point with its nearest centre and returns the compactness.
func assign(points [][3]float64, centers [][3]float64, labels []int) float64 {
	var compactness float64
	for i, p := range points {
		best, bestD := 0, math.Inf(1)
		for j, c := range centers {
			if d := sqDist(p, c); d < bestD {
				best, bestD = j, d
			}
		}
		labels[i] = best
		compactness += bestD
	}
	return compactness
}

// recenter moves every centre to the mean of its points and returns the largest squared shift.
// A centre that lost all its points stays where it was.
func recenter(points [][3]float64, centers [][3]float64, labels []int) float64 {
	sums := make([][3]float64, len(centers))
	counts := make([]int, len(centers))
	for i, p := range points {
		l := labels[i]
		sums[l][0] += p[0]
		sums[l][1] += p[1]
		sums[l][2] += p[2]
		counts[l]++
	}
	var maxShift float64
	for j := range centers {
		if counts[j] == 0 {
			continue
		}
		n := float64(counts[j])
		next := [3]float64{sums[j][0] / n, sums[j][1] / n, sums[j][2] / n}
		maxShift = math.Max(maxShift, sqDist(next, centers[j]))
		centers[j] = next
	}
	return maxShift
}

func sqDist(a, b [3]float64) float64 {
	dr, dg, db := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dr*dr + dg*dg + db*db
}

func toUint8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}
