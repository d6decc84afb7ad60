package detect

import (
	"image"
	"math"
)

// component is one connected blob of a binary mask. pixels counts the
// filled area, which stands in for the contour area of the blob.
type component struct {
	bbox   image.Rectangle
	pixels int
	start  image.Point
}

// findComponents labels 8-connected regions of set pixels. Blobs smaller
// than minPixels are noise and are skipped outright.
func findComponents(mask *image.Gray, minPixels int) []component {
	w, h := mask.Rect.Dx(), mask.Rect.Dy()
	visited := make([]bool, w*h)
	stack := make([]int, 0, 1024)
	var comps []component

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if visited[idx] || mask.Pix[y*mask.Stride+x] == 0 {
				continue
			}

			minX, minY, maxX, maxY := x, y, x, y
			count := 0
			visited[idx] = true
			stack = append(stack[:0], idx)
			for len(stack) > 0 {
				cur := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cy, cx := cur/w, cur%w
				count++
				minX, maxX = min(minX, cx), max(maxX, cx)
				minY, maxY = min(minY, cy), max(maxY, cy)

				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := cx+dx, cy+dy
						if nx < 0 || ny < 0 || nx >= w || ny >= h {
							continue
						}
						nidx := ny*w + nx
						if !visited[nidx] && mask.Pix[ny*mask.Stride+nx] != 0 {
							visited[nidx] = true
							stack = append(stack, nidx)
						}
					}
				}
			}

			if count >= minPixels {
				comps = append(comps, component{
					bbox:   image.Rect(minX, minY, maxX+1, maxY+1),
					pixels: count,
					start:  image.Point{X: x, Y: y},
				})
			}
		}
	}
	return comps
}

// Clockwise Moore neighborhood starting west, with y growing downward.
var mooreOffsets = [8]image.Point{
	{X: -1, Y: 0}, {X: -1, Y: -1}, {X: 0, Y: -1}, {X: 1, Y: -1},
	{X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}, {X: -1, Y: 1},
}

// traceBoundary walks the outer contour of the blob containing start,
// which must be its first pixel in row-major order. The walk stops when
// it returns to the start or exceeds limit points.
func traceBoundary(mask *image.Gray, start image.Point, limit int) []image.Point {
	w, h := mask.Rect.Dx(), mask.Rect.Dy()
	set := func(p image.Point) bool {
		return p.X >= 0 && p.Y >= 0 && p.X < w && p.Y < h && mask.Pix[p.Y*mask.Stride+p.X] != 0
	}

	contour := []image.Point{start}
	cur := start
	// Entering from the west neighbor, which is unset because start is the
	// first pixel of its row segment.
	dir := 0
	for {
		found := false
		for i := 1; i <= 8; i++ {
			d := (dir + i) % 8
			n := cur.Add(mooreOffsets[d])
			if set(n) {
				// Back up two steps so the next scan starts just after
				// the edge we came in on.
				dir = (d + 5) % 8
				cur = n
				found = true
				break
			}
		}
		if !found {
			return contour // isolated pixel
		}
		if cur == start || len(contour) >= limit {
			return contour
		}
		contour = append(contour, cur)
	}
}

// approxPolygon simplifies a closed contour with Douglas-Peucker, with
// epsilon scaled to the contour perimeter.
func approxPolygon(contour []image.Point, epsilonFrac float64) []image.Point {
	if len(contour) < 4 {
		return contour
	}
	eps := epsilonFrac * perimeter(contour)

	// Split the closed curve at the point farthest from the start, then
	// simplify both halves.
	far := 0
	farDist := -1.0
	for i, p := range contour {
		if d := sqDist(contour[0], p); d > farDist {
			farDist, far = d, i
		}
	}
	if far == 0 {
		return contour[:1]
	}

	back := make([]image.Point, 0, len(contour)-far+1)
	back = append(back, contour[far:]...)
	back = append(back, contour[0])

	first := dpSimplify(contour[:far+1], eps)
	second := dpSimplify(back, eps)

	// Both halves share their endpoints, drop the duplicates.
	poly := first
	if len(second) > 2 {
		poly = append(poly, second[1:len(second)-1]...)
	}
	return poly
}

// dpSimplify always returns a fresh slice so recursive halves never alias
// the input backing array.
func dpSimplify(points []image.Point, eps float64) []image.Point {
	if len(points) <= 2 {
		return append([]image.Point{}, points...)
	}
	a, b := points[0], points[len(points)-1]
	far := 0
	farDist := 0.0
	for i := 1; i < len(points)-1; i++ {
		if d := perpDistance(points[i], a, b); d > farDist {
			farDist, far = d, i
		}
	}
	if farDist <= eps {
		return []image.Point{a, b}
	}
	left := dpSimplify(points[:far+1], eps)
	right := dpSimplify(points[far:], eps)
	return append(left[:len(left)-1], right...)
}

func perpDistance(p, a, b image.Point) float64 {
	dx, dy := float64(b.X-a.X), float64(b.Y-a.Y)
	length := math.Hypot(dx, dy)
	if length == 0 {
		return math.Hypot(float64(p.X-a.X), float64(p.Y-a.Y))
	}
	cross := dx*float64(p.Y-a.Y) - dy*float64(p.X-a.X)
	return math.Abs(cross) / length
}

func perimeter(points []image.Point) float64 {
	var total float64
	for i := range points {
		next := points[(i+1)%len(points)]
		total += math.Hypot(float64(next.X-points[i].X), float64(next.Y-points[i].Y))
	}
	return total
}

func sqDist(a, b image.Point) float64 {
	dx, dy := float64(b.X-a.X), float64(b.Y-a.Y)
	return dx*dx + dy*dy
}

// quadCorners returns the polygon's corners when it is a convex
// quadrilateral covering most of the blob, nil otherwise.
func quadCorners(poly []image.Point, pixels int) []image.Point {
	if len(poly) != 4 || !isConvex(poly) {
		return nil
	}
	if shoelace(poly) < 0.7*float64(pixels) {
		return nil
	}
	return poly
}

func isConvex(poly []image.Point) bool {
	n := len(poly)
	sign := 0
	for i := 0; i < n; i++ {
		a, b, c := poly[i], poly[(i+1)%n], poly[(i+2)%n]
		cross := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		if cross == 0 {
			continue
		}
		s := 1
		if cross < 0 {
			s = -1
		}
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}
	return sign != 0
}

func shoelace(poly []image.Point) float64 {
	var area float64
	n := len(poly)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += float64(poly[i].X*poly[j].Y - poly[j].X*poly[i].Y)
	}
	return math.Abs(area) / 2
}

// iou is the intersection-over-union of two bounding boxes.
func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := inter.Dx() * inter.Dy()
	union := a.Dx()*a.Dy() + b.Dx()*b.Dy() - ia
	if union <= 0 {
		return 0
	}
	return float64(ia) / float64(union)
}
