package detect

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// orderCorners arranges four points as top-left, top-right, bottom-right,
// bottom-left. The top-left minimizes x+y, the bottom-right maximizes it,
// and the difference y−x separates the remaining two.
func orderCorners(pts []image.Point) [4]image.Point {
	var rect [4]image.Point
	minSum, maxSum := math.MaxInt, math.MinInt
	minDiff, maxDiff := math.MaxInt, math.MinInt
	for _, p := range pts {
		sum, diff := p.X+p.Y, p.Y-p.X
		if sum < minSum {
			minSum, rect[0] = sum, p
		}
		if sum > maxSum {
			maxSum, rect[2] = sum, p
		}
		if diff < minDiff {
			minDiff, rect[1] = diff, p
		}
		if diff > maxDiff {
			maxDiff, rect[3] = diff, p
		}
	}
	return rect
}

// homography solves the projective transform taking each from[i] to
// to[i], with the bottom-right entry fixed to 1.
func homography(from, to [4][2]float64) ([9]float64, bool) {
	var m [8][9]float64
	for i := 0; i < 4; i++ {
		x, y := from[i][0], from[i][1]
		u, v := to[i][0], to[i][1]
		m[2*i] = [9]float64{x, y, 1, 0, 0, 0, -u * x, -u * y, u}
		m[2*i+1] = [9]float64{0, 0, 0, x, y, 1, -v * x, -v * y, v}
	}

	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-10 {
			return [9]float64{}, false
		}
		m[col], m[pivot] = m[pivot], m[col]
		for r := 0; r < 8; r++ {
			if r == col {
				continue
			}
			f := m[r][col] / m[col][col]
			for c := col; c < 9; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}

	var h [9]float64
	for i := 0; i < 8; i++ {
		h[i] = m[i][8] / m[i][i]
	}
	h[8] = 1
	return h, true
}

// warpQuad maps the quadrilateral onto an upright rectangle sized from
// the quad's edge lengths, resampling bilinearly. It returns nil when the
// quad is degenerate, in which case the caller falls back to a bbox crop.
func warpQuad(img image.Image, corners [4]image.Point) *image.NRGBA {
	tl, tr, br, bl := corners[0], corners[1], corners[2], corners[3]

	widthTop := math.Hypot(float64(tr.X-tl.X), float64(tr.Y-tl.Y))
	widthBottom := math.Hypot(float64(br.X-bl.X), float64(br.Y-bl.Y))
	heightLeft := math.Hypot(float64(bl.X-tl.X), float64(bl.Y-tl.Y))
	heightRight := math.Hypot(float64(br.X-tr.X), float64(br.Y-tr.Y))

	w := int(math.Max(widthTop, widthBottom))
	h := int(math.Max(heightLeft, heightRight))
	if w < 2 || h < 2 {
		return nil
	}

	dstRect := [4][2]float64{{0, 0}, {float64(w - 1), 0}, {float64(w - 1), float64(h - 1)}, {0, float64(h - 1)}}
	srcQuad := [4][2]float64{
		{float64(tl.X), float64(tl.Y)},
		{float64(tr.X), float64(tr.Y)},
		{float64(br.X), float64(br.Y)},
		{float64(bl.X), float64(bl.Y)},
	}

	// Inverse mapping: for every destination pixel find its source.
	hm, ok := homography(dstRect, srcQuad)
	if !ok {
		return nil
	}

	src := imaging.Clone(img)
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx, fy := float64(x), float64(y)
			den := hm[6]*fx + hm[7]*fy + hm[8]
			if den == 0 {
				continue
			}
			sx := (hm[0]*fx + hm[1]*fy + hm[2]) / den
			sy := (hm[3]*fx + hm[4]*fy + hm[5]) / den
			r, g, b, a := bilinearNRGBA(src, sx, sy)
			i := out.PixOffset(x, y)
			out.Pix[i] = r
			out.Pix[i+1] = g
			out.Pix[i+2] = b
			out.Pix[i+3] = a
		}
	}
	return out
}

func bilinearNRGBA(src *image.NRGBA, x, y float64) (uint8, uint8, uint8, uint8) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w == 0 || h == 0 {
		return 0, 0, 0, 0
	}

	x = math.Min(math.Max(x, 0), float64(w-1))
	y = math.Min(math.Max(y, 0), float64(h-1))
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	fx, fy := x-float64(x0), y-float64(y0)

	sample := func(px, py int) (float64, float64, float64, float64) {
		i := src.PixOffset(src.Rect.Min.X+px, src.Rect.Min.Y+py)
		return float64(src.Pix[i]), float64(src.Pix[i+1]), float64(src.Pix[i+2]), float64(src.Pix[i+3])
	}

	r00, g00, b00, a00 := sample(x0, y0)
	r10, g10, b10, a10 := sample(x1, y0)
	r01, g01, b01, a01 := sample(x0, y1)
	r11, g11, b11, a11 := sample(x1, y1)

	lerp2 := func(v00, v10, v01, v11 float64) uint8 {
		top := v00 + (v10-v00)*fx
		bottom := v01 + (v11-v01)*fx
		return uint8(math.Round(top + (bottom-top)*fy))
	}
	return lerp2(r00, r10, r01, r11), lerp2(g00, g10, g01, g11), lerp2(b00, b10, b01, b11), lerp2(a00, a10, a01, a11)
}
