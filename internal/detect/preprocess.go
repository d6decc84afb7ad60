package detect

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// grayscale flattens any image to 8-bit gray with the bounds rebased to
// the origin.
func grayscale(img image.Image) *image.Gray {
	return packGray(imaging.Grayscale(img))
}

// blurGray applies a gaussian blur. A non-positive sigma disables it.
func blurGray(g *image.Gray, sigma float64) *image.Gray {
	if sigma <= 0 {
		return g
	}
	return packGray(imaging.Blur(g, sigma))
}

// packGray extracts one channel from an NRGBA produced by the imaging
// package, which keeps R=G=B for grayscale output.
func packGray(src *image.NRGBA) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		si := src.PixOffset(b.Min.X, b.Min.Y+y)
		oi := out.PixOffset(0, y)
		for x := 0; x < b.Dx(); x++ {
			out.Pix[oi+x] = src.Pix[si+x*4]
		}
	}
	return out
}

// integral builds a summed-area table with a leading zero row and column,
// so the sum over any window is four lookups.
type integral struct {
	w, h int
	sum  []uint64
}

func newIntegral(g *image.Gray) *integral {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	t := &integral{w: w, h: h, sum: make([]uint64, (w+1)*(h+1))}
	for y := 0; y < h; y++ {
		var row uint64
		for x := 0; x < w; x++ {
			row += uint64(g.Pix[y*g.Stride+x])
			t.sum[(y+1)*(w+1)+(x+1)] = t.sum[y*(w+1)+(x+1)] + row
		}
	}
	return t
}

// window returns the pixel sum and cell count of the window [x0,x1]×[y0,y1]
// clipped to the image.
func (t *integral) window(x0, y0, x1, y1 int) (uint64, int) {
	x0 = max(x0, 0)
	y0 = max(y0, 0)
	x1 = min(x1, t.w-1)
	y1 = min(y1, t.h-1)
	if x0 > x1 || y0 > y1 {
		return 0, 0
	}
	w1 := t.w + 1
	s := t.sum[(y1+1)*w1+(x1+1)] - t.sum[y0*w1+(x1+1)] - t.sum[(y1+1)*w1+x0] + t.sum[y0*w1+x0]
	return s, (x1 - x0 + 1) * (y1 - y0 + 1)
}

// adaptiveThresholdInv marks pixels darker than their local mean minus a
// constant. On receipt scans that is the ink, which the morphology below
// merges into one blob per receipt.
func adaptiveThresholdInv(g *image.Gray, blockSize int, constant float64) *image.Gray {
	if blockSize < 3 {
		blockSize = 3
	}
	half := blockSize / 2
	t := newIntegral(g)
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s, cnt := t.window(x-half, y-half, x+half, y+half)
			mean := float64(s) / float64(cnt)
			if float64(g.Pix[y*g.Stride+x]) < mean-constant {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// dilate sets a pixel when any pixel of its kw×kh window is set.
func dilate(mask *image.Gray, kw, kh int) *image.Gray {
	hw, hh := kw/2, kh/2
	t := newIntegral(mask)
	w, h := mask.Rect.Dx(), mask.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if s, _ := t.window(x-hw, y-hh, x+hw, y+hh); s > 0 {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// erode keeps a pixel only when every pixel of its kw×kh window is set.
func erode(mask *image.Gray, kw, kh int) *image.Gray {
	hw, hh := kw/2, kh/2
	t := newIntegral(mask)
	w, h := mask.Rect.Dx(), mask.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if s, cnt := t.window(x-hw, y-hh, x+hw, y+hh); cnt > 0 && s == uint64(cnt)*255 {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// morphClose bridges gaps between ink lines so a receipt becomes a single
// connected region. The tall kernel matches the vertical layout of
// stacked receipts.
func morphClose(mask *image.Gray, kw, kh int) *image.Gray {
	return erode(dilate(mask, kw, kh), kw, kh)
}

// morphOpen removes isolated specks smaller than the kernel.
func morphOpen(mask *image.Gray, k int) *image.Gray {
	if k <= 1 {
		return mask
	}
	return dilate(erode(mask, k, k), k, k)
}

// sobelEdges marks pixels whose gradient magnitude exceeds the threshold.
func sobelEdges(g *image.Gray, threshold float64) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := float64(g.Pix[y*g.Stride+x+1]) - float64(g.Pix[y*g.Stride+x-1])
			gy := float64(g.Pix[(y+1)*g.Stride+x]) - float64(g.Pix[(y-1)*g.Stride+x])
			if math.Sqrt(gx*gx+gy*gy) > threshold {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// orMasks unions two binary masks of identical size.
func orMasks(a, b *image.Gray) *image.Gray {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for i := range out.Pix {
		if a.Pix[i] != 0 || b.Pix[i] != 0 {
			out.Pix[i] = 255
		}
	}
	return out
}
