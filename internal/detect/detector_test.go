package detect

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonvision/receipt-processor/config"
	"github.com/bonvision/receipt-processor/pkg/logger"
)

func testDetectionConfig() config.DetectionConfig {
	return config.DetectionConfig{
		MinAreaRatio:    0.02,
		MaxAreaRatio:    0.95,
		MinAspect:       1.0,
		NearSquareArea:  0.25,
		NearSquareRatio: 0.75,
		IoUThreshold:    0.3,
		MinRegionWidth:  80,
		MinRegionHeight: 120,
		BlurSigma:       1.0,
		ThresholdBlock:  35,
		ThresholdC:      10,
		CloseKernelW:    25,
		CloseKernelH:    45,
		OpenKernel:      5,
		EdgeThreshold:   128,
	}
}

func newDetector() *Detector {
	return NewDetector(testDetectionConfig(), logger.NewTestLogger())
}

// drawTextBlock fills rect with horizontal ink stripes, the silhouette a
// printed receipt leaves after thresholding.
func drawTextBlock(img *image.NRGBA, rect image.Rectangle) {
	black := color.NRGBA{A: 255}
	for y := rect.Min.Y; y < rect.Max.Y; y += 10 {
		for yy := y; yy < min(y+3, rect.Max.Y); yy++ {
			for x := rect.Min.X; x < rect.Max.X; x++ {
				img.Set(x, yy, black)
			}
		}
	}
}

func TestDetect_FindsSingleReceipt(t *testing.T) {
	page := imaging.New(400, 600, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	block := image.Rect(100, 80, 300, 520)
	drawTextBlock(page, block)

	result := newDetector().Detect(page)

	assert.False(t, result.Fallback)
	require.Len(t, result.Regions, 1)

	r := result.Regions[0]
	assert.True(t, r.Bounds.Overlaps(block), "region %v should overlap the drawn block %v", r.Bounds, block)
	assert.InDelta(t, block.Dx(), r.Bounds.Dx(), 60)
	assert.InDelta(t, block.Dy(), r.Bounds.Dy(), 60)
	require.NotNil(t, r.Image)
	assert.Greater(t, r.Image.Bounds().Dx(), 0)
}

func TestDetect_BlankPageFallsBack(t *testing.T) {
	page := imaging.New(400, 600, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	result := newDetector().Detect(page)

	assert.True(t, result.Fallback)
	require.Len(t, result.Regions, 1)
	assert.Equal(t, page.Bounds(), result.Regions[0].Bounds)
	assert.Equal(t, 0, result.Candidates)
}

func TestDetect_StackedReceiptsSortedTopToBottom(t *testing.T) {
	page := imaging.New(400, 900, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	top := image.Rect(100, 50, 300, 350)
	bottom := image.Rect(100, 550, 300, 850)
	drawTextBlock(page, top)
	drawTextBlock(page, bottom)

	result := newDetector().Detect(page)

	assert.False(t, result.Fallback)
	require.Len(t, result.Regions, 2)
	assert.Less(t, result.Regions[0].Bounds.Min.Y, result.Regions[1].Bounds.Min.Y)
	assert.True(t, result.Regions[0].Bounds.Overlaps(top))
	assert.True(t, result.Regions[1].Bounds.Overlaps(bottom))
}

func TestDetect_WideRegionRejected(t *testing.T) {
	page := imaging.New(600, 400, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	drawTextBlock(page, image.Rect(50, 50, 500, 150))

	result := newDetector().Detect(page)

	assert.True(t, result.Fallback)
	assert.Contains(t, strings.Join(result.RejectionReasons, "\n"), "aspect ratio")
}

func TestDetect_NearSquareAllowedWhenLarge(t *testing.T) {
	page := imaging.New(400, 400, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	drawTextBlock(page, image.Rect(20, 20, 380, 370))

	result := newDetector().Detect(page)

	assert.False(t, result.Fallback)
	require.Len(t, result.Regions, 1)
}

func TestDetect_TinyRegionRejectedByCropSize(t *testing.T) {
	page := imaging.New(400, 600, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	drawTextBlock(page, image.Rect(100, 100, 160, 200))

	result := newDetector().Detect(page)

	assert.True(t, result.Fallback)
	assert.Contains(t, strings.Join(result.RejectionReasons, "\n"), "below minimum crop size")
}

func TestFilterComponents_AreaBand(t *testing.T) {
	d := newDetector()

	mask := image.NewGray(image.Rect(0, 0, 100, 102))
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}
	comps := findComponents(mask, minBlobPixels)
	require.Len(t, comps, 1)

	// The blob fills 98% of the page, beyond the maximum area ratio.
	kept, reasons := d.filterComponents(comps, mask, 100*104)
	assert.Empty(t, kept)
	assert.Contains(t, strings.Join(reasons, "\n"), "above maximum")

	// Against a much larger page the same blob is under the minimum.
	kept, reasons = d.filterComponents(comps, mask, 1000*1000)
	assert.Empty(t, kept)
	assert.Contains(t, strings.Join(reasons, "\n"), "below minimum 0.02")
}

func TestDedupOverlaps(t *testing.T) {
	big := candidate{component: component{bbox: image.Rect(0, 0, 100, 100), pixels: 10000}}
	// IoU with big is 6200/13800 = 0.449.
	overlapping := candidate{component: component{bbox: image.Rect(0, 38, 100, 138), pixels: 9000}}
	// IoU with big is 2200/17800 = 0.124.
	distinct := candidate{component: component{bbox: image.Rect(0, 78, 100, 178), pixels: 8000}}

	kept, reasons := dedupOverlaps([]candidate{overlapping, big, distinct}, 0.3)

	require.Len(t, kept, 2)
	assert.Equal(t, 10000, kept[0].pixels, "the larger candidate survives")
	assert.Equal(t, 8000, kept[1].pixels)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "overlaps a larger region")
}

func TestIoU(t *testing.T) {
	a := image.Rect(0, 0, 100, 100)

	assert.InDelta(t, 1.0, iou(a, a), 1e-9)
	assert.InDelta(t, 0.0, iou(a, image.Rect(200, 200, 300, 300)), 1e-9)
	assert.InDelta(t, 6200.0/13800.0, iou(a, image.Rect(0, 38, 100, 138)), 1e-9)
}

func TestOrderCorners(t *testing.T) {
	pts := []image.Point{{90, 110}, {10, 10}, {100, 5}, {5, 100}}

	rect := orderCorners(pts)

	assert.Equal(t, image.Point{10, 10}, rect[0])
	assert.Equal(t, image.Point{100, 5}, rect[1])
	assert.Equal(t, image.Point{90, 110}, rect[2])
	assert.Equal(t, image.Point{5, 100}, rect[3])
}

func TestWarpQuad_AxisAlignedIsCrop(t *testing.T) {
	src := imaging.New(200, 200, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	for y := 50; y < 150; y++ {
		for x := 40; x < 140; x++ {
			src.Set(x, y, color.NRGBA{R: 10, G: 200, B: 30, A: 255})
		}
	}

	out := warpQuad(src, [4]image.Point{{40, 50}, {139, 50}, {139, 149}, {40, 149}})

	require.NotNil(t, out)
	assert.Equal(t, 99, out.Bounds().Dx())
	assert.Equal(t, 99, out.Bounds().Dy())

	r, g, b, _ := out.At(50, 50).RGBA()
	assert.Equal(t, uint32(10), r>>8)
	assert.Equal(t, uint32(200), g>>8)
	assert.Equal(t, uint32(30), b>>8)
}

func TestAdaptiveThresholdInv(t *testing.T) {
	flat := image.NewGray(image.Rect(0, 0, 60, 60))
	for i := range flat.Pix {
		flat.Pix[i] = 200
	}

	out := adaptiveThresholdInv(flat, 35, 10)
	for _, p := range out.Pix {
		assert.Equal(t, uint8(0), p, "uniform surfaces contain no ink")
	}

	// A dark spot on the same surface is ink.
	flat.Pix[30*flat.Stride+30] = 0
	out = adaptiveThresholdInv(flat, 35, 10)
	assert.Equal(t, uint8(255), out.Pix[30*out.Stride+30])
}

func TestMorphCloseBridgesGaps(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 100, 120))
	for x := 20; x < 80; x++ {
		mask.Pix[30*mask.Stride+x] = 255
		mask.Pix[60*mask.Stride+x] = 255
	}

	require.Len(t, findComponents(mask, 1), 2)

	closed := morphClose(mask, 25, 45)
	assert.Len(t, findComponents(closed, 1), 1)
}
