package detect

import (
	"fmt"
	"image"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/bonvision/receipt-processor/config"
	"github.com/bonvision/receipt-processor/pkg/logger"
)

// Blobs below this many pixels are scanner noise, not worth tracing.
const minBlobPixels = 64

// Region is one candidate receipt cut out of a page.
type Region struct {
	Image  image.Image
	Bounds image.Rectangle
	Warped bool
}

// Result carries the detector outcome for one page. Fallback reports that
// nothing passed the filters and the whole page was returned instead, so
// downstream stages always receive at least one region.
type Result struct {
	Regions          []Region
	Candidates       int
	RejectionReasons []string
	Fallback         bool
}

// Detector locates receipt-shaped regions on scanned or photographed
// pages using classical image processing.
type Detector struct {
	cfg config.DetectionConfig
	log logger.Logger
}

func NewDetector(cfg config.DetectionConfig, log logger.Logger) *Detector {
	return &Detector{cfg: cfg, log: log}
}

type candidate struct {
	component
	corners []image.Point
}

// Detect runs the detection chain: grayscale, blur, adaptive threshold,
// morphological cleanup, edge detection, contour analysis, then filtering
// and overlap suppression. It never fails: an empty outcome degrades to
// the full page with Fallback set.
func (d *Detector) Detect(img image.Image) Result {
	bounds := img.Bounds()
	pageW, pageH := bounds.Dx(), bounds.Dy()
	pageArea := pageW * pageH
	if pageArea == 0 {
		return Result{Regions: []Region{{Image: img, Bounds: bounds}}, Fallback: true}
	}

	gray := grayscale(img)
	blurred := blurGray(gray, d.cfg.BlurSigma)
	mask := adaptiveThresholdInv(blurred, d.cfg.ThresholdBlock, d.cfg.ThresholdC)
	closed := morphClose(mask, d.cfg.CloseKernelW, d.cfg.CloseKernelH)
	opened := morphOpen(closed, d.cfg.OpenKernel)
	edges := sobelEdges(opened, d.cfg.EdgeThreshold)
	combined := orMasks(opened, edges)

	comps := findComponents(combined, minBlobPixels)
	d.log.Debug("contour extraction finished",
		logger.Int("components", len(comps)),
		logger.Int("page_width", pageW),
		logger.Int("page_height", pageH))

	candidates, reasons := d.filterComponents(comps, combined, pageArea)
	kept, dupReasons := dedupOverlaps(candidates, d.cfg.IoUThreshold)
	reasons = append(reasons, dupReasons...)

	// Top to bottom, the natural reading order for stacked receipts.
	sort.Slice(kept, func(i, j int) bool { return kept[i].bbox.Min.Y < kept[j].bbox.Min.Y })

	regions := make([]Region, 0, len(kept))
	for _, c := range kept {
		regions = append(regions, d.cutRegion(img, bounds, c))
	}

	if len(regions) == 0 {
		d.log.Warn("no receipt regions survived filtering, falling back to full page",
			logger.Int("components", len(comps)),
			logger.Strings("rejections", reasons))
		return Result{
			Regions:          []Region{{Image: img, Bounds: bounds}},
			Candidates:       len(comps),
			RejectionReasons: reasons,
			Fallback:         true,
		}
	}

	d.log.Info("receipt regions detected",
		logger.Int("regions", len(regions)),
		logger.Int("rejected", len(reasons)))
	return Result{Regions: regions, Candidates: len(comps), RejectionReasons: reasons}
}

func (d *Detector) filterComponents(comps []component, mask *image.Gray, pageArea int) ([]candidate, []string) {
	var kept []candidate
	var reasons []string

	for _, c := range comps {
		areaRatio := float64(c.pixels) / float64(pageArea)
		w, h := c.bbox.Dx(), c.bbox.Dy()

		if areaRatio < d.cfg.MinAreaRatio {
			reasons = append(reasons, fmt.Sprintf("area ratio %.4f below minimum %.2f", areaRatio, d.cfg.MinAreaRatio))
			continue
		}
		if areaRatio > d.cfg.MaxAreaRatio {
			reasons = append(reasons, fmt.Sprintf("area ratio %.4f above maximum %.2f", areaRatio, d.cfg.MaxAreaRatio))
			continue
		}

		aspect := float64(h) / float64(w)
		nearSquare := areaRatio >= d.cfg.NearSquareArea && float64(h) >= float64(w)*d.cfg.NearSquareRatio
		if aspect < d.cfg.MinAspect && !nearSquare {
			reasons = append(reasons, fmt.Sprintf("aspect ratio %.2f wider than tall", aspect))
			continue
		}
		if w < d.cfg.MinRegionWidth || h < d.cfg.MinRegionHeight {
			reasons = append(reasons, fmt.Sprintf("region %dx%d below minimum crop size", w, h))
			continue
		}

		limit := 4 * (w + h)
		contour := traceBoundary(mask, c.start, limit)
		corners := quadCorners(approxPolygon(contour, 0.02), c.pixels)
		kept = append(kept, candidate{component: c, corners: corners})
	}
	return kept, reasons
}

// dedupOverlaps drops any candidate overlapping an already kept larger
// one beyond the IoU threshold.
func dedupOverlaps(cands []candidate, threshold float64) ([]candidate, []string) {
	sort.Slice(cands, func(i, j int) bool { return cands[i].pixels > cands[j].pixels })

	var kept []candidate
	var reasons []string
	for _, c := range cands {
		dup := false
		for _, k := range kept {
			if iou(c.bbox, k.bbox) > threshold {
				dup = true
				break
			}
		}
		if dup {
			reasons = append(reasons, fmt.Sprintf("overlaps a larger region beyond iou %.2f", threshold))
			continue
		}
		kept = append(kept, c)
	}
	return kept, reasons
}

// cutRegion extracts the candidate from the page: a perspective warp when
// a clean quadrilateral outline was found, a bounding box crop otherwise.
func (d *Detector) cutRegion(img image.Image, pageBounds image.Rectangle, c candidate) Region {
	pageRect := c.bbox.Add(pageBounds.Min)
	if c.corners != nil {
		ordered := orderCorners(c.corners)
		if warped := warpQuad(img, ordered); warped != nil {
			return Region{Image: warped, Bounds: pageRect, Warped: true}
		}
	}
	return Region{Image: imaging.Crop(img, pageRect), Bounds: pageRect}
}
