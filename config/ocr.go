package config

import (
	"strings"
	"sync"
)

var (
	ocrOnce   sync.Once
	ocrConfig *OCRConfig
)

// OCRConfig tunes text acquisition. PDFTextThreshold is the minimum rune
// count for an embedded PDF text layer to be trusted; below it the page is
// rasterized and recognized instead. MinTextLength is the floor under which
// a region's text is considered unusable for extraction.
type OCRConfig struct {
	TesseractLangs   []string
	PDFTextThreshold int
	MinTextLength    int
	RasterDPI        int
}

func GetOCRConfig() *OCRConfig {
	ocrOnce.Do(func() {
		loadEnv()

		langs := strings.Split(getEnv("TESSERACT_LANGS", "nld+eng"), "+")
		ocrConfig = &OCRConfig{
			TesseractLangs:   langs,
			PDFTextThreshold: getEnvInt("PDF_TEXT_THRESHOLD", 40),
			MinTextLength:    getEnvInt("MIN_TEXT_LENGTH", 10),
			RasterDPI:        getEnvInt("RASTER_DPI", 200),
		}
	})
	return ocrConfig
}
