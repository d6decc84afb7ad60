package ocr

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	_ "golang.org/x/image/tiff"

	"github.com/bonvision/receipt-processor/config"
)

// Page is one unit of pipeline input. A page from a trusted PDF text layer
// carries Text; scanned or photographed pages carry an Image for the
// detect-and-recognize path. Exactly one of the two is set.
type Page struct {
	Number int
	Text   string
	Image  image.Image
}

// HasText reports whether the page came with a usable embedded text layer.
func (p Page) HasText() bool { return p.Text != "" }

// CanLoad reports whether a content type is accepted by LoadDocument.
func CanLoad(contentType string) bool {
	switch contentType {
	case "application/pdf", "image/jpeg", "image/jpg", "image/png", "image/tiff":
		return true
	default:
		return false
	}
}

// LoadDocument splits an uploaded artifact into pages. Images become a
// single image page; PDF pages keep their embedded text when it is long
// enough to trust and are rasterized otherwise.
func LoadDocument(data []byte, contentType string, cfg *config.OCRConfig) ([]Page, error) {
	switch {
	case contentType == "application/pdf":
		return loadPDF(data, cfg)
	case strings.HasPrefix(contentType, "image/"):
		return loadImage(data)
	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
}

func loadImage(data []byte) ([]Page, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	return []Page{{Number: 1, Image: img}}, nil
}

func loadPDF(data []byte, cfg *config.OCRConfig) ([]Page, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}

	numPages := pdfReader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", ErrUnreadableDocument)
	}

	// The rasterizer is opened lazily; born-digital PDFs never need it.
	var raster *fitz.Document
	defer func() {
		if raster != nil {
			raster.Close()
		}
	}()

	pages := make([]Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		text := embeddedText(pdfReader.Page(i))
		if textBearing(text, cfg.PDFTextThreshold) {
			pages = append(pages, Page{Number: i, Text: text})
			continue
		}

		if raster == nil {
			raster, err = fitz.NewFromMemory(data)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
			}
		}
		img, err := raster.ImageDPI(i-1, float64(cfg.RasterDPI))
		if err != nil {
			return nil, fmt.Errorf("failed to rasterize page %d: %w", i, err)
		}
		pages = append(pages, Page{Number: i, Image: img})
	}
	return pages, nil
}

// embeddedText pulls the text layer of one PDF page. Extraction errors are
// treated as an absent layer, not as failures; the page gets rasterized.
func embeddedText(page pdf.Page) string {
	if page.V.IsNull() {
		return ""
	}
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// textBearing reports whether an embedded text layer is substantial enough
// to trust without OCR. Scanner apps often leave a near-empty layer behind.
func textBearing(text string, threshold int) bool {
	return utf8.RuneCountInString(text) >= threshold
}
