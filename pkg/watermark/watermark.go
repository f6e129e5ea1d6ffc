// Package watermark stamps a logo onto photos before they are published.
package watermark

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// Stamper overlays a logo in the top-right corner of images. The logo is
// scaled to a fixed fraction of each image's width so it reads the same on
// any photo size.
type Stamper struct {
	logo image.Image
}

// widthFraction is the logo width relative to the stamped image.
const widthFraction = 0.1

// NewStamper loads the logo image from disk.
func NewStamper(logoPath string) (*Stamper, error) {
	logo, err := imaging.Open(logoPath)
	if err != nil {
		return nil, fmt.Errorf("open watermark logo: %w", err)
	}

	return &Stamper{logo: logo}, nil
}

// Apply reads one image, stamps the logo, and returns the result encoded as
// PNG. The source image is not modified.
func (s *Stamper) Apply(src io.Reader) ([]byte, error) {
	base, err := imaging.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	stamped := s.Stamp(base)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, stamped, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode stamped image: %w", err)
	}

	return buf.Bytes(), nil
}

// Stamp overlays the scaled logo onto base at the top-right corner.
func (s *Stamper) Stamp(base image.Image) image.Image {
	bounds := base.Bounds()

	logoWidth := int(float64(bounds.Dx()) * widthFraction)
	if logoWidth < 1 {
		logoWidth = 1
	}
	logo := imaging.Resize(s.logo, logoWidth, 0, imaging.Lanczos)

	position := image.Pt(bounds.Dx()-logo.Bounds().Dx(), 0)

	return imaging.Overlay(base, logo, position, 1.0)
}
