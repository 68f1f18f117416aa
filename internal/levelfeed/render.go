package levelfeed

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/banshee-data/motion.report/internal/monitoring"
	"github.com/banshee-data/motion.report/internal/motion"
)

// Renderer draws a placeholder JPEG for feeds that carry levels only, so
// clips and stills have a viewable frame per tick.
type Renderer struct {
	Width   int
	Height  int
	Quality int
	// FullScale is the level drawn as a full-height bar.
	FullScale int
}

var (
	background = color.RGBA{16, 16, 16, 255}
	barColor   = color.RGBA{254, 228, 64, 255}
	textColor  = color.RGBA{4, 231, 98, 255}
)

// Render encodes one frame. A nil Renderer, a zero size or an encode
// failure yields nil data.
func (r *Renderer) Render(f motion.Frame, level int) []byte {
	if r == nil || r.Width <= 0 || r.Height <= 0 {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	full := r.FullScale
	if full <= 0 {
		full = 255
	}
	h := level * r.Height / full
	if h > r.Height {
		h = r.Height
	}
	if h > 0 {
		barWidth := r.Width / 4
		if barWidth < 1 {
			barWidth = 1
		}
		bar := image.Rect(r.Width-barWidth, r.Height-h, r.Width, r.Height)
		draw.Draw(img, bar, image.NewUniform(barColor), image.Point{}, draw.Src)
	}

	drawLabel(img, 2, 0, fmt.Sprintf("#%d", f.Index))
	drawLabel(img, 2, 13, fmt.Sprintf("Movement %d", level))
	if !f.Timestamp.IsZero() {
		drawLabel(img, 2, r.Height-14, f.Timestamp.Format("15:04:05"))
	}

	quality := r.Quality
	if quality <= 0 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		monitoring.Logf("[levelfeed] failed to encode frame %d: %v", f.Index, err)
		return nil
	}
	return buf.Bytes()
}

func drawLabel(img *image.RGBA, x, y int, label string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}
