package report

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"sync"

	"bizcheck/internal/stats"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	Width  = 640
	Height = 360

	barX     = 40
	barWidth = Width - 2*barX
	barH     = 22
)

var (
	background = color.RGBA{24, 28, 48, 255}
	textColor  = color.RGBA{235, 238, 245, 255}
	mutedColor = color.RGBA{150, 158, 180, 255}
	trackColor = color.RGBA{55, 62, 90, 255}
	// WebsiteBarColor fills the share of businesses with a website.
	WebsiteBarColor = color.RGBA{72, 187, 120, 255}
	// AccessibleBarColor fills the share of websites that answered.
	AccessibleBarColor = color.RGBA{66, 153, 225, 255}
)

var (
	facesOnce sync.Once
	titleFace font.Face
	bodyFace  font.Face
)

func loadFaces() {
	facesOnce.Do(func() {
		titleFace, bodyFace = basicfont.Face7x13, basicfont.Face7x13
		f, err := opentype.Parse(goregular.TTF)
		if err != nil {
			return
		}
		if tf, err := opentype.NewFace(f, &opentype.FaceOptions{Size: 24, DPI: 72, Hinting: font.HintingFull}); err == nil {
			titleFace = tf
		}
		if bf, err := opentype.NewFace(f, &opentype.FaceOptions{Size: 16, DPI: 72, Hinting: font.HintingFull}); err == nil {
			bodyFace = bf
		}
	})
}

// WebsiteBarY and AccessibleBarY are the top edges of the two percentage bars.
const (
	WebsiteBarY    = 200
	AccessibleBarY = 280
)

// Render draws a summary card for one search and encodes it as PNG.
func Render(w io.Writer, title string, s stats.Statistics) error {
	loadFaces()
	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	drawText(img, titleFace, textColor, barX, 48, truncate(title, 40))
	drawText(img, bodyFace, mutedColor, barX, 90, fmt.Sprintf("%d businesses   %d with websites   %d accessible",
		s.TotalBusinesses, s.BusinessesWithWebsites, s.AccessibleWebsites))
	drawText(img, bodyFace, mutedColor, barX, 120, fmt.Sprintf("average rating %.1f   high opportunity %d",
		s.AverageRating, s.HighOpportunityCount))

	drawText(img, bodyFace, textColor, barX, WebsiteBarY-10, fmt.Sprintf("Website coverage %.1f%%", s.WebsitePercentage))
	drawBar(img, WebsiteBarY, s.WebsitePercentage, WebsiteBarColor)
	drawText(img, bodyFace, textColor, barX, AccessibleBarY-10, fmt.Sprintf("Reachable websites %.1f%%", s.AccessiblePercentage))
	drawBar(img, AccessibleBarY, s.AccessiblePercentage, AccessibleBarColor)

	return png.Encode(w, img)
}

func drawBar(img *image.RGBA, y int, pct float64, fill color.RGBA) {
	track := image.Rect(barX, y, barX+barWidth, y+barH)
	draw.Draw(img, track, image.NewUniform(trackColor), image.Point{}, draw.Src)
	if pct <= 0 {
		return
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(float64(barWidth) * pct / 100)
	draw.Draw(img, image.Rect(barX, y, barX+filled, y+barH), image.NewUniform(fill), image.Point{}, draw.Src)
}

func drawText(img *image.RGBA, face font.Face, c color.Color, x, y int, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
