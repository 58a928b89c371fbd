package mockup

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"unicode"

	"github.com/gogpu/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Silhouettes are drawn in this coordinate space and scaled to the canvas.
const (
	designWidth  = 800
	designHeight = 1000
)

const (
	backgroundHex = "#f5f5f7"
	outlineHex    = "#dddddd"
	labelHex      = "#999999"
)

// GarmentRenderer draws flat product silhouettes used as mockup bases.
type GarmentRenderer struct {
	width  int
	height int
}

func NewGarmentRenderer(canvas Canvas) *GarmentRenderer {
	if canvas.Width <= 0 || canvas.Height <= 0 {
		canvas = Canvas{Width: designWidth, Height: designHeight}
	}
	return &GarmentRenderer{width: canvas.Width, height: canvas.Height}
}

// Render draws product in col from the given view. The product name and view
// are printed under the garment.
func (r *GarmentRenderer) Render(product Product, view View, col Color) (img *image.NRGBA, err error) {
	base := gg.Hex(col.Hex).Color().(color.NRGBA)

	dc := gg.NewContext(r.width, r.height)
	defer func() {
		if cerr := dc.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close canvas: %w", cerr)
		}
	}()

	dc.ClearWithColor(gg.Hex(backgroundHex))
	dc.Scale(float64(r.width)/designWidth, float64(r.height)/designHeight)

	p := &painter{dc: dc}
	switch {
	case product.Silhouette == "hat" && view == ViewFront:
		p.hatFront(base)
	case product.Silhouette == "hat":
		p.hatSide(base)
	case view == ViewFront:
		p.shirtFront(base, product.Silhouette == "sweatshirt")
	default:
		p.shirtSide(base, view != ViewSideRight, product.Silhouette == "sweatshirt")
	}
	if p.err != nil {
		return nil, fmt.Errorf("render %s %s: %w", product.ID, view, p.err)
	}

	src := dc.Image()
	out := image.NewNRGBA(image.Rect(0, 0, r.width, r.height))
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)
	drawLabel(out, Label(product, view), int(math.Round(950*float64(r.height)/designHeight)))
	return out, nil
}

// painter records the first drawing error so shapes read as a flat sequence.
type painter struct {
	dc  *gg.Context
	err error
}

func (p *painter) fill(c color.Color) {
	p.dc.SetColor(c)
	p.keep(p.dc.Fill())
}

func (p *painter) fillStroke(c color.Color, width float64) {
	p.dc.SetColor(c)
	p.keep(p.dc.FillPreserve())
	p.dc.SetColor(gg.Hex(outlineHex).Color())
	p.dc.SetLineWidth(width)
	p.keep(p.dc.Stroke())
}

func (p *painter) stroke(c color.Color, width float64) {
	p.dc.SetColor(c)
	p.dc.SetLineWidth(width)
	p.keep(p.dc.Stroke())
}

func (p *painter) keep(err error) {
	if err != nil && p.err == nil {
		p.err = err
	}
}

func (p *painter) poly(points ...float64) {
	p.dc.MoveTo(points[0], points[1])
	for i := 2; i+1 < len(points); i += 2 {
		p.dc.LineTo(points[i], points[i+1])
	}
	p.dc.ClosePath()
}

func (p *painter) shirtFront(base color.NRGBA, longSleeves bool) {
	dc := p.dc

	if longSleeves {
		p.poly(200, 250, 130, 330, 110, 640, 170, 650, 200, 420)
		p.fillStroke(shade(base, -10), 1)
		p.poly(600, 250, 670, 330, 690, 640, 630, 650, 600, 420)
		p.fillStroke(shade(base, -10), 1)
		dc.DrawRoundedRectangle(105, 630, 70, 34, 6)
		p.fillStroke(shade(base, -20), 1)
		dc.DrawRoundedRectangle(625, 630, 70, 34, 6)
		p.fillStroke(shade(base, -20), 1)
	} else {
		p.poly(200, 250, 150, 320, 180, 380, 200, 350)
		p.fillStroke(shade(base, -10), 1)
		p.poly(600, 250, 650, 320, 620, 380, 600, 350)
		p.fillStroke(shade(base, -10), 1)
	}

	dc.MoveTo(250, 200)
	dc.LineTo(200, 250)
	dc.LineTo(200, 700)
	dc.QuadraticTo(200, 720, 220, 720)
	dc.LineTo(580, 720)
	dc.QuadraticTo(600, 720, 600, 700)
	dc.LineTo(600, 250)
	dc.LineTo(550, 200)
	dc.LineTo(520, 240)
	dc.QuadraticTo(400, 260, 280, 240)
	dc.ClosePath()
	p.fillStroke(base, 2)

	if longSleeves {
		dc.DrawRectangle(200, 690, 400, 30)
		p.fillStroke(shade(base, -15), 1)
	}

	dc.DrawEllipse(400, 210, 45, 22)
	p.fillStroke(shade(base, -20), 1)
	dc.DrawEllipse(400, 210, 35, 16)
	p.fill(gg.Hex(backgroundHex).Color())

	dc.DrawLine(400, 240, 400, 720)
	p.stroke(shade(base, -5), 1)

	dc.DrawRoundedRectangle(385, 215, 30, 12, 1)
	p.dc.SetColor(color.White)
	p.keep(dc.FillPreserve())
	p.stroke(gg.Hex("#cccccc").Color(), 0.5)
}

func (p *painter) shirtSide(base color.NRGBA, left, longSleeves bool) {
	dc := p.dc
	mirror := func(x float64) float64 {
		if left {
			return x
		}
		return designWidth - x
	}

	pts := []float64{300, 200, 250, 250, 230, 300, 230, 680, 250, 720, 550, 720, 570, 680, 570, 300, 550, 250}
	for i := 0; i < len(pts); i += 2 {
		pts[i] = mirror(pts[i])
	}
	p.poly(pts...)
	p.fillStroke(base, 2)

	if longSleeves {
		dc.DrawEllipse(mirror(235), 470, 80, 220)
		p.fillStroke(shade(base, -15), 2)
		dc.DrawRoundedRectangle(mirror(235)-60, 670, 120, 34, 8)
		p.fillStroke(shade(base, -25), 1)
	} else {
		dc.DrawEllipse(mirror(235), 400, 80, 140)
		p.fillStroke(shade(base, -15), 2)
	}

	dc.MoveTo(mirror(520), 210)
	dc.QuadraticTo(mirror(540), 220, mirror(550), 240)
	p.stroke(shade(base, -30), 2)
}

func (p *painter) hatFront(base color.NRGBA) {
	dc := p.dc

	dc.DrawEllipse(400, 545, 240, 42)
	p.fillStroke(shade(base, -15), 2)

	dc.MoveTo(220, 540)
	dc.CubicTo(220, 330, 300, 290, 400, 290)
	dc.CubicTo(500, 290, 580, 330, 580, 540)
	dc.ClosePath()
	p.fillStroke(base, 2)

	dc.DrawLine(400, 296, 400, 536)
	p.stroke(shade(base, -10), 1)
	dc.DrawEllipse(400, 292, 16, 8)
	p.fillStroke(shade(base, -20), 1)
}

func (p *painter) hatSide(base color.NRGBA) {
	dc := p.dc

	dc.MoveTo(260, 540)
	dc.CubicTo(260, 350, 340, 300, 440, 300)
	dc.CubicTo(560, 300, 610, 380, 610, 540)
	dc.ClosePath()
	p.fillStroke(base, 2)

	dc.MoveTo(270, 530)
	dc.LineTo(110, 555)
	dc.QuadraticTo(95, 575, 130, 580)
	dc.LineTo(300, 560)
	dc.ClosePath()
	p.fillStroke(shade(base, -15), 2)

	dc.MoveTo(440, 300)
	dc.QuadraticTo(480, 420, 470, 540)
	p.stroke(shade(base, -10), 1)
	dc.DrawEllipse(440, 300, 14, 7)
	p.fillStroke(shade(base, -20), 1)
}

// shade lightens (percent > 0) or darkens (percent < 0) each channel by
// percent, clamped to 255.
func shade(c color.NRGBA, percent int) color.NRGBA {
	f := float64(100+percent) / 100
	ch := func(v uint8) uint8 {
		return uint8(math.Min(255, math.Max(0, math.Round(float64(v)*f))))
	}
	return color.NRGBA{R: ch(c.R), G: ch(c.G), B: ch(c.B), A: 255}
}

var viewLabels = map[View]string{
	ViewFront:     "Ön",
	ViewSideLeft:  "Sol",
	ViewSideRight: "Sağ",
	ViewSide:      "Yan",
}

// Label is the caption printed under a mockup, folded to ASCII for the
// bitmap font.
func Label(product Product, view View) string {
	suffix, ok := viewLabels[view]
	if !ok {
		suffix = string(view)
	}
	return asciiFold(fmt.Sprintf("%s (%s)", product.Name, suffix))
}

var dotless = runes.Map(func(r rune) rune {
	if r == 'ı' {
		return 'i'
	}
	return r
})

func asciiFold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), dotless, norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, folded)
}

func drawLabel(dst *image.NRGBA, text string, baseline int) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(gg.Hex(labelHex).Color()),
		Face: face,
	}
	width := drawer.MeasureString(text).Ceil()
	drawer.Dot = fixed.P((dst.Bounds().Dx()-width)/2, baseline)
	drawer.DrawString(text)
}
