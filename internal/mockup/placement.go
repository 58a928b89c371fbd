package mockup

import (
	"fmt"
	"image"
	"math"
)

// CSS mirrors the style a browser overlay would use for the print area.
type CSS struct {
	Top       string `json:"top"`
	Left      string `json:"left"`
	Width     string `json:"width"`
	MaxWidth  string `json:"max_width"`
	Transform string `json:"transform"`
}

// Placement is where the artifact lands on a canvas. Rect is in canvas
// pixels; Visible is false when the selection has no print area.
type Placement struct {
	Visible bool            `json:"visible"`
	View    View            `json:"view,omitempty"`
	CSS     CSS             `json:"css"`
	Rect    image.Rectangle `json:"-"`
}

// Place centres art of artW×artH on (left%, top%) of the canvas. The drawn
// width is width% of the canvas capped at MaxWidth; height keeps the art's
// aspect ratio.
func Place(area PrintArea, canvasW, canvasH, artW, artH int) Placement {
	transform := area.Transform
	if transform == "" {
		transform = defaultTransform
	}
	p := Placement{
		Visible: true,
		View:    area.View,
		CSS: CSS{
			Top:       percent(area.Top),
			Left:      percent(area.Left),
			Width:     percent(area.Width),
			MaxWidth:  fmt.Sprintf("%dpx", area.MaxWidth),
			Transform: transform,
		},
	}

	w := area.Width / 100 * float64(canvasW)
	if area.MaxWidth > 0 {
		w = math.Min(w, float64(area.MaxWidth))
	}
	h := w
	if artW > 0 && artH > 0 {
		h = w * float64(artH) / float64(artW)
	}
	cx := area.Left / 100 * float64(canvasW)
	cy := area.Top / 100 * float64(canvasH)

	x0 := int(math.Round(cx - w/2))
	y0 := int(math.Round(cy - h/2))
	p.Rect = image.Rect(x0, y0, x0+int(math.Round(w)), y0+int(math.Round(h)))
	return p
}

func percent(v float64) string {
	return fmt.Sprintf("%s%%", trimFloat(v))
}

func trimFloat(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int(v))
	}
	return fmt.Sprintf("%g", v)
}
