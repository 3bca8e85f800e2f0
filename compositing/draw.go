package compositing

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"github.com/yeti47/cryospy/screencap/devices"
	"golang.org/x/image/font/gofont/goregular"
)

const arrowHeadAngle = math.Pi / 6

var outlineColor = color.RGBA{A: 220}

var (
	fontOnce   sync.Once
	fontSource *text.FontSource
	fontErr    error

	facesMu sync.Mutex
	faces   = make(map[float64]text.Face)
)

func fontFace(size float64) (text.Face, error) {
	fontOnce.Do(func() {
		fontSource, fontErr = text.NewFontSource(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fmt.Errorf("failed to load font: %w", fontErr)
	}

	facesMu.Lock()
	defer facesMu.Unlock()
	face, ok := faces[size]
	if !ok {
		face = fontSource.Face(size)
		faces[size] = face
	}
	return face, nil
}

// CompositeFrame filters src and draws the visible annotations and the overlays active at `at`
// on top of it. preview is an in-progress annotation drawn last; it may be nil.
// src is not modified. Annotations are never filtered.
func CompositeFrame(src *image.RGBA, filters FilterStack, annotations []Annotation, overlays []TextOverlay, at time.Duration, preview *Annotation) (*image.RGBA, error) {
	frame := filters.Apply(src)

	var drawList []Annotation
	for _, a := range annotations {
		if a.Visible {
			drawList = append(drawList, a)
		}
	}
	for _, o := range overlays {
		if o.VisibleAt(at) {
			caption := NewText(o.Color, o.Position, o.Text, o.FontSize)
			drawList = append(drawList, caption)
		}
	}
	if preview != nil {
		drawList = append(drawList, *preview)
	}
	if len(drawList) == 0 {
		return frame, nil
	}

	dc := gg.NewContextForImage(frame)
	defer dc.Close()

	for _, a := range drawList {
		if err := drawAnnotation(dc, a); err != nil {
			return nil, fmt.Errorf("failed to draw %s annotation: %w", a.Kind, err)
		}
	}
	if err := dc.FlushGPU(); err != nil {
		return nil, fmt.Errorf("failed to flush drawing: %w", err)
	}
	return devices.ToRGBA(dc.Image()), nil
}

func drawAnnotation(dc *gg.Context, a Annotation) error {
	width := a.StrokeWidth
	if width <= 0 {
		width = DefaultStrokeWidth
	}
	dc.SetColor(a.Color)
	dc.SetLineWidth(width)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)

	switch a.Kind {
	case KindFreehand:
		if len(a.Points) == 0 {
			return nil
		}
		if len(a.Points) == 1 {
			dc.DrawCircle(a.Points[0].X, a.Points[0].Y, width/2)
			return dc.Fill()
		}
		dc.MoveTo(a.Points[0].X, a.Points[0].Y)
		for _, p := range a.Points[1:] {
			dc.LineTo(p.X, p.Y)
		}
		return dc.Stroke()

	case KindArrow:
		dc.DrawLine(a.From.X, a.From.Y, a.To.X, a.To.Y)
		head := math.Max(15, 4*width)
		angle := math.Atan2(a.To.Y-a.From.Y, a.To.X-a.From.X)
		for _, side := range []float64{-arrowHeadAngle, arrowHeadAngle} {
			dc.MoveTo(a.To.X, a.To.Y)
			dc.LineTo(a.To.X-head*math.Cos(angle+side), a.To.Y-head*math.Sin(angle+side))
		}
		return dc.Stroke()

	case KindRectangle:
		x, y := math.Min(a.From.X, a.To.X), math.Min(a.From.Y, a.To.Y)
		dc.DrawRectangle(x, y, math.Abs(a.To.X-a.From.X), math.Abs(a.To.Y-a.From.Y))
		return dc.Stroke()

	case KindCircle:
		if a.Radius <= 0 {
			return nil
		}
		dc.DrawCircle(a.From.X, a.From.Y, a.Radius)
		return dc.Stroke()

	case KindText:
		return drawText(dc, a)

	default:
		return fmt.Errorf("unknown annotation kind %q", a.Kind)
	}
}

// drawText draws a dark outline pass and then the fill pass on top
func drawText(dc *gg.Context, a Annotation) error {
	if a.Text == "" {
		return nil
	}
	size := a.FontSize
	if size <= 0 {
		size = DefaultFontSize
	}
	face, err := fontFace(size)
	if err != nil {
		return err
	}
	dc.SetFont(face)

	outline := math.Max(1, math.Round(size/16))
	dc.SetColor(outlineColor)
	for dy := -outline; dy <= outline; dy++ {
		for dx := -outline; dx <= outline; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			dc.DrawString(a.Text, a.From.X+dx, a.From.Y+dy)
		}
	}

	dc.SetColor(a.Color)
	dc.DrawString(a.Text, a.From.X, a.From.Y)
	return nil
}
