package compositing

import (
	"errors"
	"image/color"
	"math"
)

var ErrNoStroke = errors.New("no annotation in progress")

// Sketch turns pointer input into annotations. Down starts an annotation, Move extends it
// and Up commits it. The in-progress annotation is only a preview until Up.
type Sketch struct {
	Tool        AnnotationKind
	Color       color.RGBA
	StrokeWidth float64
	Text        string  // caption used by the text tool
	FontSize    float64 // font size used by the text tool

	current *Annotation
}

func NewSketch(tool AnnotationKind, c color.RGBA) *Sketch {
	return &Sketch{Tool: tool, Color: c, StrokeWidth: DefaultStrokeWidth, FontSize: DefaultFontSize}
}

func (s *Sketch) PointerDown(p Point) {
	var a Annotation
	switch s.Tool {
	case KindArrow:
		a = NewArrow(s.Color, p, p)
	case KindRectangle:
		a = NewRectangle(s.Color, p, p)
	case KindCircle:
		a = NewCircle(s.Color, p, 0)
	case KindText:
		a = NewText(s.Color, p, s.Text, s.FontSize)
	default:
		a = NewFreehand(s.Color, p)
	}
	if s.StrokeWidth > 0 {
		a.StrokeWidth = s.StrokeWidth
	}
	s.current = &a
}

func (s *Sketch) PointerMove(p Point) {
	if s.current == nil {
		return
	}
	switch s.current.Kind {
	case KindFreehand:
		s.current.Points = append(s.current.Points, p)
	case KindArrow, KindRectangle:
		s.current.To = p
	case KindCircle:
		s.current.Radius = math.Hypot(p.X-s.current.From.X, p.Y-s.current.From.Y)
	case KindText:
		s.current.From = p
	}
}

// PointerUp commits the in-progress annotation and clears it
func (s *Sketch) PointerUp() (Annotation, error) {
	if s.current == nil {
		return Annotation{}, ErrNoStroke
	}
	committed := s.current.clone()
	s.current = nil
	return committed, nil
}

// Preview returns a copy of the in-progress annotation, or nil
func (s *Sketch) Preview() *Annotation {
	if s.current == nil {
		return nil
	}
	preview := s.current.clone()
	return &preview
}

func (s *Sketch) Cancel() {
	s.current = nil
}
