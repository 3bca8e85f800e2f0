package compositing

import (
	"image/color"
	"time"

	"github.com/google/uuid"
)

type AnnotationKind string

const (
	KindFreehand  AnnotationKind = "freehand"
	KindArrow     AnnotationKind = "arrow"
	KindRectangle AnnotationKind = "rectangle"
	KindCircle    AnnotationKind = "circle"
	KindText      AnnotationKind = "text"
)

const (
	DefaultStrokeWidth = 4.0
	DefaultFontSize    = 32.0
)

type Point struct {
	X, Y float64
}

// Annotation is a vector drawing placed over the video. The geometry fields used depend on Kind:
// freehand uses Points, arrow and rectangle use From/To, circle uses From as centre and Radius,
// text uses From as the baseline origin.
type Annotation struct {
	ID          string
	Kind        AnnotationKind
	Points      []Point
	From, To    Point
	Radius      float64
	Text        string
	FontSize    float64
	Color       color.RGBA
	StrokeWidth float64
	Visible     bool
}

func newAnnotation(kind AnnotationKind, c color.RGBA) Annotation {
	return Annotation{
		ID:          uuid.NewString(),
		Kind:        kind,
		Color:       c,
		StrokeWidth: DefaultStrokeWidth,
		Visible:     true,
	}
}

func NewFreehand(c color.RGBA, points ...Point) Annotation {
	a := newAnnotation(KindFreehand, c)
	a.Points = append([]Point(nil), points...)
	return a
}

func NewArrow(c color.RGBA, from, to Point) Annotation {
	a := newAnnotation(KindArrow, c)
	a.From, a.To = from, to
	return a
}

func NewRectangle(c color.RGBA, from, to Point) Annotation {
	a := newAnnotation(KindRectangle, c)
	a.From, a.To = from, to
	return a
}

func NewCircle(c color.RGBA, centre Point, radius float64) Annotation {
	a := newAnnotation(KindCircle, c)
	a.From, a.Radius = centre, radius
	return a
}

func NewText(c color.RGBA, at Point, text string, fontSize float64) Annotation {
	a := newAnnotation(KindText, c)
	a.From, a.Text = at, text
	a.FontSize = fontSize
	if a.FontSize <= 0 {
		a.FontSize = DefaultFontSize
	}
	return a
}

// clone deep-copies the point slice so callers cannot alter committed geometry
func (a Annotation) clone() Annotation {
	a.Points = append([]Point(nil), a.Points...)
	return a
}

// TextOverlay is a caption shown only while the playback position is inside [Start, End].
// A zero End keeps it visible until the end of the recording.
type TextOverlay struct {
	ID       string
	Text     string
	Position Point
	FontSize float64
	Color    color.RGBA
	Start    time.Duration
	End      time.Duration
}

func NewTextOverlay(text string, position Point, start, end time.Duration) TextOverlay {
	return TextOverlay{
		ID:       uuid.NewString(),
		Text:     text,
		Position: position,
		FontSize: DefaultFontSize,
		Color:    color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Start:    start,
		End:      end,
	}
}

func (o TextOverlay) VisibleAt(at time.Duration) bool {
	if at < o.Start {
		return false
	}
	return o.End <= 0 || at <= o.End
}
