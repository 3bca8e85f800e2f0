package compositing

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/yeti47/cryospy/screencap/devices"
)

type FilterKey string

const (
	FilterBrightness FilterKey = "brightness"
	FilterContrast   FilterKey = "contrast"
	FilterSaturation FilterKey = "saturation"
	FilterBlur       FilterKey = "blur"
	FilterHueRotate  FilterKey = "hueRotate"
	FilterGrayscale  FilterKey = "grayscale"
	FilterSepia      FilterKey = "sepia"
	FilterInvert     FilterKey = "invert"
)

const (
	MaxPercent = 200
	MaxBlur    = 10
)

// FilterStack is the colour transform applied to every source frame.
// Percentages are 0..200 with 100 meaning unchanged, blur is a radius in pixels.
type FilterStack struct {
	Brightness float64
	Contrast   float64
	Saturation float64
	Blur       float64
	HueRotate  int // degrees, 0 disables the step
	Grayscale  bool
	Sepia      bool
	Invert     bool
}

func DefaultFilterStack() FilterStack {
	return FilterStack{Brightness: 100, Contrast: 100, Saturation: 100}
}

// Set changes a single filter. Boolean filters are enabled by any non-zero value.
func (f FilterStack) Set(key FilterKey, value float64) (FilterStack, error) {
	switch key {
	case FilterBrightness, FilterContrast, FilterSaturation:
		if value < 0 || value > MaxPercent {
			return f, fmt.Errorf("%s must be between 0 and %d, got %v", key, MaxPercent, value)
		}
		switch key {
		case FilterBrightness:
			f.Brightness = value
		case FilterContrast:
			f.Contrast = value
		default:
			f.Saturation = value
		}
	case FilterBlur:
		if value < 0 || value > MaxBlur {
			return f, fmt.Errorf("blur must be between 0 and %d px, got %v", MaxBlur, value)
		}
		f.Blur = value
	case FilterHueRotate:
		f.HueRotate = int(value) % 360
	case FilterGrayscale:
		f.Grayscale = value != 0
	case FilterSepia:
		f.Sepia = value != 0
	case FilterInvert:
		f.Invert = value != 0
	default:
		return f, fmt.Errorf("unknown filter %q", key)
	}
	return f, nil
}

func (f FilterStack) IsIdentity() bool {
	return f == DefaultFilterStack()
}

// percentChange maps a 0..200 percentage onto bild's -1..1 change range
func percentChange(percent float64) float64 {
	return (percent - 100) / 100
}

// Apply runs the stack on img in fixed order:
// brightness, contrast, saturation, blur, hue rotation, sepia, grayscale, invert.
// img is never modified; the identity stack returns a copy.
func (f FilterStack) Apply(img *image.RGBA) *image.RGBA {
	var out image.Image = img

	if f.Brightness != 100 {
		out = adjust.Brightness(out, percentChange(f.Brightness))
	}
	if f.Contrast != 100 {
		out = adjust.Contrast(out, percentChange(f.Contrast))
	}
	if f.Saturation != 100 {
		out = adjust.Saturation(out, percentChange(f.Saturation))
	}
	if f.Blur > 0 {
		out = blur.Gaussian(out, f.Blur)
	}
	if f.HueRotate != 0 {
		out = adjust.Hue(out, f.HueRotate)
	}
	if f.Sepia {
		out = effect.Sepia(out)
	}
	if f.Grayscale {
		out = effect.Grayscale(out)
	}
	if f.Invert {
		out = effect.Invert(out)
	}

	if out == image.Image(img) {
		return cloneRGBA(img)
	}
	return devices.ToRGBA(out)
}

func cloneRGBA(img *image.RGBA) *image.RGBA {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	clone := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		offset := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		copy(clone.Pix[y*clone.Stride:], img.Pix[offset:offset+4*width])
	}
	return clone
}
