package bridge

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math/rand/v2"
)

const (
	frameWidth   = 640
	frameHeight  = 480
	maxCornerX   = 600
	maxCornerY   = 440
	maxSimWeeds  = 5
	outlineWidth = 2
)

var weedGreen = color.RGBA{G: 255, A: 255}

func uniform(lo, hi float64) float64 {
	return lo + rand.Float64()*(hi-lo)
}

// synthesizeReading returns a plausible soil reading.
func synthesizeReading() SensorReading {
	return SensorReading{
		N:  uniform(30, 100),
		P:  uniform(20, 80),
		K:  uniform(20, 80),
		PH: uniform(5.5, 7.5),
	}
}

// synthesizeFrame renders a black 640x480 JPEG with up to five green outlined
// boxes and returns it base64 encoded with a random weed count in [0,5].
func synthesizeFrame() (string, int, error) {
	img := image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	for i := rand.IntN(maxSimWeeds + 1); i > 0; i-- {
		r := image.Rect(
			rand.IntN(maxCornerX+1), rand.IntN(maxCornerY+1),
			rand.IntN(maxCornerX+1), rand.IntN(maxCornerY+1),
		)
		drawOutline(img, r, weedGreen)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return "", 0, err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), rand.IntN(maxSimWeeds + 1), nil
}

// drawOutline strokes r (already canonical) with an outlineWidth border.
func drawOutline(img draw.Image, r image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X+outlineWidth, r.Min.Y+outlineWidth),
		image.Rect(r.Min.X, r.Max.Y, r.Max.X+outlineWidth, r.Max.Y+outlineWidth),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+outlineWidth, r.Max.Y+outlineWidth),
		image.Rect(r.Max.X, r.Min.Y, r.Max.X+outlineWidth, r.Max.Y+outlineWidth),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}
