package screenshot

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"image/png"
	"net/http"

	"github.com/rotisserie/eris"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Downscale decodes a PNG, JPEG or WebP frame and, when its longer side
// exceeds maxDim, scales it down preserving aspect ratio. The result is PNG.
func Downscale(data []byte, maxDim int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "screenshot: decode frame")
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim > 0 && (w > maxDim || h > maxDim) {
		if w >= h {
			h = max(1, h*maxDim/w)
			w = maxDim
		} else {
			w = max(1, w*maxDim/h)
			h = maxDim
		}
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, eris.Wrap(err, "screenshot: encode frame")
	}
	return buf.Bytes(), nil
}

func sniff(data []byte) string {
	return http.DetectContentType(data)
}
