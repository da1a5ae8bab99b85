package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

var ErrEncode = errors.New("image encoding failed")

const (
	// MaxDimension bounds the longest side of a stored act photo.
	MaxDimension = 1024
	jpegQuality  = 60
)

// EncodeDataURL converts a captured image into the durable representation
// persisted with a record: decoded, scaled down to MaxDimension on the
// longest side, re-encoded as JPEG and wrapped into a data URL. Idempotent
// with respect to dimensions.
func EncodeDataURL(data []byte) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrEncode, err)
	}

	src = scaleDown(src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("%w: encode: %v", ErrEncode, err)
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeDataURL parses a data URL produced by EncodeDataURL back into raw
// image bytes.
func DecodeDataURL(url string) ([]byte, error) {
	const marker = ";base64,"
	idx := bytes.Index([]byte(url), []byte(marker))
	if idx < 0 {
		return nil, fmt.Errorf("%w: not a base64 data URL", ErrEncode)
	}
	raw, err := base64.StdEncoding.DecodeString(url[idx+len(marker):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return raw, nil
}

func scaleDown(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= MaxDimension && h <= MaxDimension {
		return src
	}

	var dw, dh int
	if w >= h {
		dw = MaxDimension
		dh = h * MaxDimension / w
	} else {
		dh = MaxDimension
		dw = w * MaxDimension / h
	}
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
