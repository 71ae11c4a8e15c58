package snapshot

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
)

// ErrEmptyImage is returned for zero-length image data.
var ErrEmptyImage = errors.New("empty image")

// Image is an image payload ready for the wire.
type Image struct {
	Data   string // base64(PNG)
	Width  int
	Height int
}

// EncodeImage re-encodes raw (PNG, JPEG or GIF) as PNG and base64-encodes it.
// Re-encoding through image/png makes the payload independent of whichever
// encoder the clipboard owner used.
func EncodeImage(raw []byte) (Image, error) {
	if len(raw) == 0 {
		return Image{}, ErrEmptyImage
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Image{}, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Image{}, fmt.Errorf("encode png: %w", err)
	}
	b := img.Bounds()
	return Image{
		Data:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// DecodeImage reverses EncodeImage and returns the PNG bytes along with the
// dimensions read from the PNG header.
func DecodeImage(data string) ([]byte, image.Config, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, image.Config{}, fmt.Errorf("base64: %w", err)
	}
	if len(raw) == 0 {
		return nil, image.Config{}, ErrEmptyImage
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, image.Config{}, fmt.Errorf("png header: %w", err)
	}
	return raw, cfg, nil
}
