//go:build darwin || windows || linux

package clip

import (
	"encoding/hex"
	"errors"

	"github.com/zeebo/blake3"
	"golang.design/x/clipboard"
)

// desktopBackend reads and writes through golang.design/x/clipboard, which
// only distinguishes text and PNG. revision supplies the revision marker.
type desktopBackend struct {
	name     string
	revision func(text, img []byte) string
}

func (b *desktopBackend) Name() string { return b.name }

func (b *desktopBackend) Formats() ([]string, error) {
	text := clipboard.Read(clipboard.FmtText)
	img := clipboard.Read(clipboard.FmtImage)

	var out []string
	if len(text) > 0 {
		out = append(out, FormatText)
	}
	if len(img) > 0 {
		out = append(out, FormatPNG)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return append(out, revisionPrefix+b.revision(text, img)), nil
}

func (b *desktopBackend) ReadText() (string, error) {
	return string(clipboard.Read(clipboard.FmtText)), nil
}

func (b *desktopBackend) ReadImage() ([]byte, error) {
	return clipboard.Read(clipboard.FmtImage), nil
}

func (b *desktopBackend) WriteText(s string) error {
	clipboard.Write(clipboard.FmtText, []byte(s))
	return nil
}

func (b *desktopBackend) WriteImage(png []byte) error {
	if len(png) == 0 {
		return errors.New("empty image")
	}
	clipboard.Write(clipboard.FmtImage, png)
	return nil
}

func (b *desktopBackend) Close() {}

// contentRevision derives the revision marker from the content itself, for
// platforms without a cheap change counter.
func contentRevision(text, img []byte) string {
	h := blake3.New()
	_, _ = h.Write(text)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(img)
	return hex.EncodeToString(h.Sum(nil)[:8])
}
