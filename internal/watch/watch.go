// Package watch detects local clipboard changes by polling.
//
// Every tick the watcher fingerprints the set of available clipboard
// formats. When the fingerprint moves it classifies the content (image over
// text over anything else), records the new state and hands text and image
// content to the caller. Content applied from a peer is recorded the same
// way, so the next tick does not send it back out.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.klb.dev/clippy/internal/clip"
	"go.klb.dev/clippy/internal/clock"
	"go.klb.dev/clippy/internal/message"
	"go.klb.dev/clippy/internal/snapshot"
)

// Interval is the poll period. Polling faster costs CPU and battery on
// laptops for little gain.
const Interval = time.Second

// ErrUnsupported is returned by Apply for content kinds the local clipboard
// cannot take.
var ErrUnsupported = errors.New("unsupported content kind")

// Watcher owns the process's clipboard snapshot.
type Watcher struct {
	backend clip.Backend
	clock   clock.Clock
	snap    *snapshot.Snapshot
}

// New returns a Watcher reading from b.
func New(b clip.Backend, clk clock.Clock) *Watcher {
	return &Watcher{backend: b, clock: clk, snap: snapshot.New()}
}

// State returns the last recorded clipboard state.
func (w *Watcher) State() snapshot.State { return w.snap.State() }

// Prime records whatever is on the clipboard now without reporting it, so
// that content present before start-up is not broadcast.
func (w *Watcher) Prime() error {
	formats, err := w.backend.Formats()
	if err != nil {
		return fmt.Errorf("read formats: %w", err)
	}
	st, _, _ := w.classify(formats)
	st.Fingerprint = snapshot.FingerprintOf(formats)
	st.At = w.clock.Now()
	w.snap.Record(st)
	return nil
}

// Tick polls the clipboard once. It returns content to broadcast and true
// when the clipboard changed to text or image content.
func (w *Watcher) Tick() (message.Content, bool) {
	formats, err := w.backend.Formats()
	if err != nil {
		slog.Warn("clipboard poll failed", "err", err)
		return message.Content{}, false
	}
	fp := snapshot.FingerprintOf(formats)
	if !w.snap.Changed(fp) {
		return message.Content{}, false
	}

	st, content, ok := w.classify(formats)
	st.Fingerprint = fp
	st.At = w.clock.Now()
	// Recorded even for content we don't send, so an unsupported format is
	// classified once rather than on every tick.
	w.snap.Record(st)

	switch {
	case ok:
		slog.Debug("local clipboard changed", "kind", content.Type, "preview", content.Preview(), "fingerprint", fp)
	case st.Kind == snapshot.KindOther:
		slog.Info("clipboard holds unsupported content, not shared", "formats", contentFormats(formats))
	}
	return content, ok
}

// classify reads the clipboard content behind formats.
func (w *Watcher) classify(formats []string) (snapshot.State, message.Content, bool) {
	if slices.Contains(formats, clip.FormatPNG) {
		raw, err := w.backend.ReadImage()
		switch {
		case err != nil:
			slog.Warn("clipboard image read failed", "err", err)
		case len(raw) > 0:
			img, err := snapshot.EncodeImage(raw)
			if err != nil {
				slog.Warn("clipboard image not encodable", "err", err)
				break
			}
			return snapshot.State{
				Kind:    snapshot.KindImage,
				Payload: img.Data,
				Width:   img.Width,
				Height:  img.Height,
			}, message.Image(img), true
		}
	}

	if slices.Contains(formats, clip.FormatText) {
		text, err := w.backend.ReadText()
		if err != nil {
			slog.Warn("clipboard text read failed", "err", err)
		} else if text != "" {
			return snapshot.State{Kind: snapshot.KindText, Payload: text}, message.Text(text), true
		}
	}

	if len(contentFormats(formats)) > 0 {
		return snapshot.State{Kind: snapshot.KindOther}, message.Content{}, false
	}
	return snapshot.State{}, message.Content{}, false
}

// Apply writes content received from a peer to the local clipboard and
// records the resulting clipboard state, so the next Tick sees no change.
func (w *Watcher) Apply(c message.Content) error {
	st := snapshot.State{Kind: c.Type}
	switch c.Type {
	case snapshot.KindText:
		if err := w.backend.WriteText(c.Data); err != nil {
			return fmt.Errorf("write text: %w", err)
		}
		st.Payload = c.Data
	case snapshot.KindImage:
		png, cfg, err := snapshot.DecodeImage(c.Data)
		if err != nil {
			return fmt.Errorf("decode image: %w", err)
		}
		if err := w.backend.WriteImage(png); err != nil {
			return fmt.Errorf("write image: %w", err)
		}
		st.Payload, st.Width, st.Height = c.Data, cfg.Width, cfg.Height
	default:
		return fmt.Errorf("%w: %q", ErrUnsupported, c.Type)
	}

	formats, err := w.backend.Formats()
	if err != nil {
		return fmt.Errorf("read formats after write: %w", err)
	}
	st.Fingerprint = snapshot.FingerprintOf(formats)
	st.At = w.clock.Now()
	w.snap.Record(st)
	return nil
}

// contentFormats drops revision markers from formats.
func contentFormats(formats []string) []string {
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		if !clip.IsRevision(f) {
			out = append(out, f)
		}
	}
	return out
}
