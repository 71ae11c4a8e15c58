// Package snapshot models the last observed clipboard state of a process.
//
// Change detection works on a format fingerprint: a blake3 digest over the
// set of clipboard format identifiers currently on offer. Two different
// payloads with the same format set share a fingerprint; callers that need
// content-level detection must fold a content marker into the identifiers.
package snapshot

import (
	"encoding/hex"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// Kind classifies clipboard content.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindOther Kind = "other"
)

// Fingerprint is a digest over a set of clipboard format identifiers. The
// zero value means nothing has been observed yet.
type Fingerprint [32]byte

// String returns a short hex prefix, enough for log lines.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:6])
}

// IsZero reports whether f has never been set.
func (f Fingerprint) IsZero() bool { return f == Fingerprint{} }

// FingerprintOf digests formats. Order does not matter; duplicates count once.
func FingerprintOf(formats []string) Fingerprint {
	set := slices.Clone(formats)
	slices.Sort(set)
	set = slices.Compact(set)

	h := blake3.New()
	// Domain prefix keeps the empty set distinct from the zero Fingerprint.
	_, _ = h.WriteString("clippy/formats\x00")
	_, _ = h.WriteString(strings.Join(set, "\x00"))

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// State is an immutable copy of a Snapshot.
type State struct {
	Kind        Kind
	Payload     string
	Fingerprint Fingerprint
	Width       int
	Height      int
	At          time.Time
}

// Snapshot holds the single last-seen clipboard state of a process. It is
// written by the watcher tick and by inbound application, so every access
// goes through mu.
type Snapshot struct {
	mu    sync.Mutex
	state State
}

// New returns an empty Snapshot.
func New() *Snapshot { return &Snapshot{} }

// Fingerprint returns the recorded fingerprint.
func (s *Snapshot) Fingerprint() Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Fingerprint
}

// Changed reports whether fp differs from the recorded fingerprint.
func (s *Snapshot) Changed(fp Fingerprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Fingerprint != fp
}

// Record replaces the snapshot in place.
func (s *Snapshot) Record(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns a copy of the current state.
func (s *Snapshot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
