package clip

import (
	"slices"
	"testing"
)

func TestMemoryFormatsTrackWrites(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	if f, _ := m.Formats(); f != nil {
		t.Fatalf("empty clipboard formats = %v", f)
	}

	_ = m.WriteText("a")
	first, _ := m.Formats()
	if !slices.Contains(first, FormatText) {
		t.Fatalf("formats = %v, want text", first)
	}
	again, _ := m.Formats()
	if !slices.Equal(first, again) {
		t.Fatalf("formats changed without a write: %v vs %v", first, again)
	}

	_ = m.WriteText("b")
	second, _ := m.Formats()
	if slices.Equal(first, second) {
		t.Fatal("rewrite did not change the revision marker")
	}

	_ = m.WriteImage([]byte{1, 2})
	img, _ := m.Formats()
	if slices.Contains(img, FormatText) || !slices.Contains(img, FormatPNG) {
		t.Fatalf("formats after image write = %v", img)
	}
	if s, _ := m.ReadText(); s != "" {
		t.Errorf("text survived an image write: %q", s)
	}

	m.WriteOther("application/x-file-list")
	other, _ := m.Formats()
	revisions := 0
	for _, f := range other {
		if IsRevision(f) {
			revisions++
		}
	}
	if revisions != 1 || !slices.Contains(other, "application/x-file-list") {
		t.Fatalf("formats after other write = %v", other)
	}
}
