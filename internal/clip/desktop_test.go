//go:build darwin || windows || linux

package clip

import "testing"

func TestContentRevision(t *testing.T) {
	t.Parallel()
	if contentRevision([]byte("a"), nil) == contentRevision([]byte("b"), nil) {
		t.Fatal("different text produced the same revision")
	}
	if contentRevision([]byte("ab"), nil) == contentRevision([]byte("a"), []byte("b")) {
		t.Fatal("text/image boundary is not part of the revision")
	}
}
