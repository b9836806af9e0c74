package kernel

import "testing"

func TestMemset(t *testing.T) {
	// memset with a 0 size should be a no-op
	Memset(nil, 0x00)

	for pageCount := 1; pageCount <= 10; pageCount++ {
		buf := make([]byte, 4096*pageCount)
		for i := 0; i < len(buf); i++ {
			buf[i] = 0xFE
		}

		Memset(buf, 0x00)

		for i := 0; i < len(buf); i++ {
			if got := buf[i]; got != 0x00 {
				t.Errorf("[block with %d pages] expected byte: %d to be 0x00; got 0x%x", pageCount, i, got)
			}
		}
	}
}

func TestMemcopy(t *testing.T) {
	var (
		src = []byte("the big brown fox")
		dst = make([]byte, 7)
	)

	if exp, got := 7, Memcopy(src, dst); got != exp {
		t.Fatalf("expected Memcopy to copy %d bytes; copied %d", exp, got)
	}

	if exp, got := "the big", string(dst); got != exp {
		t.Fatalf("expected dst to contain %q; got %q", exp, got)
	}
}
