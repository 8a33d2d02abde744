package hasher

import "testing"

func TestFastDigestLength(t *testing.T) {
	h := NewFast()
	h.Update([]byte("hello"))
	h.Finalize()
	if got := len(h.Digest()); got != FastDigestSize {
		t.Errorf("len(Digest()) = %d, want %d", got, FastDigestSize)
	}
}

func TestStrongDigestLengths(t *testing.T) {
	tests := []struct {
		name string
		long bool
		want int
	}{
		{"short", false, StrongShortDigestSize},
		{"long", true, StrongLongDigestSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(tt.long)
			h.Update([]byte("hello world"))
			h.Finalize()
			if got := len(h.Digest()); got != tt.want {
				t.Errorf("len(Digest()) = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDigestDeterminism(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")

	for _, tc := range []struct {
		name string
		make func() ByteHasher
	}{
		{"fast", NewFast},
		{"strong-short", NewStrongShort},
		{"strong-long", NewStrongLong},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h1 := tc.make()
			h1.Update(data)
			h1.Finalize()

			h2 := tc.make()
			h2.Update(data[:10])
			h2.Update(data[10:])
			h2.Finalize()

			if h1.Digest() != h2.Digest() {
				t.Errorf("digest mismatch across Update chunking: %s != %s", h1.Digest(), h2.Digest())
			}
		})
	}
}

func TestFinalizeResetsState(t *testing.T) {
	h := NewFast()
	h.Update([]byte("abc"))
	h.Finalize()
	first := h.Digest()

	h.Update([]byte("abc"))
	h.Finalize()
	second := h.Digest()

	if first != second {
		t.Errorf("Finalize did not reset state: %s != %s", first, second)
	}
}

func TestEmptyInput(t *testing.T) {
	for _, tc := range []struct {
		name string
		make func() ByteHasher
		size int
	}{
		{"fast", NewFast, FastDigestSize},
		{"strong-short", NewStrongShort, StrongShortDigestSize},
		{"strong-long", NewStrongLong, StrongLongDigestSize},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := tc.make()
			h.Finalize()
			if got := len(h.Digest()); got != tc.size {
				t.Errorf("empty digest len = %d, want %d", got, tc.size)
			}
		})
	}
}
