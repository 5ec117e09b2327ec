package imagecache

import "testing"

func TestDetectImageExt(t *testing.T) {
	cases := []struct {
		name string
		b    []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "jpg"},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0x00}, "png"},
		{"webp", append([]byte("RIFF"), append([]byte{0, 0, 0, 0}, []byte("WEBPVP8 ")...)...), "webp"},
		{"gif", []byte("GIF89a...."), "gif"},
		{"html", []byte("<html><body>not found</body></html>"), ""},
		{"empty", nil, ""},
		{"truncated", []byte{0xFF, 0xD8}, ""},
	}
	for _, c := range cases {
		if got := DetectImageExt(c.b); got != c.want {
			t.Errorf("%s: DetectImageExt = %q, want %q", c.name, got, c.want)
		}
	}
}
