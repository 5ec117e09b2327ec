package imagecache

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
)

// Transcoder normalizes image bytes to JPEG. Injected at startup; the no-op
// implementation passes bytes through unchanged when the capability is off.
type Transcoder interface {
	ToJPEG(src []byte) ([]byte, error)
}

type NoopTranscoder struct{}

func (NoopTranscoder) ToJPEG(src []byte) ([]byte, error) { return src, nil }

// ImagingTranscoder re-encodes through the imaging library.
type ImagingTranscoder struct {
	Quality int
}

func (t ImagingTranscoder) ToJPEG(src []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	q := t.Quality
	if q <= 0 || q > 100 {
		q = 85
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

// transcodeTimeout bounds a single transcode; a pathological image must not
// stall the whole ingest pipeline.
const transcodeTimeout = 5 * time.Second

func transcodeWithTimeout(t Transcoder, src []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), transcodeTimeout)
	defer cancel()

	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := t.ToJPEG(src)
		ch <- result{b, err}
	}()
	select {
	case r := <-ch:
		return r.b, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
