package upstream

import (
	"fmt"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DecodeBody returns resp.Body transparently decompressed according to its
// Content-Encoding header. Unknown encodings pass the body through
// unchanged; callers see the original bytes rather than an error, since an
// upstream that lies about its own encoding is still worth reading.
func DecodeBody(resp *http.Response) (io.ReadCloser, error) {
	enc := resp.Header.Get("Content-Encoding")
	switch enc {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("upstream: gzip decode: %w", err)
		}
		return wrapAndClose(r, resp.Body), nil
	case "br":
		r := brotli.NewReader(resp.Body)
		return wrapAndClose(io.NopCloser(r), resp.Body), nil
	case "zstd":
		r, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("upstream: zstd decode: %w", err)
		}
		return wrapAndCloseZstd(r, resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// wrapAndClose ties the decoder's lifetime to the underlying body close.
func wrapAndClose(r io.ReadCloser, underlying io.Closer) io.ReadCloser {
	return &closeBoth{Reader: r, inner: r, underlying: underlying}
}

func wrapAndCloseZstd(r *zstd.Decoder, underlying io.Closer) io.ReadCloser {
	return &zstdCloser{Decoder: r, underlying: underlying}
}

type closeBoth struct {
	io.Reader
	inner      io.Closer
	underlying io.Closer
}

func (c *closeBoth) Close() error {
	_ = c.inner.Close()
	return c.underlying.Close()
}

type zstdCloser struct {
	*zstd.Decoder
	underlying io.Closer
}

func (z *zstdCloser) Close() error {
	z.Decoder.Close()
	return z.underlying.Close()
}
