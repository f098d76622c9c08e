// Package fetcher downloads remote source files and parses workbooks.
package fetcher

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote resource.
type Fetcher interface {
	// Download fetches the URL and returns the body. The caller closes it.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// ErrTooLarge is returned by ReadAll when the body exceeds the size cap.
var ErrTooLarge = eris.New("fetcher: body exceeds size limit")

// ReadAll downloads url with f and reads at most maxBytes (0 = unlimited).
func ReadAll(ctx context.Context, f Fetcher, url string, maxBytes int64) ([]byte, error) {
	body, err := f.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	r := io.Reader(body)
	if maxBytes > 0 {
		r = io.LimitReader(body, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", url)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, eris.Wrapf(ErrTooLarge, "fetcher: %s larger than %d bytes", url, maxBytes)
	}
	return data, nil
}
