// Package fetcher opens source files from local disk, HTTP, FTP and S3 and
// streams their rows as CSV or XLSX.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher opens a location for reading.
type Fetcher interface {
	// Download opens location and returns its body. The caller closes it.
	Download(ctx context.Context, location string) (io.ReadCloser, error)
}

// Location schemes understood by Router.
const (
	SchemeFile  = "file"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFTP   = "ftp"
	SchemeS3    = "s3"
)

// Scheme returns the lower-case scheme of location. Plain paths, including
// Windows drive paths, report SchemeFile.
func Scheme(location string) string {
	i := strings.Index(location, "://")
	if i <= 1 {
		return SchemeFile
	}
	return strings.ToLower(location[:i])
}

// FileFetcher opens local paths and file:// URLs.
type FileFetcher struct{}

// Download opens the local file.
func (FileFetcher) Download(_ context.Context, location string) (io.ReadCloser, error) {
	path := location
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, eris.Wrap(err, "file: parse url")
		}
		path = u.Path
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "file: open %s", path)
	}
	return f, nil
}

// Router dispatches a location to the Fetcher for its scheme. A nil
// fetcher means the scheme is not configured.
type Router struct {
	File Fetcher
	HTTP Fetcher
	FTP  Fetcher
	S3   Fetcher
}

// NewRouter returns a Router for local files, HTTP(S) and FTP. S3 needs
// credentials and is set by the caller.
func NewRouter(httpOpts HTTPOptions, ftpOpts FTPOptions) *Router {
	return &Router{
		File: FileFetcher{},
		HTTP: NewHTTPFetcher(httpOpts),
		FTP:  NewFTPFetcher(ftpOpts),
	}
}

// Download opens location with the fetcher registered for its scheme.
func (r *Router) Download(ctx context.Context, location string) (io.ReadCloser, error) {
	f, err := r.fetcherFor(location)
	if err != nil {
		return nil, err
	}
	return f.Download(ctx, location)
}

func (r *Router) fetcherFor(location string) (Fetcher, error) {
	var f Fetcher
	scheme := Scheme(location)
	switch scheme {
	case SchemeFile:
		f = r.File
	case SchemeHTTP, SchemeHTTPS:
		f = r.HTTP
	case SchemeFTP:
		f = r.FTP
	case SchemeS3:
		f = r.S3
	}
	if f == nil {
		return nil, eris.Errorf("fetcher: no fetcher for scheme %q", scheme)
	}
	return f, nil
}

// DownloadToFile copies location to path. Returns bytes written.
func DownloadToFile(ctx context.Context, f Fetcher, location, path string) (int64, error) {
	body, err := f.Download(ctx, location)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "write file")
	}
	return n, nil
}
