package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	body string
	got  string
}

func (s *stubFetcher) Download(_ context.Context, location string) (io.ReadCloser, error) {
	s.got = location
	return io.NopCloser(strings.NewReader(s.body)), nil
}

func TestScheme(t *testing.T) {
	tests := map[string]string{
		"data/raw/tickets.csv":      SchemeFile,
		"/abs/tickets.csv":          SchemeFile,
		`C:\data\tickets.csv`:       SchemeFile,
		"file:///tmp/tickets.csv":   SchemeFile,
		"https://example.com/t.csv": SchemeHTTPS,
		"HTTP://example.com/t.csv":  SchemeHTTP,
		"ftp://host/t.csv":          SchemeFTP,
		"s3://bucket/key.csv":       SchemeS3,
	}
	for in, want := range tests {
		assert.Equal(t, want, Scheme(in), in)
	}
}

func TestFileFetcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.csv")
	require.NoError(t, os.WriteFile(path, []byte("a\n1\n"), 0o644))

	for _, loc := range []string{path, "file://" + path} {
		rc, err := FileFetcher{}.Download(context.Background(), loc)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "a\n1\n", string(data))
		require.NoError(t, rc.Close())
	}

	_, err := FileFetcher{}.Download(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorContains(t, err, "file: open")
}

func TestRouter_Dispatch(t *testing.T) {
	httpStub := &stubFetcher{body: "http"}
	s3Stub := &stubFetcher{body: "s3"}
	r := &Router{HTTP: httpStub, S3: s3Stub}

	rc, err := r.Download(context.Background(), "https://example.com/t.csv")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "http", string(data))
	assert.Equal(t, "https://example.com/t.csv", httpStub.got)

	rc, err = r.Download(context.Background(), "s3://bucket/t.csv")
	require.NoError(t, err)
	data, _ = io.ReadAll(rc)
	assert.Equal(t, "s3", string(data))

	_, err = r.Download(context.Background(), "ftp://host/t.csv")
	assert.ErrorContains(t, err, `no fetcher for scheme "ftp"`)

	_, err = r.Download(context.Background(), "gopher://host/t.csv")
	assert.ErrorContains(t, err, `no fetcher for scheme "gopher"`)
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(HTTPOptions{}, FTPOptions{})
	assert.NotNil(t, r.File)
	assert.NotNil(t, r.HTTP)
	assert.NotNil(t, r.FTP)
	assert.Nil(t, r.S3)
}

func TestDownloadToFile_CreateError(t *testing.T) {
	_, err := DownloadToFile(context.Background(), &stubFetcher{body: "x"}, "any", "/nonexistent/dir/file.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create file")
}
