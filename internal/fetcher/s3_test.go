package fetcher

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string]string
	err     error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := parseS3URL("s3://support-exports/raw/2024/tickets.csv")
	require.NoError(t, err)
	assert.Equal(t, "support-exports", bucket)
	assert.Equal(t, "raw/2024/tickets.csv", key)

	for _, bad := range []string{"s3://bucket-only", "s3:///key", "https://bucket/key", "://x"} {
		_, _, err := parseS3URL(bad)
		assert.Error(t, err, bad)
	}
}

func TestS3Fetcher_Download(t *testing.T) {
	f := NewS3FetcherWithClient(&fakeS3{objects: map[string]string{"exports/t.csv": "Ticket ID\n1\n"}})

	rc, err := f.Download(context.Background(), "s3://exports/t.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "Ticket ID\n1\n", string(data))
}

func TestS3Fetcher_Download_Error(t *testing.T) {
	f := NewS3FetcherWithClient(&fakeS3{err: fmt.Errorf("AccessDenied")})

	_, err := f.Download(context.Background(), "s3://exports/t.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: get object exports/t.csv")
}
