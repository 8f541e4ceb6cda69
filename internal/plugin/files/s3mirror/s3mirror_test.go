package s3mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/clark-center/change-object-author/internal/config"
	"github.com/clark-center/change-object-author/internal/testutil/tests3"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves pre-built listing pages and records copies.
type fakeS3 struct {
	pages   [][]string
	failOn  map[string]bool
	endless bool

	mu       sync.Mutex
	prefixes []string
	copies   map[string]string // destination -> copy source
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	f.prefixes = append(f.prefixes, aws.ToString(in.Prefix))
	f.mu.Unlock()

	idx := 0
	if in.ContinuationToken != nil {
		_, err := fmt.Sscanf(aws.ToString(in.ContinuationToken), "page-%d", &idx)
		if err != nil {
			return nil, err
		}
	}
	out := &s3.ListObjectsV2Output{}
	if f.endless {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(fmt.Sprintf("page-%d", idx+1))
		return out, nil
	}
	for _, k := range f.pages[idx] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if idx+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(fmt.Sprintf("page-%d", idx+1))
	} else {
		out.IsTruncated = aws.Bool(false)
	}
	return out, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := aws.ToString(in.CopySource)
	for k := range f.failOn {
		if strings.HasSuffix(src, k) {
			return nil, errors.New("access denied")
		}
	}
	if f.copies == nil {
		f.copies = map[string]string{}
	}
	f.copies[aws.ToString(in.Key)] = src
	return &s3.CopyObjectOutput{}, nil
}

func TestCopyUserFilesAcrossPages(t *testing.T) {
	fake := &fakeS3{pages: [][]string{
		{"fa-alice/c1/a.txt", "fa-alice/c1/c1.zip"},
		{"fa-alice/c1/img/b.png"},
		{"fa-alice/c1/docs/c.pdf"},
	}}
	m := New(fake, "bucket", 10, 4)

	res, err := m.CopyUserFiles(context.Background(), "fa-alice", "fa-bob", "c1")
	require.NoError(t, err)
	require.Equal(t, 3, res.Pages)
	require.Equal(t, 4, res.Listed)
	require.Equal(t, 3, res.Copied)
	require.Equal(t, 1, res.Skipped)
	require.Zero(t, res.Failed)

	require.Equal(t, map[string]string{
		"fa-bob/c1/a.txt":      "bucket/fa-alice/c1/a.txt",
		"fa-bob/c1/img/b.png":  "bucket/fa-alice/c1/img/b.png",
		"fa-bob/c1/docs/c.pdf": "bucket/fa-alice/c1/docs/c.pdf",
	}, fake.copies)
	for _, p := range fake.prefixes {
		require.Equal(t, "fa-alice/c1/", p)
	}
}

func TestCopyUserFilesFailureDoesNotStopSiblings(t *testing.T) {
	fake := &fakeS3{
		pages:  [][]string{{"fa-alice/c1/a.txt", "fa-alice/c1/b.txt", "fa-alice/c1/c.txt"}},
		failOn: map[string]bool{"b.txt": true},
	}
	m := New(fake, "bucket", 10, 2)

	res, err := m.CopyUserFiles(context.Background(), "fa-alice", "fa-bob", "c1")
	require.NoError(t, err)
	require.Equal(t, 2, res.Copied)
	require.Equal(t, 1, res.Failed)
	require.Contains(t, fake.copies, "fa-bob/c1/a.txt")
	require.Contains(t, fake.copies, "fa-bob/c1/c.txt")
}

func TestCopyUserFilesStopsAtPageCap(t *testing.T) {
	fake := &fakeS3{endless: true}
	m := New(fake, "bucket", 5, 2)

	res, err := m.CopyUserFiles(context.Background(), "fa-alice", "fa-bob", "c1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeded 5 pages")
	require.Equal(t, 5, res.Pages)
}

func TestCopyUserFilesRequiresPrefixes(t *testing.T) {
	m := New(&fakeS3{}, "bucket", 5, 2)
	_, err := m.CopyUserFiles(context.Background(), "", "fa-bob", "c1")
	require.Error(t, err)
	_, err = m.CopyUserFiles(context.Background(), "fa-alice", "fa-bob", "")
	require.Error(t, err)
}

func TestDestinationKey(t *testing.T) {
	require.Equal(t, "fa-bob/c1/x/y.txt", DestinationKey("fa-alice/c1/x/y.txt", "fa-alice", "fa-bob"))
}

func TestCopySourceEscapesSegments(t *testing.T) {
	require.Equal(t, "bucket/fa/c1/my%20file%231.txt", copySource("bucket", "fa/c1/my file#1.txt"))
}

func TestCopyUserFilesLocalStack(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping LocalStack test in short mode")
	}
	bucket := tests3.StartS3(t)
	bucket.Put(t, "fa-alice/c1/a.txt", "a")
	bucket.Put(t, "fa-alice/c1/nested/b.txt", "b")
	bucket.Put(t, "fa-alice/c1/c1.zip", "zip")
	bucket.Put(t, "fa-alice/c10/other.txt", "other")

	cfg := config.DefaultConfig()
	cfg.S3Bucket = bucket.Name
	cfg.S3Endpoint = bucket.Endpoint
	cfg.S3UsePathStyle = true
	ctx := config.WithContext(context.Background(), &cfg)

	mirror, err := load(ctx)
	require.NoError(t, err)

	res, err := mirror.CopyUserFiles(ctx, "fa-alice", "fa-bob", "c1")
	require.NoError(t, err)
	require.Equal(t, 2, res.Copied)
	require.Equal(t, 1, res.Skipped)

	require.Equal(t, []string{"fa-bob/c1/a.txt", "fa-bob/c1/nested/b.txt"}, bucket.Keys(t, "fa-bob/"))
}
