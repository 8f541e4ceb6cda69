package s3mirror

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/config"
	registryfiles "github.com/clark-center/change-object-author/internal/registry/files"
	"github.com/clark-center/change-object-author/internal/security"
	"golang.org/x/sync/errgroup"
)

func init() {
	registryfiles.Register(registryfiles.Plugin{
		Name:   "s3",
		Loader: load,
	})
}

func load(ctx context.Context) (registryfiles.FileMirror, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3mirror: S3 bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	}
	if cfg.Mode == config.ModeDev {
		// LocalStack accepts any credentials; avoid depending on a local AWS profile.
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3mirror: load AWS config: %w", err)
	}
	endpoint := strings.TrimSpace(cfg.S3Endpoint)
	usePathStyle := cfg.S3UsePathStyle
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = usePathStyle
	})
	return New(client, cfg.S3Bucket, cfg.S3MaxListPages, cfg.CopyConcurrency), nil
}

// ObjectAPI is the subset of the S3 client the mirror uses.
type ObjectAPI interface {
	s3.ListObjectsV2APIClient
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// S3Mirror copies a user's files between fileAccessId prefixes in one bucket.
type S3Mirror struct {
	client      ObjectAPI
	bucket      string
	maxPages    int
	concurrency int
}

// New creates a mirror. maxPages bounds how many listing pages one copy may walk;
// concurrency bounds parallel copies within a page.
func New(client ObjectAPI, bucket string, maxPages, concurrency int) *S3Mirror {
	if maxPages <= 0 {
		maxPages = 1000
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &S3Mirror{client: client, bucket: bucket, maxPages: maxPages, concurrency: concurrency}
}

func (m *S3Mirror) CopyUserFiles(ctx context.Context, fromPrefix, toPrefix, cuid string) (*registryfiles.CopyResult, error) {
	fromPrefix = strings.Trim(fromPrefix, "/")
	toPrefix = strings.Trim(toPrefix, "/")
	if fromPrefix == "" || toPrefix == "" || cuid == "" {
		return nil, fmt.Errorf("s3mirror: from prefix, to prefix and cuid are required")
	}

	listPrefix := fromPrefix + "/" + cuid + "/"
	archive := cuid + ".zip"
	result := &registryfiles.CopyResult{}

	paginator := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(listPrefix),
	})
	for paginator.HasMorePages() {
		if result.Pages >= m.maxPages {
			return result, fmt.Errorf("s3mirror: listing %s exceeded %d pages", listPrefix, m.maxPages)
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return result, fmt.Errorf("s3mirror: list objects under %s: %w", listPrefix, err)
		}
		result.Pages++

		var keys []string
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" {
				continue
			}
			result.Listed++
			if strings.HasSuffix(key, archive) {
				result.Skipped++
				continue
			}
			keys = append(keys, key)
		}
		copied, failed := m.copyPage(ctx, keys, fromPrefix, toPrefix)
		result.Copied += copied
		result.Failed += failed
	}

	security.CountFileCopies("copied", result.Copied)
	security.CountFileCopies("skipped", result.Skipped)
	security.CountFileCopies("failed", result.Failed)
	log.Debug("Mirrored files",
		"from", fromPrefix, "to", toPrefix, "cuid", cuid,
		"pages", result.Pages, "copied", result.Copied, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// copyPage copies keys concurrently. A failure is logged and does not stop siblings.
func (m *S3Mirror) copyPage(ctx context.Context, keys []string, fromPrefix, toPrefix string) (copied, failed int) {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			dest := DestinationKey(key, fromPrefix, toPrefix)
			_, err := m.client.CopyObject(ctx, &s3.CopyObjectInput{
				Bucket:     aws.String(m.bucket),
				CopySource: aws.String(copySource(m.bucket, key)),
				Key:        aws.String(dest),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Error("s3mirror: copy failed", "source", key, "destination", dest, "err", err)
				return nil
			}
			copied++
			return nil
		})
	}
	_ = g.Wait()
	return copied, failed
}

// DestinationKey rewrites key from the fromPrefix namespace into toPrefix,
// preserving the path below the prefix.
func DestinationKey(key, fromPrefix, toPrefix string) string {
	return toPrefix + strings.TrimPrefix(key, fromPrefix)
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
