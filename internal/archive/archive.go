// Package archive copies the output files of a finished run to S3-compatible
// object storage.
//
// Objects are laid out as <bucket>/<prefix>/<run_id>/<file>, one prefix per
// run, so repeated runs against the same output directory never overwrite
// each other's archived copies.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/provisioner/internal/executor"
	"github.com/JonMunkholm/provisioner/internal/output"
)

// maxParallelUploads bounds concurrent PUTs.
const maxParallelUploads = 4

// ObjectStore is the part of *minio.Client the archiver uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

var _ ObjectStore = (*minio.Client)(nil)

// Config holds object storage settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// Validate checks the settings needed to connect and upload.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Endpoint) == "" {
		problems = append(problems, "endpoint is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		problems = append(problems, "bucket is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		problems = append(problems, "access key and secret key are required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("archive config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// NewMinIOClient connects to the configured endpoint with static credentials.
func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Object is one uploaded file.
type Object struct {
	Key  string
	Size int64
}

// Archiver uploads run outputs.
type Archiver struct {
	store  ObjectStore
	bucket string
	region string
	prefix string
	logger *slog.Logger
}

// New creates an archiver writing to cfg.Bucket through store.
func New(store ObjectStore, cfg Config) *Archiver {
	return &Archiver{
		store:  store,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: slog.Default(),
	}
}

// WithLogger sets the logger.
func (a *Archiver) WithLogger(logger *slog.Logger) *Archiver {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Key returns the object key of file for runID.
func (a *Archiver) Key(runID, file string) string {
	return path.Join(a.prefix, runID, file)
}

// Files lists what a run leaves in dir: the three logs and the checkpoint.
func Files(dir string) []string {
	return append(output.Paths(dir), filepath.Join(dir, executor.CheckpointFile))
}

// Upload copies the run files in dir. Files that do not exist are skipped.
// Uploads run in parallel; the first failure cancels the rest.
func (a *Archiver) Upload(ctx context.Context, runID, dir string) ([]Object, error) {
	if runID == "" {
		return nil, errors.New("archive: run id is required")
	}
	if err := a.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("archive: ensure bucket %s: %w", a.bucket, err)
	}

	var files []string
	for _, p := range Files(dir) {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				a.logger.Debug("skipping missing run file", "path", p)
				continue
			}
			return nil, fmt.Errorf("archive: %w", err)
		}
		files = append(files, p)
	}

	objects := make([]Object, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)

	for i, p := range files {
		g.Go(func() error {
			key := a.Key(runID, filepath.Base(p))
			info, err := a.store.FPutObject(gctx, a.bucket, key, p, minio.PutObjectOptions{
				ContentType: contentType(p),
			})
			if err != nil {
				return fmt.Errorf("archive: upload %s: %w", key, err)
			}
			objects[i] = Object{Key: key, Size: info.Size}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.logger.Info("run archived", "bucket", a.bucket, "run_id", runID, "objects", len(objects))
	return objects, nil
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
}

func contentType(p string) string {
	switch filepath.Ext(p) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
