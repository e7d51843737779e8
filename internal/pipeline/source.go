package pipeline

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Source opens named artifact documents.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	String() string
}

// FileSource reads artifacts from the local filesystem; names are paths.
type FileSource struct{}

// Open opens the file at name.
func (FileSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(name)
}

func (FileSource) String() string { return "file" }

// MinIOSource reads artifacts from an S3-compatible bucket; names are object keys.
type MinIOSource struct {
	client *minio.Client
	bucket string
}

// NewMinIOSource connects to the configured bucket and checks that it exists.
func NewMinIOSource(ctx context.Context, cfg domain.MinIOConfig) (*MinIOSource, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("artifact bucket %q does not exist", cfg.Bucket)
	}

	return &MinIOSource{client: cli, bucket: cfg.Bucket}, nil
}

// Open streams the object stored under name.
func (s *MinIOSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting object %q: %w", name, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("stat object %q: %w", name, err)
	}
	return obj, nil
}

func (s *MinIOSource) String() string { return "minio://" + s.bucket }

// NewSource builds the source named by the configuration.
func NewSource(ctx context.Context, cfg domain.ArtifactsConfig) (Source, error) {
	switch cfg.Source {
	case "", "file":
		return FileSource{}, nil
	case "minio":
		return NewMinIOSource(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown artifact source %q", cfg.Source)
	}
}

// Paths names the three artifact documents within a source.
type Paths struct {
	Pipeline string
	Metadata string
	Features string
}

// PathsFromConfig extracts the artifact names from configuration.
func PathsFromConfig(cfg domain.ArtifactsConfig) Paths {
	return Paths{Pipeline: cfg.PipelinePath, Metadata: cfg.MetadataPath, Features: cfg.FeaturesPath}
}

// Load reads, decodes and validates the bundle and its companion documents.
// The bundle may be gzip-compressed.
func Load(ctx context.Context, src Source, paths Paths) (*Artifacts, error) {
	var bundle Bundle
	if err := readDocument(ctx, src, paths.Pipeline, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&bundle)
	}); err != nil {
		return nil, fmt.Errorf("loading pipeline bundle: %w", err)
	}

	var meta *Metadata
	if err := readDocument(ctx, src, paths.Metadata, func(r io.Reader) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		meta, err = ParseMetadata(data)
		return err
	}); err != nil {
		return nil, fmt.Errorf("loading metadata: %w", err)
	}

	var features []string
	if err := readDocument(ctx, src, paths.Features, func(r io.Reader) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		features, err = ParseFeatureNames(data)
		return err
	}); err != nil {
		return nil, fmt.Errorf("loading feature names: %w", err)
	}

	return NewArtifacts(&bundle, meta, features)
}

// LoadFromConfig loads artifacts from the configured source within the load timeout.
func LoadFromConfig(ctx context.Context, cfg domain.ArtifactsConfig) (*Artifacts, error) {
	if cfg.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.LoadTimeout)
		defer cancel()
	}

	src, err := NewSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return Load(ctx, src, PathsFromConfig(cfg))
}

func readDocument(ctx context.Context, src Source, name string, decode func(io.Reader) error) error {
	rc, err := src.Open(ctx, name)
	if err != nil {
		return err
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	if err := decode(r); err != nil {
		return err
	}
	return ctx.Err()
}
