// Package archive periodically uploads the monitor's status snapshot to an
// S3-compatible bucket (AWS S3, Cloudflare R2, MinIO).
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/dd0wney/cluso-monitor/pkg/monitor"
)

// DefaultInterval is the upload period when none is configured
const DefaultInterval = 5 * time.Minute

var (
	ErrNoBucket = errors.New("archive bucket is required")
	ErrNoSource = errors.New("archive source is required")
)

// Config describes the target bucket. Endpoint selects an S3-compatible
// service and switches to path-style addressing. Static keys are optional;
// without them the default AWS credential chain applies.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Interval        time.Duration
}

// Uploader is the S3 call the archiver needs; *s3.Client satisfies it
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Source supplies the snapshot contents
type Source interface {
	GetServiceStatus(names []string) map[string][]monitor.InstanceHealth
	WorkStatus() monitor.WorkStatus
}

// Snapshot is the uploaded document
type Snapshot struct {
	Node     monitor.WorkStatus                  `json:"node"`
	TakenAt  time.Time                           `json:"takenAt"`
	Services map[string][]monitor.InstanceHealth `json:"services"`
}

// NewS3Client builds a client from cfg and the ambient AWS configuration
func NewS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Archiver uploads snapshots on an interval
type Archiver struct {
	cfg      Config
	uploader Uploader
	src      Source
	logger   logging.Logger
	metrics  *metrics.Registry
	now      func() time.Time
}

// New creates an archiver
func New(cfg Config, uploader Uploader, src Source, logger logging.Logger, reg *metrics.Registry) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}
	if src == nil || uploader == nil {
		return nil, ErrNoSource
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	return &Archiver{
		cfg:      cfg,
		uploader: uploader,
		src:      src,
		logger:   logger.With(logging.Component("archive")),
		metrics:  reg,
		now:      time.Now,
	}, nil
}

// objectKey is <prefix>/<node>/<yyyy>/<mm>/<dd>/<hhmmss>.json in UTC
func (a *Archiver) objectKey(node string, at time.Time) string {
	at = at.UTC()
	return path.Join(a.cfg.Prefix, node, at.Format("2006/01/02"), at.Format("150405")+".json")
}

// UploadOnce uploads the current snapshot and returns its key
func (a *Archiver) UploadOnce(ctx context.Context) (string, error) {
	snap := Snapshot{
		Node:     a.src.WorkStatus(),
		TakenAt:  a.now(),
		Services: a.src.GetServiceStatus(nil),
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := a.objectKey(snap.Node.UUID, snap.TakenAt)
	_, err = a.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	a.metrics.RecordArchiveUpload(err)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return key, nil
}

// Run uploads every interval until ctx is done. Upload failures are logged
// and retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.logger.Info("status archive started",
		logging.String("bucket", a.cfg.Bucket),
		logging.Duration("interval", a.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			key, err := a.UploadOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Warn("snapshot upload failed", logging.Error(err))
				continue
			}
			a.logger.Debug("snapshot uploaded", logging.String("key", key))
		}
	}
}
