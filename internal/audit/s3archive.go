// internal/audit/s3archive.go
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// ObjectPutter is the subset of *s3.Client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveConfig configures batch uploads of audit entries.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	BatchSize int    `yaml:"batch_size"`
	// MaxBuffered caps entries held while uploads fail; the oldest are
	// dropped beyond it. Defaults to 100 batches.
	MaxBuffered int `yaml:"max_buffered"`
}

// NewS3Client builds a path-style S3 client with static credentials.
func NewS3Client(cfg ArchiveConfig) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// S3Archiver buffers entries and uploads them as zstd-compressed JSON lines,
// one object per batch. Uploads never run on the Append path: a full batch
// wakes Run, and after a failed upload only Run's ticker retries.
type S3Archiver struct {
	mu          sync.Mutex
	flushMu     sync.Mutex
	client      ObjectPutter
	bucket      string
	prefix      string
	batchSize   int
	maxBuffered int
	buffer      []Entry
	dropped     int
	dropLogged  bool
	failing     bool
	kick        chan struct{}
	encoder     *zstd.Encoder
	logger      *zap.Logger
	now         func() time.Time
}

// NewS3Archiver creates an archiver.
func NewS3Archiver(client ObjectPutter, cfg ArchiveConfig, logger *zap.Logger) (*S3Archiver, error) {
	if client == nil {
		return nil, errors.New("audit: s3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("audit: archive bucket is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = cfg.BatchSize * 100
	}
	if cfg.MaxBuffered < cfg.BatchSize {
		cfg.MaxBuffered = cfg.BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	return &S3Archiver{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      cfg.Prefix,
		batchSize:   cfg.BatchSize,
		maxBuffered: cfg.MaxBuffered,
		kick:        make(chan struct{}, 1),
		encoder:     enc,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Append buffers the entry. A full batch wakes Run unless the last upload
// failed.
func (a *S3Archiver) Append(_ context.Context, entry Entry) error {
	a.mu.Lock()
	a.buffer = append(a.buffer, entry)
	a.capLocked()
	full := len(a.buffer) >= a.batchSize && !a.failing
	a.mu.Unlock()

	if full {
		select {
		case a.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

func (a *S3Archiver) capLocked() {
	over := len(a.buffer) - a.maxBuffered
	if over <= 0 {
		return
	}
	a.buffer = append(a.buffer[:0:0], a.buffer[over:]...)
	a.dropped += over
	if !a.dropLogged {
		a.dropLogged = true
		a.logger.Warn("audit archive buffer full, dropping oldest entries",
			zap.Int("max_buffered", a.maxBuffered))
	}
}

// Run flushes every interval and whenever a batch fills, until ctx is done.
// Each flush is bounded by interval.
func (a *S3Archiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-a.kick:
		}
		flushCtx, cancel := context.WithTimeout(ctx, interval)
		err := a.Flush(flushCtx)
		cancel()
		if err != nil && ctx.Err() == nil {
			a.logger.Warn("audit archive flush failed",
				zap.Int("pending", a.Pending()),
				zap.Error(err))
		}
	}
}

// Flush uploads whatever is buffered, one object per batch. Batches that
// could not be uploaded stay buffered, ahead of newer entries.
func (a *S3Archiver) Flush(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	pending := a.buffer
	a.buffer = nil
	a.mu.Unlock()

	for len(pending) > 0 {
		n := min(a.batchSize, len(pending))
		if err := a.upload(ctx, pending[:n]); err != nil {
			a.mu.Lock()
			a.buffer = append(pending, a.buffer...)
			a.capLocked()
			a.failing = true
			a.mu.Unlock()
			return err
		}
		pending = pending[n:]
	}

	a.mu.Lock()
	a.failing = false
	a.dropLogged = false
	a.mu.Unlock()
	return nil
}

func (a *S3Archiver) upload(ctx context.Context, batch []Entry) error {
	var raw bytes.Buffer
	enc := json.NewEncoder(&raw)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode audit entry %s: %w", e.ID, err)
		}
	}
	compressed := a.encoder.EncodeAll(raw.Bytes(), nil)

	ts := a.now().UTC()
	key := path.Join(a.prefix, ts.Format("2006/01/02"),
		fmt.Sprintf("%s-%s.jsonl.zst", ts.Format("150405.000000000"), batch[0].ID))

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(compressed),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("zstd"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}

	a.logger.Debug("archived audit batch",
		zap.String("bucket", a.bucket),
		zap.String("key", key),
		zap.Int("entries", len(batch)),
		zap.Int("bytes", len(compressed)))
	return nil
}

// Pending returns the number of buffered entries.
func (a *S3Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

// Dropped returns how many entries were discarded because the buffer was full.
func (a *S3Archiver) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close flushes remaining entries and releases the encoder.
func (a *S3Archiver) Close(ctx context.Context) error {
	err := a.Flush(ctx)
	_ = a.encoder.Close()
	return err
}
