// Package reliability provides operational safeguards around the pipeline
// store. The store is the single source of truth for every stage, so losing
// it means re-fetching whatever the news source still serves; periodic
// snapshots to S3-compatible storage cap that loss.
package reliability

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/quicksilver/internal/config"
	"github.com/aristath/quicksilver/internal/database"
)

// BackupService snapshots the store and uploads compressed archives to an
// S3-compatible bucket (R2, minio, AWS).
type BackupService struct {
	db       *database.DB
	cfg      *config.BackupConfig
	dataDir  string
	s3Client *s3.Client
	log      zerolog.Logger
}

// NewBackupService creates a backup service. Returns an error only when the
// S3 client cannot be constructed; a disabled config yields a service whose
// Run is a no-op.
func NewBackupService(db *database.DB, cfg *config.BackupConfig, dataDir string, log zerolog.Logger) (*BackupService, error) {
	svc := &BackupService{
		db:      db,
		cfg:     cfg,
		dataDir: dataDir,
		log:     log.With().Str("service", "backup").Logger(),
	}

	if !cfg.Enabled {
		return svc, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	svc.s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.Endpoint != ""
	})

	return svc, nil
}

// Enabled reports whether backups are configured.
func (s *BackupService) Enabled() bool {
	return s.cfg.Enabled && s.s3Client != nil
}

// Run creates one snapshot and uploads it, then prunes old backups beyond
// the retain count.
func (s *BackupService) Run(ctx context.Context) error {
	if !s.Enabled() {
		s.log.Debug().Msg("Backups disabled, skipping")
		return nil
	}

	start := time.Now()
	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	snapshotPath := filepath.Join(stagingDir, "quicksilver.db")
	if err := s.snapshot(snapshotPath); err != nil {
		return err
	}

	archivePath := snapshotPath + ".gz"
	if err := compressFile(snapshotPath, archivePath); err != nil {
		return fmt.Errorf("failed to compress snapshot: %w", err)
	}

	checksum, err := fileChecksum(archivePath)
	if err != nil {
		return fmt.Errorf("failed to checksum archive: %w", err)
	}

	key := fmt.Sprintf("%s/quicksilver-backup-%s.db.gz", s.cfg.Prefix, start.UTC().Format("2006-01-02-150405"))
	if err := s.upload(ctx, archivePath, key, checksum); err != nil {
		return err
	}

	if err := s.prune(ctx); err != nil {
		// Pruning failure leaves extra backups behind, which is safe
		s.log.Warn().Err(err).Msg("Failed to prune old backups")
	}

	s.log.Info().
		Str("key", key).
		Dur("duration", time.Since(start)).
		Msg("Backup uploaded")

	return nil
}

// snapshot copies the live database into a consistent standalone file.
// VACUUM INTO takes a transactional snapshot without blocking writers.
func (s *BackupService) snapshot(destPath string) error {
	if _, err := s.db.Conn().Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

func (s *BackupService) upload(ctx context.Context, path, key, checksum string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	uploader := manager.NewUploader(s.s3Client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
		Metadata: map[string]string{
			"sha256": checksum,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup: %w", err)
	}
	return nil
}

// prune deletes the oldest backups beyond the retain count.
func (s *BackupService) prune(ctx context.Context) error {
	out, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.cfg.Prefix + "/"),
	})
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	if len(out.Contents) <= s.cfg.RetainCount {
		return nil
	}

	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	// Keys embed the timestamp, so lexical order is chronological
	sort.Strings(keys)

	for _, key := range keys[:len(keys)-s.cfg.RetainCount] {
		_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to delete old backup %s: %w", key, err)
		}
		s.log.Debug().Str("key", key).Msg("Pruned old backup")
	}

	return nil
}

// compressFile gzips src into dest. The gzip writer flushes on Close, so
// both close errors are surfaced; a short write here must fail the backup
// rather than upload a truncated archive.
func compressFile(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}

	gw := gzip.NewWriter(dest)
	if _, err := io.Copy(gw, src); err != nil {
		_ = gw.Close()
		_ = dest.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		_ = dest.Close()
		return err
	}
	return dest.Close()
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BackupJob adapts the backup service to the scheduler's Job interface.
type BackupJob struct {
	service *BackupService
}

// NewBackupJob creates a new backup job
func NewBackupJob(service *BackupService) *BackupJob {
	return &BackupJob{service: service}
}

// Name returns the job name
func (j *BackupJob) Name() string { return "backup" }

// Run executes one backup cycle
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return j.service.Run(ctx)
}
