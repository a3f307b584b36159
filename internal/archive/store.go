// Package archive keeps generated reports in S3 with a monthly JSONL manifest.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ManifestEntry is one line of the monthly manifest.
type ManifestEntry struct {
	Key         string `json:"key"`
	Kind        string `json:"kind"`
	PeriodStart string `json:"periodStart"`
	PeriodEnd   string `json:"periodEnd"`
	ArchivedAt  string `json:"archivedAt"`
	Bytes       int    `json:"bytes"`
}

// Store archives report documents to S3.
type Store struct {
	bucket   string
	prefix   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, prefix: "reports", s3Client: s3Client, logger: logger, now: time.Now}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// ReportKey returns the object key for a report covering [start, end].
// Weekly reports are keyed by end date; custom windows by both dates.
func ReportKey(kind string, start, end time.Time) string {
	if kind == "weekly" {
		return fmt.Sprintf("reports/%s.json", end.Format("2006-01-02"))
	}
	return fmt.Sprintf("reports/%s-%s_%s.json", kind, start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// ArchiveReport writes doc as JSON and appends a manifest line. It returns
// the object key.
func (s *Store) ArchiveReport(ctx context.Context, kind string, start, end time.Time, doc any) (string, error) {
	if !s.Enabled() {
		return "", nil
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: marshal report: %w", err)
	}

	key := ReportKey(kind, start, end)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("archived report to S3", "s3_key", key, "kind", kind, "bytes", len(data))

	entry := ManifestEntry{
		Key:         key,
		Kind:        kind,
		PeriodStart: start.Format(time.RFC3339),
		PeriodEnd:   end.Format(time.RFC3339),
		ArchivedAt:  s.now().UTC().Format(time.RFC3339),
		Bytes:       len(data),
	}
	if err := s.AppendManifest(ctx, entry); err != nil {
		// The report itself is archived; the manifest is an index.
		s.logger.Warn("failed to append report manifest", "error", err, "s3_key", key)
	}
	return key, nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// Uses read-modify-write since S3 doesn't support append.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	now := s.now().UTC()
	manifestKey := fmt.Sprintf("%s/manifests/%d-%02d.jsonl", s.prefix, now.Year(), now.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, _ = io.ReadAll(getResp.Body)
		getResp.Body.Close()
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", manifestKey)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}
