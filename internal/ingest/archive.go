package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
)

// Archiver persists each raw fetched page as a zstd-compressed NDJSON
// file, mirroring the teacher's internal/archive.Archiver batch-write
// idiom but over ingestion pages instead of aged-out trades, and using
// zstd in place of gzip for a faster ratio on the same batch-compression
// shape. When Bucket is set, archives are additionally uploaded to S3 —
// the one caller for the S3 client and Bucket/Region config flags that
// the teacher carries but never wires to anything.
type Archiver struct {
	dir    string
	s3     *s3.Client
	bucket string
}

func NewArchiver(dir string, s3Client *s3.Client, bucket string) *Archiver {
	return &Archiver{dir: dir, s3: s3Client, bucket: bucket}
}

// WritePage compresses one raw upstream page and writes it to
// dir/<symbol>/<label>-<timestamp>.ndjson.zst, uploading to S3
// afterwards if configured.
func (a *Archiver) WritePage(ctx context.Context, symbol, label string, raw []byte) error {
	if a == nil || a.dir == "" {
		return nil
	}

	dir := filepath.Join(a.dir, symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	defer enc.Close()
	compressed := enc.EncodeAll(raw, nil)

	name := fmt.Sprintf("%s-%d.ndjson.zst", label, time.Now().UTC().UnixNano())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	if a.s3 == nil || a.bucket == "" {
		return nil
	}

	key := fmt.Sprintf("%s/%s", symbol, name)
	_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(compressed),
	})
	if err != nil {
		log.Printf("ingest archiver: s3 upload %s: %v", key, err)
	}
	return nil
}
