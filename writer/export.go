package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "renkoflow/config"
	"renkoflow/logger"
	"renkoflow/pipeline"
)

// Exporter persists pipeline results as parquet files, locally and
// optionally to S3. One exporter is shared across runs.
type Exporter struct {
	config   *appconfig.Config
	s3Client *s3.Client
	log      *logger.Log
}

// NewExporter builds the exporter. The S3 client is only constructed when
// the S3 target is enabled; local export needs no credentials.
func NewExporter(cfg *appconfig.Config) (*Exporter, error) {
	log := logger.GetLogger()
	e := &Exporter{config: cfg, log: log}

	if !cfg.Export.S3.Enabled {
		log.WithComponent("exporter").WithFields(logger.Fields{
			"directory": cfg.Export.Directory,
		}).Info("exporter initialized, local only")
		return e, nil
	}

	ctx := context.Background()
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Export.S3.Region),
	}
	if cfg.Export.S3.AccessKeyID != "" && cfg.Export.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Export.S3.AccessKeyID,
				cfg.Export.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	e.s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Export.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Export.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Export.S3.PathStyle
	})

	log.WithComponent("exporter").WithFields(logger.Fields{
		"bucket":     cfg.Export.S3.Bucket,
		"region":     cfg.Export.S3.Region,
		"endpoint":   cfg.Export.S3.Endpoint,
		"path_style": cfg.Export.S3.PathStyle,
	}).Info("exporter initialized with s3 target")
	return e, nil
}

// Export writes the bricks and oscillator points of one result. Results
// without bricks are skipped.
func (e *Exporter) Export(ctx context.Context, res pipeline.Result) error {
	if len(res.Renko.Bricks) == 0 {
		e.log.WithComponent("exporter").WithFields(logger.Fields{
			"instrument": res.Instrument,
			"timeframe":  res.Timeframe,
		}).Debug("result has no bricks, skipping export")
		return nil
	}

	batchID := uuid.NewString()
	now := time.Now().UTC()
	log := e.log.WithComponent("exporter").WithFields(logger.Fields{
		"batch_id":   batchID,
		"instrument": res.Instrument,
		"timeframe":  res.Timeframe,
	})

	bricks, err := brickParquet(res.Renko)
	if err != nil {
		return fmt.Errorf("brick export: %w", err)
	}
	if err := e.writeFile(ctx, e.generateKey(res, "renko", now), bricks, log); err != nil {
		return fmt.Errorf("brick export: %w", err)
	}

	if len(res.Points) > 0 {
		points, err := stochParquet(res.Instrument, res.Timeframe, res.Points)
		if err != nil {
			return fmt.Errorf("stoch export: %w", err)
		}
		if err := e.writeFile(ctx, e.generateKey(res, "stochrsi", now), points, log); err != nil {
			return fmt.Errorf("stoch export: %w", err)
		}
	}

	log.WithFields(logger.Fields{
		"bricks": len(res.Renko.Bricks),
		"points": len(res.Points),
	}).Info("result exported")
	return nil
}

// generateKey builds the partitioned object key for one dataset of a
// result.
func (e *Exporter) generateKey(res pipeline.Result, dataset string, ts time.Time) string {
	var parts []string
	for _, k := range e.config.Export.Partitioning.AdditionalKeys {
		switch k {
		case "instrument":
			parts = append(parts, fmt.Sprintf("instrument=%s", res.Instrument))
		case "timeframe":
			parts = append(parts, fmt.Sprintf("timeframe=%s", res.Timeframe))
		case "dataset":
			parts = append(parts, fmt.Sprintf("dataset=%s", dataset))
		}
	}

	timeFormat := e.config.Export.Partitioning.TimeFormat
	if timeFormat == "" {
		timeFormat = "{year}/{month}/{day}"
	}
	timePath := strings.ReplaceAll(timeFormat, "{year}", fmt.Sprintf("%04d", ts.Year()))
	timePath = strings.ReplaceAll(timePath, "{month}", fmt.Sprintf("%02d", ts.Month()))
	timePath = strings.ReplaceAll(timePath, "{day}", fmt.Sprintf("%02d", ts.Day()))
	timePath = strings.ReplaceAll(timePath, "{hour}", fmt.Sprintf("%02d", ts.Hour()))
	parts = append(parts, timePath)

	filename := fmt.Sprintf("%s_%s_%s_%s.parquet",
		res.Instrument, res.Timeframe, dataset, ts.Format("20060102150405"))

	return filepath.ToSlash(filepath.Join(append(parts, filename)...))
}

func (e *Exporter) writeFile(ctx context.Context, key string, data []byte, log *logger.Entry) error {
	if e.config.Export.Directory != "" {
		path := filepath.Join(e.config.Export.Directory, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create export directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write export file: %w", err)
		}
		log.WithFields(logger.Fields{"path": path, "file_size": len(data)}).Debug("export file written")
	}

	if e.s3Client != nil {
		if err := e.uploadToS3(ctx, key, data); err != nil {
			return err
		}
		log.WithFields(logger.Fields{"s3_key": key, "file_size": len(data)}).Debug("export uploaded")
	}

	logger.IncrementExportsWritten(int64(len(data)))
	return nil
}

func (e *Exporter) uploadToS3(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(e.config.Export.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"renkoflow-version": e.config.Renkoflow.Version,
		},
	}

	// Let an in-flight upload finish during shutdown.
	_, err := e.s3Client.PutObject(context.WithoutCancel(ctx), input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", e.config.Export.S3.Bucket, err)
	}
	return nil
}
