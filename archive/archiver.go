// Package archive drains observed option snapshots into parquet files on S3,
// partitioned by market, underlying and trade date.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "optionflow/config"
	"optionflow/logger"
	"optionflow/models"
)

// Record is the parquet row layout for archived option quotes.
type Record struct {
	Market          string  `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	StockCode       string  `parquet:"name=stock_code, type=BYTE_ARRAY, convertedtype=UTF8"`
	OptionCode      string  `parquet:"name=option_code, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp       int64   `parquet:"name=timestamp, type=INT64"`
	Price           float64 `parquet:"name=price, type=DOUBLE"`
	Volume          int64   `parquet:"name=volume, type=INT64"`
	Turnover        float64 `parquet:"name=turnover, type=DOUBLE"`
	ChangeRate      float64 `parquet:"name=change_rate, type=DOUBLE"`
	OpenInterest    int64   `parquet:"name=open_interest, type=INT64"`
	NetOpenInterest int64   `parquet:"name=net_open_interest, type=INT64"`
	StrikePrice     float64 `parquet:"name=strike_price, type=DOUBLE"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Writing is append-only, reporting the current length is enough.
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// batch is one buffer's worth of snapshots headed for a single parquet file.
type batch struct {
	ID        string
	Market    string
	StockCode string
	Day       string
	Entries   []models.OptionSnapshot
}

// Archiver buffers snapshots from the quote channel per market, underlying
// and trade day. Each buffer is flushed to one parquet object on a fixed
// interval.
type Archiver struct {
	config   *appconfig.Config
	quotes   <-chan models.OptionSnapshot
	s3Client *s3.Client

	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	buffer      map[string][]models.OptionSnapshot
	flushTicker *time.Ticker
}

// NewArchiver builds the archiver and its S3 client. AWS credentials come
// from the config when set, otherwise from the default provider chain.
func NewArchiver(cfg *appconfig.Config, quotes <-chan models.OptionSnapshot) (*Archiver, error) {
	log := logger.GetLogger()

	ctx := context.Background()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Archive.S3.Region),
	}
	if cfg.Archive.S3.AccessKeyID != "" && cfg.Archive.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Archive.S3.AccessKeyID,
				cfg.Archive.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("archive").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Archive.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Archive.S3.PathStyle
	})

	a := &Archiver{
		config:   cfg,
		quotes:   quotes,
		s3Client: s3Client,
		wg:       &sync.WaitGroup{},
		log:      log,
	}

	log.WithComponent("archive").WithFields(logger.Fields{
		"bucket":     cfg.Archive.S3.Bucket,
		"region":     cfg.Archive.S3.Region,
		"endpoint":   cfg.Archive.S3.Endpoint,
		"path_style": cfg.Archive.S3.PathStyle,
	}).Info("archiver initialized")

	return a, nil
}

// Start launches the consume and flush workers.
func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archiver already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	log := a.log.WithComponent("archive").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting archiver")

	a.buffer = make(map[string][]models.OptionSnapshot)

	interval := a.config.Archive.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	a.flushTicker = time.NewTicker(interval)

	a.wg.Add(1)
	go a.consumeWorker()

	a.wg.Add(1)
	go a.flushWorker()

	log.Info("archiver started successfully")
	return nil
}

// Stop terminates the workers after a final flush.
func (a *Archiver) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	if a.flushTicker != nil {
		a.flushTicker.Stop()
	}

	a.log.WithComponent("archive").Info("stopping archiver")
	a.wg.Wait()
	a.log.WithComponent("archive").Info("archiver stopped")
}

func (a *Archiver) consumeWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("archive").WithFields(logger.Fields{"worker": "consume"})
	log.Info("starting archive consume worker")

	for {
		select {
		case <-a.ctx.Done():
			log.Info("consume worker stopped due to context cancellation")
			return
		case snap, ok := <-a.quotes:
			if !ok {
				log.Info("quote channel closed, consume worker stopping")
				return
			}
			a.addQuote(snap)
		}
	}
}

func (a *Archiver) flushWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("archive").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting archive flush worker")

	for {
		select {
		case <-a.ctx.Done():
			a.flushBuffers("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-a.flushTicker.C:
			a.flushBuffers("interval")
		}
	}
}

func (a *Archiver) addQuote(snap models.OptionSnapshot) {
	if snap.OptionCode == "" || snap.Timestamp.IsZero() {
		return
	}
	key := a.bufferKey(marketOf(snap.StockCode), snap.StockCode, snap.Timestamp.Format("2006-01-02"))
	a.mu.Lock()
	a.buffer[key] = append(a.buffer[key], snap)
	a.mu.Unlock()
}

func (a *Archiver) bufferKey(market, stockCode, day string) string {
	return fmt.Sprintf("%s|%s|%s", market, stockCode, day)
}

// marketOf extracts the market prefix from a code such as "HK.00700".
func marketOf(code string) string {
	if i := strings.IndexByte(code, '.'); i > 0 {
		return code[:i]
	}
	return code
}

func (a *Archiver) flushBuffers(reason string) {
	a.mu.Lock()
	buffers := a.buffer
	a.buffer = make(map[string][]models.OptionSnapshot)
	a.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	a.log.WithComponent("archive").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing quote buffers")

	for key, entries := range buffers {
		if len(entries) == 0 {
			continue
		}
		parts := strings.SplitN(key, "|", 3)
		a.processBatch(batch{
			ID:        uuid.New().String(),
			Market:    parts[0],
			StockCode: parts[1],
			Day:       parts[2],
			Entries:   entries,
		})
	}
}

func (a *Archiver) processBatch(b batch) {
	log := a.log.WithComponent("archive").WithFields(logger.Fields{
		"batch_id":     b.ID,
		"market":       b.Market,
		"stock_code":   b.StockCode,
		"trade_date":   b.Day,
		"record_count": len(b.Entries),
		"operation":    "process_batch",
	})

	s3Key := a.objectKey(b)
	log = log.WithFields(logger.Fields{"s3_key": s3Key})

	data, err := a.createParquetFile(b.Entries)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	if err := a.uploadToS3(s3Key, data); err != nil {
		log.WithError(err).
			WithFields(logger.Fields{"bucket": a.config.Archive.S3.Bucket, "s3_key": s3Key}).
			Error("failed to upload to S3")
		return
	}

	logger.RecordChannelMessage("parquet_archive", len(data))
	log.WithFields(logger.Fields{"file_size": len(data)}).Info("batch archived")
}

// objectKey lays out the hive-style partition path for one batch.
func (a *Archiver) objectKey(b batch) string {
	parts := []string{
		fmt.Sprintf("market=%s", b.Market),
		fmt.Sprintf("underlying=%s", b.StockCode),
		fmt.Sprintf("date=%s", b.Day),
	}

	ts := time.Now().UTC().Format("20060102150405")
	filename := fmt.Sprintf("optionflow_%s_%s.parquet", b.StockCode, ts)

	key := filepath.Join(append(parts, filename)...)
	return filepath.ToSlash(key)
}

func (a *Archiver) createParquetFile(entries []models.OptionSnapshot) ([]byte, error) {
	log := a.log.WithComponent("archive").WithFields(logger.Fields{
		"entries_count": len(entries),
		"operation":     "create_parquet_file",
	})

	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(Record), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch a.config.Archive.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "zstd":
		pw.CompressionType = parquet.CompressionCodec_ZSTD
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, snap := range entries {
		record := Record{
			Market:          marketOf(snap.StockCode),
			StockCode:       snap.StockCode,
			OptionCode:      snap.OptionCode,
			Timestamp:       snap.Timestamp.UnixMilli(),
			Price:           snap.Price,
			Volume:          snap.Volume,
			Turnover:        snap.Turnover,
			ChangeRate:      snap.ChangeRate,
			OpenInterest:    snap.OpenInterest,
			NetOpenInterest: snap.NetOpenInterest,
			StrikePrice:     snap.StrikeFromAPI,
		}

		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	data := fw.Bytes()

	log.WithFields(logger.Fields{
		"file_size":   len(data),
		"compression": a.config.Archive.Compression,
	}).Info("parquet file created")

	return data, nil
}

func (a *Archiver) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Archive.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        a.config.Archive.Compression,
			"optionflow-version": a.config.App.Version,
		},
	}

	// Shutdown flushes must still complete their upload.
	ctx := context.WithoutCancel(a.ctx)
	_, err := a.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", a.config.Archive.S3.Bucket, err)
	}
	return nil
}
