package audit

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RangeScanner 归档器读取审计记录的接口
type RangeScanner interface {
	ScanRange(ctx context.Context, from, to time.Time, batchSize int, fn func([]*Record) error) error
}

// ArchiveConfig 归档配置
type ArchiveConfig struct {
	ArchivePath   string // 归档文件存储路径
	RetentionDays int    // 在线保留天数，早于该时间的记录被导出
	CompressLevel int    // 压缩级别 (1-9)
	BatchSize     int
}

// Archiver 将较早的审计记录导出为按月分组的 gzip JSON Lines 文件。
// 只导出不删除，数据库中的记录清理由外部归档流程负责。
type Archiver struct {
	scanner RangeScanner
	cfg     ArchiveConfig
	logger  *zap.Logger
	now     func() time.Time
	mu      sync.Mutex
}

// ArchiveResult 归档结果
type ArchiveResult struct {
	Files    []string      `json:"files"`
	Records  int64         `json:"records"`
	From     time.Time     `json:"from"`
	To       time.Time     `json:"to"`
	Duration time.Duration `json:"duration"`
}

const watermarkFile = ".watermark"

// NewArchiver 创建归档器
func NewArchiver(scanner RangeScanner, cfg ArchiveConfig, logger *zap.Logger) *Archiver {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 180
	}
	if cfg.CompressLevel <= 0 || cfg.CompressLevel > 9 {
		cfg.CompressLevel = gzip.BestCompression
	}
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = "./archive/audit"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		scanner: scanner,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Export 导出 [上次水位, cutoff) 区间的记录；cutoff 为零值时按保留天数计算
func (a *Archiver) Export(ctx context.Context, cutoff time.Time) (*ArchiveResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.now()
	if cutoff.IsZero() {
		cutoff = start.AddDate(0, 0, -a.cfg.RetentionDays)
	}
	cutoff = cutoff.UTC()

	from, err := a.readWatermark()
	if err != nil {
		return nil, err
	}
	result := &ArchiveResult{From: from, To: cutoff}
	if !from.IsZero() && !from.Before(cutoff) {
		result.Duration = a.now().Sub(start)
		return result, nil
	}

	writers := make(map[string]*monthWriter)
	closeAll := func() error {
		var errs []error
		for _, w := range writers {
			errs = append(errs, w.Close())
		}
		return errors.Join(errs...)
	}

	err = a.scanner.ScanRange(ctx, from, cutoff, a.cfg.BatchSize, func(batch []*Record) error {
		for _, r := range batch {
			month := r.CreatedAt.UTC().Format("2006-01")
			w, ok := writers[month]
			if !ok {
				var openErr error
				if w, openErr = a.openMonth(month, cutoff); openErr != nil {
					return openErr
				}
				writers[month] = w
				result.Files = append(result.Files, w.path)
			}
			if err := w.enc.Encode(r); err != nil {
				return fmt.Errorf("audit: encode record %s: %w", r.ID, err)
			}
			result.Records++
		}
		return nil
	})
	if closeErr := closeAll(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}

	if err := a.writeWatermark(cutoff); err != nil {
		return nil, err
	}

	result.Duration = a.now().Sub(start)
	a.logger.Info("审计记录归档完成",
		zap.Int64("records", result.Records),
		zap.Strings("files", result.Files),
		zap.Time("to", cutoff),
	)
	return result, nil
}

type monthWriter struct {
	path string
	file *os.File
	gz   *gzip.Writer
	enc  *json.Encoder
}

func (w *monthWriter) Close() error {
	return errors.Join(w.gz.Close(), w.file.Close())
}

// openMonth 文件名格式: 2024/audit_2024-01_<cutoff>.jsonl.gz，同月多次导出互不覆盖
func (a *Archiver) openMonth(month string, cutoff time.Time) (*monthWriter, error) {
	dir := filepath.Join(a.cfg.ArchivePath, strings.SplitN(month, "-", 2)[0])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create archive dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("audit_%s_%d.jsonl.gz", month, cutoff.Unix()))
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audit: create archive file: %w", err)
	}
	gz, err := gzip.NewWriterLevel(file, a.cfg.CompressLevel)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("audit: create gzip writer: %w", err)
	}
	return &monthWriter{path: path, file: file, gz: gz, enc: json.NewEncoder(gz)}, nil
}

func (a *Archiver) readWatermark() (time.Time, error) {
	b, err := os.ReadFile(filepath.Join(a.cfg.ArchivePath, watermarkFile))
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("audit: read watermark: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(b)))
	if err != nil {
		return time.Time{}, fmt.Errorf("audit: parse watermark: %w", err)
	}
	return t, nil
}

func (a *Archiver) writeWatermark(t time.Time) error {
	if err := os.MkdirAll(a.cfg.ArchivePath, 0o755); err != nil {
		return fmt.Errorf("audit: create archive dir: %w", err)
	}
	path := filepath.Join(a.cfg.ArchivePath, watermarkFile)
	if err := os.WriteFile(path, []byte(t.Format(time.RFC3339Nano)), 0o644); err != nil {
		return fmt.Errorf("audit: write watermark: %w", err)
	}
	return nil
}
