// Package processor provides a worker.Processor that reads documents from
// the local filesystem. It fingerprints every file and, for PDFs, records
// the page count and the amount of extractable text.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/xraph/docbatch/job"
	"github.com/xraph/docbatch/worker"
)

// OptionMaxBytes is the processing option that rejects larger documents.
const OptionMaxBytes = "max_bytes"

// Metadata keys set on every result.
const (
	MetaPath      = "path"
	MetaBytes     = "bytes"
	MetaSHA256    = "sha256"
	MetaPages     = "pages"
	MetaTextChars = "text_chars"
)

// Ensure Local implements worker.Processor at compile time.
var _ worker.Processor = (*Local)(nil)

// ErrTooLarge is returned for documents above the max_bytes option.
var ErrTooLarge = errors.New("document exceeds max_bytes")

// Option configures a Local processor.
type Option func(*Local)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Local) { p.logger = l }
}

// Local processes documents stored under a root directory.
type Local struct {
	root   string
	logger *slog.Logger
}

// NewLocal creates a Local processor. Relative source paths and document
// ids resolve under root.
func NewLocal(root string, opts ...Option) *Local {
	p := &Local{root: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessFile fingerprints the file and returns a "sha256:<hex>" handle.
func (p *Local) ProcessFile(ctx context.Context, f *job.File, options map[string]any) (*job.Result, error) {
	path, err := p.resolve(f)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", f.Ref(), err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", f.Ref())
	}

	limit, err := maxBytes(options)
	if err != nil {
		return nil, err
	}
	if limit > 0 && info.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, f.Ref(), info.Size(), limit)
	}

	sum, err := checksum(ctx, path)
	if err != nil {
		return nil, err
	}

	meta := map[string]string{
		MetaPath:   path,
		MetaBytes:  strconv.FormatInt(info.Size(), 10),
		MetaSHA256: sum,
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		pages, chars, err := pdfStats(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("read pdf %s: %w", f.Ref(), err)
		}
		meta[MetaPages] = strconv.Itoa(pages)
		meta[MetaTextChars] = strconv.Itoa(chars)
	}

	p.logger.Debug("document processed",
		slog.String("file_id", f.ID.String()),
		slog.String("path", path),
		slog.Int64("bytes", info.Size()),
	)
	return &job.Result{Handle: "sha256:" + sum, Metadata: meta}, nil
}

// resolve maps a file to a path. Document ids must stay inside root.
func (p *Local) resolve(f *job.File) (string, error) {
	if f.SourcePath != "" {
		if filepath.IsAbs(f.SourcePath) || p.root == "" {
			return filepath.Clean(f.SourcePath), nil
		}
		return filepath.Join(p.root, f.SourcePath), nil
	}
	if !filepath.IsLocal(f.DocumentID) {
		return "", fmt.Errorf("document id %q escapes the document root", f.DocumentID)
	}
	return filepath.Join(p.root, f.DocumentID), nil
}

func checksum(ctx context.Context, path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()

	h := sha256.New()
	if _, err := io.Copy(h, &ctxReader{ctx: ctx, r: fh}); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// pdfStats returns the page count and the number of characters of plain
// text. The pdf reader panics on some malformed input; that becomes an
// error.
func pdfStats(ctx context.Context, path string) (pages, chars int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	fh, r, err := pdf.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer fh.Close()

	pages = r.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return 0, 0, fmt.Errorf("page %d: %w", i, err)
		}
		chars += len([]rune(text))
	}
	return pages, chars, nil
}

// maxBytes reads the max_bytes option. Numbers may arrive as any numeric
// type or as a decimal string, depending on how the options were decoded.
// Limits beyond the int64 range are clamped; negative limits are rejected.
func maxBytes(options map[string]any) (int64, error) {
	v, ok := options[OptionMaxBytes]
	if !ok || v == nil {
		return 0, nil
	}
	var limit int64
	switch n := v.(type) {
	case int:
		limit = int64(n)
	case int32:
		limit = int64(n)
	case int64:
		limit = n
	case uint64:
		limit = int64(min(n, math.MaxInt64))
	case float64:
		if n >= math.MaxInt64 {
			limit = math.MaxInt64
		} else {
			limit = int64(n)
		}
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s option %q: %w", OptionMaxBytes, n, err)
		}
		limit = parsed
	default:
		return 0, fmt.Errorf("invalid %s option of type %T", OptionMaxBytes, v)
	}
	if limit < 0 {
		return 0, fmt.Errorf("invalid %s option %v: must not be negative", OptionMaxBytes, v)
	}
	return limit, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
