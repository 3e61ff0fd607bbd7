package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/adfanout/pkg/jobregistry"
	"github.com/3leaps/adfanout/pkg/progress"
)

// Writer outputs JSONL records for bulk runs.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a
// single line of JSON followed by a newline.
type Writer interface {
	// WriteProgress emits a progress record.
	WriteProgress(ctx context.Context, prog *ProgressRecord) error

	// WriteError emits an error record.
	WriteError(ctx context.Context, err *ErrorRecord) error

	// WriteSummary emits a summary record.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// WriteMedia emits a media registration record.
	WriteMedia(ctx context.Context, m *MediaRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// sink is the destination shared by a writer and its job-scoped views.
type sink struct {
	w      io.Writer
	mu     sync.Mutex
	closed bool
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	sink     *sink
	jobID    string
	platform string
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - jobID: Correlation ID stamped on every record; may be empty
//   - platform: Ads platform identifier (e.g., "graph")
func NewJSONLWriter(w io.Writer, jobID, platform string) *JSONLWriter {
	return &JSONLWriter{
		sink:     &sink{w: w},
		jobID:    jobID,
		platform: platform,
	}
}

// ForJob returns a view of the writer that stamps records with jobID.
// The view shares the destination, lock and closed state.
func (jw *JSONLWriter) ForJob(jobID string) *JSONLWriter {
	return &JSONLWriter{sink: jw.sink, jobID: jobID, platform: jw.platform}
}

// WriteProgress emits a progress record.
func (jw *JSONLWriter) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return jw.writeRecord(ctx, TypeProgress, prog)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// WriteMedia emits a media registration record.
func (jw *JSONLWriter) WriteMedia(ctx context.Context, m *MediaRecord) error {
	return jw.writeRecord(ctx, TypeMedia, m)
}

// WriteJobResult emits one error record per recorded failure followed by
// the summary record.
func (jw *JSONLWriter) WriteJobResult(ctx context.Context, rec *jobregistry.JobRecord) error {
	view := jw.ForJob(rec.JobID)
	for _, f := range rec.Results.Failures {
		if err := view.WriteError(ctx, ErrorFromJobError(f)); err != nil {
			return err
		}
	}
	return view.WriteSummary(ctx, SummaryFromJob(rec))
}

// Close marks the writer as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	jw.sink.mu.Lock()
	defer jw.sink.mu.Unlock()

	jw.sink.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line.
//
// This method holds the mutex for the entire write to ensure atomic
// line writes.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	record := Record{
		Type:     recordType,
		TS:       time.Now().UTC(),
		JobID:    jw.jobID,
		Platform: jw.platform,
		Data:     dataBytes,
	}
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}
	recordBytes = append(recordBytes, '\n')

	jw.sink.mu.Lock()
	defer jw.sink.mu.Unlock()

	if jw.sink.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	if err := writeAll(jw.sink.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// ProgressPublisher writes progress updates to a JSONL writer.
type ProgressPublisher struct {
	w      *JSONLWriter
	logger *zap.Logger
}

// NewProgressPublisher adapts w to progress.Publisher.
func NewProgressPublisher(w *JSONLWriter, logger *zap.Logger) *ProgressPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressPublisher{w: w, logger: logger}
}

// Publish writes u as a progress record. Write failures are logged.
func (p *ProgressPublisher) Publish(u progress.Update) {
	if err := p.w.ForJob(u.JobID).WriteProgress(context.Background(), ProgressFromUpdate(u)); err != nil {
		p.logger.Warn("Failed to write progress record",
			zap.String("job_id", u.JobID),
			zap.Error(err))
	}
}

var (
	_ Writer             = (*JSONLWriter)(nil)
	_ progress.Publisher = (*ProgressPublisher)(nil)
)
