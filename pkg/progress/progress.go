// Package progress carries job progress from the orchestrator to whoever is
// watching: log output, the in-process Hub behind SSE and WebSocket
// streams, and a watermill message bus.
//
// Publishing is best effort. A publisher never returns an error to the
// orchestrator and must not block it for long.
package progress

import (
	"time"

	"go.uber.org/zap"
)

// Update is one progress event for a job.
type Update struct {
	JobID    string `json:"job_id"`
	Seq      uint64 `json:"seq"`
	Progress int    `json:"progress"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Created  int    `json:"created"`
	Failed   int    `json:"failed"`
	Total    int    `json:"total"`

	// Terminal is set on the final update of a job.
	Terminal bool      `json:"terminal,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher receives progress updates.
type Publisher interface {
	Publish(u Update)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(u Update)

func (f PublisherFunc) Publish(u Update) { f(u) }

// Nop discards updates.
var Nop Publisher = PublisherFunc(func(Update) {})

// Multi fans an update out to several publishers. A panicking publisher is
// recovered and logged so the others still receive the update.
type Multi struct {
	publishers []Publisher
	logger     *zap.Logger
}

// NewMulti returns a Multi over pubs. Nil entries are skipped.
func NewMulti(logger *zap.Logger, pubs ...Publisher) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Multi{logger: logger}
	for _, p := range pubs {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

func (m *Multi) Publish(u Update) {
	for _, p := range m.publishers {
		m.safePublish(p, u)
	}
}

func (m *Multi) safePublish(p Publisher, u Update) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Progress publisher panicked",
				zap.String("job_id", u.JobID),
				zap.Any("panic", r))
		}
	}()
	p.Publish(u)
}

// LogPublisher writes updates to a zap logger.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns a LogPublisher. Intermediate updates are logged
// at debug level, terminal ones at info.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (l *LogPublisher) Publish(u Update) {
	fields := []zap.Field{
		zap.String("job_id", u.JobID),
		zap.Int("progress", u.Progress),
		zap.String("status", u.Status),
		zap.Int("created", u.Created),
		zap.Int("failed", u.Failed),
		zap.Int("total", u.Total),
	}
	if u.Message != "" {
		fields = append(fields, zap.String("message", u.Message))
	}
	if u.Terminal {
		l.logger.Info("Job finished", fields...)
		return
	}
	l.logger.Debug("Job progress", fields...)
}
