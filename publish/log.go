package publish

import (
	"context"
	"encoding/json"
	"log"
)

// LogPublisher writes each event as a JSON line via the standard
// library logger, matching the teacher's plain stdlib-log texture (the
// teacher carries no structured-logging dependency; neither do we).
type LogPublisher struct {
	logger *log.Logger
}

// NewLogPublisher wraps logger, or the default std logger if nil.
func NewLogPublisher(logger *log.Logger) *LogPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, runID string, event Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.logger.Printf("run=%s %s", runID, b)
	return nil
}

func (p *LogPublisher) Flush(ctx context.Context) error { return nil }
