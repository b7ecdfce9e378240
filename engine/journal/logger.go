package journal

import (
	"context"
	"encoding/json"
	"log"
)

// LogPublisher writes journal events to the process log. It is the default
// backend when no external sink is configured.
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: log.Default()}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	p.logger.Printf("[JOURNAL] %s: %s", ev.Topic, string(data))
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
