package logger

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Publisher ships aggregated reports out of process (e.g. a Kafka topic).
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// CollectorConfig controls report aggregation and flushing.
type CollectorConfig struct {
	FlushInterval  time.Duration // e.g. 30s
	CountThreshold int           // max unique reports before an early flush
	Topic          string
	Publisher      Publisher
}

// Report is one aggregated observability entry. Identical reports are
// deduplicated by content hash and counted instead of repeated.
type Report struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// Collector aggregates error reports and flushes them to a Publisher on an
// interval. It is the sink for failures that must be observed but never
// propagated, such as async journal write errors.
type Collector struct {
	config  *CollectorConfig
	reports map[string]*Report
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewCollector(config *CollectorConfig) *Collector {
	if config.FlushInterval <= 0 {
		config.FlushInterval = 30 * time.Second
	}
	if config.CountThreshold <= 0 {
		config.CountThreshold = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		config:  config,
		reports: make(map[string]*Report),
		ctx:     ctx,
		cancel:  cancel,
	}

	c.wg.Add(1)
	go c.periodicFlush()

	return c
}

func (c *Collector) AddReport(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := reportKey(level, message, fields, caller)

	c.mu.Lock()
	defer c.mu.Unlock()

	if r, exists := c.reports[key]; exists {
		r.Count++
		r.LastSeen = now
	} else {
		c.reports[key] = &Report{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	if len(c.reports) >= c.config.CountThreshold {
		c.flushLocked()
	}
}

func reportKey(level, message string, fields map[string]interface{}, caller string) string {
	data := struct {
		Level   string                 `json:"level"`
		Message string                 `json:"message"`
		Fields  map[string]interface{} `json:"fields"`
		Caller  string                 `json:"caller"`
	}{level, message, fields, caller}

	b, _ := json.Marshal(data)
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

func (c *Collector) periodicFlush() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
		case <-c.ctx.Done():
			// Final flush before shutdown.
			c.mu.Lock()
			c.flushLocked()
			c.mu.Unlock()
			return
		}
	}
}

func (c *Collector) flushLocked() {
	if len(c.reports) == 0 {
		return
	}

	reports := make([]Report, 0, len(c.reports))
	for _, r := range c.reports {
		reports = append(reports, *r)
	}
	c.reports = make(map[string]*Report)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.config.Publisher.PublishMessage(ctx, c.config.Topic, reports); err != nil {
			fmt.Printf("failed to publish observability reports: %v\n", err)
		}
	}()
}

func (c *Collector) Close() {
	c.cancel()
	c.wg.Wait()
}
