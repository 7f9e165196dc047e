package registration

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ReportSummary is the compact run summary published on <prefix>/report.
type ReportSummary struct {
	Label         string    `json:"label"`
	Method        string    `json:"method"`
	Model         ModelType `json:"model"`
	Views         int       `json:"views"`
	Subsets       int       `json:"subsets"`
	Applied       int       `json:"applied"`
	FailedSubsets int       `json:"failedSubsets"`
	Pairs         int       `json:"pairs"`
	DroppedPairs  int       `json:"droppedPairs"`
	Candidates    int       `json:"candidates"`
	Inliers       int       `json:"inliers"`
	Cancelled     bool      `json:"cancelled"`
	DurationMs    int64     `json:"durationMs"`
	Timestamp     int64     `json:"timestamp"`
}

// NewReportSummary condenses a report.
func NewReportSummary(r *Report) ReportSummary {
	return ReportSummary{
		Label:         r.Label,
		Method:        r.Method,
		Model:         r.Model,
		Views:         r.Views,
		Subsets:       len(r.Subsets),
		Applied:       countApplied(r),
		FailedSubsets: r.Failed,
		Pairs:         len(r.Pairs),
		DroppedPairs:  r.DroppedPairs,
		Candidates:    r.Candidates,
		Inliers:       r.Inliers,
		Cancelled:     r.Cancelled,
		DurationMs:    r.Duration.Milliseconds(),
		Timestamp:     time.Now().Unix(),
	}
}

// Publisher streams run statistics to MQTT. A nil client disables
// publishing.
type Publisher struct {
	client        mqtt.Client
	logger        *zap.SugaredLogger
	publishPrefix string
	qos           byte
	retain        bool
	last          *ReportSummary
	mu            sync.RWMutex
}

// NewPublisher creates a publisher. MQTT_PUBLISH_PREFIX overrides prefix;
// an empty prefix falls back to "multiview".
func NewPublisher(client mqtt.Client, prefix string, logger *zap.SugaredLogger) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "multiview"
	}
	return &Publisher{
		client:        client,
		logger:        nopIfNil(logger),
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
	}
}

// PublishReport publishes the summary, every pair and the per-timepoint
// statistics of a run. All topics are attempted; failures are combined.
func (p *Publisher) PublishReport(r *Report) error {
	if p.client == nil || !p.client.IsConnected() {
		return errors.New("MQTT client not connected")
	}

	summary := NewReportSummary(r)
	p.mu.Lock()
	p.last = &summary
	p.mu.Unlock()

	var err error
	err = multierr.Append(err, p.publish(p.topic("report"), summary))
	for _, ps := range r.Pairs {
		topic := p.topic(fmt.Sprintf("pairs/%s_%s", topicSegment(ps.A), topicSegment(ps.B)))
		err = multierr.Append(err, p.publish(topic, ps))
	}
	err = multierr.Append(err, p.publish(p.topic("timepoints"), r.Timepoints))
	if err != nil {
		p.logger.Warnf("[MQTT] publishing report: %v", err)
		return err
	}
	p.logger.Infof("[MQTT] published report for %q: %d pairs, %d subsets", r.Label, len(r.Pairs), len(r.Subsets))
	return nil
}

func (p *Publisher) publish(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshaling %s", topic)
	}
	p.mu.RLock()
	qos, retain := p.qos, p.retain
	p.mu.RUnlock()
	token := p.client.Publish(topic, qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return errors.Wrapf(token.Error(), "publishing to %s", topic)
	}
	return nil
}

func (p *Publisher) topic(suffix string) string {
	return p.publishPrefix + "/" + suffix
}

// topicSegment renders a group without MQTT wildcard or separator characters.
func topicSegment(g Group) string {
	parts := make([]string, len(g.Views))
	for i, v := range g.Views {
		parts[i] = fmt.Sprintf("t%d-s%d", v.Timepoint, v.Setup)
	}
	return strings.Join(parts, ".")
}

// LastReport returns the summary most recently published.
func (p *Publisher) LastReport() (ReportSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return ReportSummary{}, false
	}
	return *p.last, true
}

// SetQoS sets the MQTT quality of service level.
func (p *Publisher) SetQoS(qos byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.qos = qos
}

// SetRetain sets whether messages are retained by the broker.
func (p *Publisher) SetRetain(retain bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retain = retain
}
