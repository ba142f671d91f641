// Package events publishes inspection outcomes to NATS so downstream plant
// systems (MES, dashboards) can react without polling the server.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubject is where inspection events land.
const DefaultSubject = "aoi.inspections"

// InspectionEvent is the wire shape of one completed inspection.
type InspectionEvent struct {
	SessionID   string    `json:"session_id"`
	Product     string    `json:"product_name"`
	Passed      bool      `json:"passed"`
	DeviceCount int       `json:"device_count"`
	FailedROIs  int       `json:"failed_rois"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher pushes events with bounded retry. A nil connection downgrades
// publishing to a log line, so the server runs fine without a broker.
type Publisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
	log        *zap.Logger
}

func NewPublisher(conn *nats.Conn, subject string, maxRetries int, log *zap.Logger) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: conn, subject: subject, maxRetries: maxRetries, log: log}
}

// Publish sends one event. Failures are logged, never fatal: event delivery
// is not part of the inspection contract.
func (p *Publisher) Publish(event InspectionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("marshal inspection event", zap.Error(err))
		return
	}

	if p.conn == nil {
		p.log.Info("inspection event (no broker)",
			zap.String("session_id", event.SessionID),
			zap.String("product", event.Product),
			zap.Bool("passed", event.Passed))
		return
	}

	if err := p.publishWithRetry(data); err != nil {
		p.log.Warn("inspection event dropped", zap.String("subject", p.subject), zap.Error(err))
	}
}

func (p *Publisher) publishWithRetry(data []byte) error {
	var err error
	for i := 0; i <= p.maxRetries; i++ {
		if err = p.conn.Publish(p.subject, data); err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}
