// Package alert forwards WARNING and CRITICAL anomaly findings to an alert
// transport. Messages are structured (severity, rule, affected count);
// rendering for humans is left to whatever consumes the transport.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"affordability-pipeline/internal/model"

	"github.com/nats-io/nats.go"
)

// Alert is one notification about a finding.
type Alert struct {
	RunID         string         `json:"run_id"`
	Stage         string         `json:"stage"`
	Severity      model.Severity `json:"severity"`
	RuleID        string         `json:"rule_id"`
	Kind          string         `json:"kind,omitempty"`
	AffectedCount int            `json:"affected_count"`
	Message       string         `json:"message"`
	At            time.Time      `json:"at"`
}

// FromFinding builds the alert for a finding raised during a run.
func FromFinding(runID, stage string, f model.AnomalyFinding, at time.Time) Alert {
	return Alert{
		RunID:         runID,
		Stage:         stage,
		Severity:      f.Severity,
		RuleID:        f.RuleID,
		Kind:          string(f.Kind),
		AffectedCount: f.Affected(),
		Message:       f.Description,
		At:            at,
	}
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, a Alert) error {
	level := slog.LevelWarn
	if a.Severity == model.SeverityCritical {
		level = slog.LevelError
	}
	n.Logger.Log(ctx, level, "anomaly alert",
		"run_id", a.RunID,
		"stage", a.Stage,
		"severity", a.Severity,
		"rule_id", a.RuleID,
		"affected", a.AffectedCount,
	)
	return nil
}

// publisher is the part of *nats.Conn the notifier needs.
type publisher interface {
	Publish(subj string, data []byte) error
}

// NATSNotifier publishes alerts as JSON on <Subject>.<severity>, e.g.
// "affordability.alerts.critical".
type NATSNotifier struct {
	pub     publisher
	conn    *nats.Conn
	Subject string
}

// NewNATSNotifier connects to url. The connection keeps retrying in the
// background so a broker restart does not lose the notifier.
func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.Name("affordability-pipeline"),
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("alert: connect to NATS at %s: %w", url, err)
	}
	return &NATSNotifier{pub: nc, conn: nc, Subject: subject}, nil
}

func (n *NATSNotifier) Notify(_ context.Context, a Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("alert: encode: %w", err)
	}
	subject := n.Subject + "." + strings.ToLower(string(a.Severity))
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("alert: publish %s: %w", subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ShouldNotify reports whether a finding is severe enough to alert on.
func ShouldNotify(s model.Severity) bool {
	return s.AtLeast(model.SeverityWarning)
}
