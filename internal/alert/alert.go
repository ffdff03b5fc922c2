// Package alert sends an email when a pool's failure rate climbs over a
// configured threshold, for example when the upstream API key has been
// revoked and every completion call starts failing.
package alert

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/modelq/modelq/internal/config"
	"github.com/modelq/modelq/internal/pool"
	"github.com/modelq/modelq/internal/task"
)

type Sender interface {
	Send(subject, body string) error
}

type SendGridSender struct {
	fromName    string
	fromAddress string
	toAddress   string
}

func NewSendGridSender(cfg config.AlertConfig) *SendGridSender {
	return &SendGridSender{
		fromName:    cfg.FromName,
		fromAddress: cfg.FromAddress,
		toAddress:   cfg.ToAddress,
	}
}

func (s *SendGridSender) Send(subject, body string) error {
	from := mail.NewEmail(s.fromName, s.fromAddress)
	to := mail.NewEmail("", s.toAddress)
	email := mail.NewSingleEmail(from, subject, to, body, body)
	client := sendgrid.NewSendClient(os.Getenv("SENDGRID_API_KEY"))
	response, err := client.Send(email)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	return nil
}

// Monitor watches pool snapshots and fires at most one alert per pool per
// cooldown period. Rates are computed over the delta since the previous
// check, not over process lifetime, so an old incident cannot keep a
// recovered pool in an alerting state.
type Monitor struct {
	sender       Sender
	failureRatio float64
	minSamples   int
	cooldown     time.Duration

	prev     map[task.Specialization]pool.Status
	lastSent map[task.Specialization]time.Time
	now      func() time.Time
}

func NewMonitor(sender Sender, cfg config.AlertConfig) *Monitor {
	return &Monitor{
		sender:       sender,
		failureRatio: cfg.FailureRatio,
		minSamples:   cfg.MinSamples,
		cooldown:     time.Duration(cfg.CooldownMinutes) * time.Minute,
		prev:         make(map[task.Specialization]pool.Status),
		lastSent:     make(map[task.Specialization]time.Time),
		now:          time.Now,
	}
}

// Check inspects the snapshot and sends alerts for pools whose failure
// rate since the last check crosses the threshold.
func (m *Monitor) Check(snapshot map[task.Specialization]pool.Status) {
	for spec, status := range snapshot {
		prev := m.prev[spec]
		m.prev[spec] = status

		succeeded := status.Succeeded - prev.Succeeded
		failed := status.Failed - prev.Failed
		total := succeeded + failed
		if total < int64(m.minSamples) {
			continue
		}

		ratio := float64(failed) / float64(total)
		if ratio < m.failureRatio {
			continue
		}

		if last, ok := m.lastSent[spec]; ok && m.now().Sub(last) < m.cooldown {
			continue
		}

		subject := fmt.Sprintf("modelq: elevated failure rate in pool %s", spec)
		body := fmt.Sprintf(
			"Pool %s failed %d of %d tasks (%.0f%%) since the last check.\nQueued: %d, active: %d, total failed: %d.",
			spec, failed, total, ratio*100, status.Queued, status.Active, status.Failed,
		)
		if err := m.sender.Send(subject, body); err != nil {
			log.Printf("Failed to send failure alert for pool %s: %v", spec, err)
			continue
		}

		m.lastSent[spec] = m.now()
		log.Printf("Failure alert sent for pool %s (%d/%d failed)", spec, failed, total)
	}
}
