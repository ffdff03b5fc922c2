package main

import (
	"time"

	"github.com/modelq/modelq/internal/alert"
	"github.com/modelq/modelq/internal/metrics"
	"github.com/modelq/modelq/internal/report"
)

func startMetricsCollector(reporter *report.Reporter, monitor *alert.Monitor) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		snapshot := reporter.Snapshot()
		for spec, status := range snapshot {
			metrics.UpdateQueueDepth(spec, status.Queued)
			metrics.UpdateActiveWorkers(spec, status.Active)
		}
		if monitor != nil {
			monitor.Check(snapshot)
		}
	}
}
