package noop

import "time"

// Collector is a MetricsCollector that records nothing. Used in tests and
// when metrics are disabled.
type Collector struct{}

// NewCollector creates a noop metrics collector.
func NewCollector() *Collector { return &Collector{} }

func (*Collector) RecordRunSubmitted(string) {}

func (*Collector) RecordRunCompleted(string, time.Duration) {}

func (*Collector) RecordStageExecuted(string, string, time.Duration) {}

func (*Collector) RecordBackendPoll(string, string) {}

func (*Collector) RecordBackendRetry(string) {}

func (*Collector) RecordArtifactStored(int64) {}

func (*Collector) RecordWorkerPoolStatus(int, int, int) {}
