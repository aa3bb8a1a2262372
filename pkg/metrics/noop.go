package metrics

import (
	"time"
)

type NoopRecorder struct{}

func NewNoopRecorder() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncCounter(name string, labels map[string]string) {}

func (n *NoopRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {}
