package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	EmailsSent.Inc()
	QueueTransitions.WithLabelValues("sent").Inc()
	Unsubscribes.WithLabelValues("token").Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"emails_sent_total",
		"queue_transitions_total",
		"unsubscribes_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}
