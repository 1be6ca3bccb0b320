/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func TestRecordBuild(t *testing.T) {
	before := getCounterValue(BuildsTotal, "success")
	RecordBuild("success", 4200)
	after := getCounterValue(BuildsTotal, "success")
	if after != before+1 {
		t.Errorf("BuildsTotal[success] = %v, want %v", after, before+1)
	}
}

func TestRecordWebhook(t *testing.T) {
	before := getCounterValue(WebhooksReceivedTotal, "push", "accepted")
	RecordWebhook("push", "accepted")
	after := getCounterValue(WebhooksReceivedTotal, "push", "accepted")
	if after != before+1 {
		t.Errorf("WebhooksReceivedTotal[push,accepted] = %v, want %v", after, before+1)
	}
}

func TestSetActiveEnvironments(t *testing.T) {
	SetActiveEnvironments(3)
	if got := getGaugeValue(ActiveEnvironments); got != 3 {
		t.Errorf("ActiveEnvironments = %v, want 3", got)
	}
}

func TestRecordStep(t *testing.T) {
	RecordStep("build", 120)
	h := &dto.Metric{}
	if err := StepDurationMs.WithLabelValues("build").Write(h); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if h.GetHistogram().GetSampleCount() == 0 {
		t.Errorf("StepDurationMs[build] recorded no samples")
	}
}

func TestRecordError(t *testing.T) {
	before := getCounterValue(ErrorsTotal, "compile")
	RecordError("compile")
	after := getCounterValue(ErrorsTotal, "compile")
	if after != before+1 {
		t.Errorf("ErrorsTotal[compile] = %v, want %v", after, before+1)
	}
}
