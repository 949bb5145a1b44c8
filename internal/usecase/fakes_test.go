package usecase

import (
	"context"
	"sync"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
)

type trainingRecord struct {
	Symbol, Timeframe, Family string
	Accuracy, F1              float64
	Samples                   int
}

type recordingMetrics struct {
	mu           sync.Mutex
	decisions    []string
	errors       []string
	skips        map[string]string
	trainings    []trainingRecord
	calibrations int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{skips: map[string]string{}}
}

func (m *recordingMetrics) RecordDecision(symbol, timeframe, action, modelUsed string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, action)
}

func (m *recordingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, kind)
}

func (m *recordingMetrics) RecordLatency(string, float64) {}

func (m *recordingMetrics) RecordTraining(symbol, timeframe, family string, accuracy, f1 float64, samples int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainings = append(m.trainings, trainingRecord{symbol, timeframe, family, accuracy, f1, samples})
}

func (m *recordingMetrics) RecordTrainingSkip(symbol, timeframe, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skips[symbol+"_"+timeframe] = reason
}

func (m *recordingMetrics) RecordCalibration(string, string, float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibrations++
}

func (m *recordingMetrics) RecordLastPrice(string, float64) {}

func (m *recordingMetrics) skip(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.skips[key]
}

var _ domrepo.Metrics = (*recordingMetrics)(nil)

type recordingPublisher struct {
	mu        sync.Mutex
	samples   []models.TrainingSample
	decisions []models.Decision
}

func (p *recordingPublisher) PublishSample(_ context.Context, _, _ string, s *models.TrainingSample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, *s)
	return nil
}

func (p *recordingPublisher) PublishDecision(_ context.Context, d *models.Decision) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decisions = append(p.decisions, *d)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

var _ domrepo.SamplePublisher = (*recordingPublisher)(nil)
