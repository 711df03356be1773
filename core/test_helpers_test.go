package core

import (
	"context"
	"fmt"
	"sync"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

// stubVerifier accepts exactly one signature value and records every Verify
// call so tests can assert ordering against other collaborators.
type stubVerifier struct {
	mu          sync.Mutex
	validSig    string
	verifyCalls []map[string]string
}

func newStubVerifier(validSig string) *stubVerifier {
	return &stubVerifier{validSig: validSig}
}

func (v *stubVerifier) Message(params map[string]string) string {
	return fmt.Sprintf("message(%d params)", len(params))
}

func (v *stubVerifier) Sign(map[string]string) string {
	return v.validSig
}

func (v *stubVerifier) Verify(params map[string]string, provided string) bool {
	v.mu.Lock()
	copied := make(map[string]string, len(params))
	for key, value := range params {
		copied[key] = value
	}
	v.verifyCalls = append(v.verifyCalls, copied)
	v.mu.Unlock()
	return provided == v.validSig
}

func (v *stubVerifier) verifyCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.verifyCalls)
}

type fakeMarketplace struct {
	mu             sync.Mutex
	grant          TokenGrant
	exchangeErr    error
	authorizeErr   error
	authorizeCalls []string
	exchangeCalls  []string
}

func (m *fakeMarketplace) AuthorizeURL(domain, state string) (string, error) {
	m.mu.Lock()
	m.authorizeCalls = append(m.authorizeCalls, domain)
	m.mu.Unlock()
	if m.authorizeErr != nil {
		return "", m.authorizeErr
	}
	return fmt.Sprintf("https://%s.bokun.io/appstore/oauth/authorize?state=%s", domain, state), nil
}

func (m *fakeMarketplace) ExchangeCode(_ context.Context, domain, code string) (TokenGrant, error) {
	m.mu.Lock()
	m.exchangeCalls = append(m.exchangeCalls, domain+":"+code)
	m.mu.Unlock()
	if m.exchangeErr != nil {
		return TokenGrant{}, m.exchangeErr
	}
	return m.grant, nil
}

func (m *fakeMarketplace) authorizeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.authorizeCalls)
}

func (m *fakeMarketplace) exchangeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exchangeCalls)
}

type captureSink struct {
	mu      sync.Mutex
	saveErr error
	records []PersistedRecord
}

func (s *captureSink) SaveInstallation(_ context.Context, record PersistedRecord) error {
	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
	return s.saveErr
}

func (s *captureSink) saved() []PersistedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PersistedRecord, len(s.records))
	copy(out, s.records)
	return out
}

func testServiceConfig() Config {
	cfg := Config{}
	cfg.OAuth.ClientID = "client_123"
	cfg.OAuth.ClientSecret = "secret_456"
	cfg.OAuth.Scopes = []string{"BOOKINGS_READ", "PRODUCTS_READ"}
	cfg.OAuth.RedirectURI = "https://vendor.example/appstore/callback"
	cfg.Marketplace.Host = "bokun.io"
	return cfg
}

func validInstallParams(sig string) map[string]string {
	return map[string]string{
		"domain":    "acme",
		"user":      "usr_1",
		"timestamp": "2024-01-15 10:30:00",
		"hmac":      sig,
	}
}

func hasCounter(counters []capturedCounter, name string, status string) bool {
	for _, counter := range counters {
		if counter.name == name && counter.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasHistogram(histograms []capturedHistogram, name string, status string) bool {
	for _, histogram := range histograms {
		if histogram.name == name && histogram.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(records []capturedLog, level string, msg string, eventType string) bool {
	for _, record := range records {
		if record.level == level && record.msg == msg && record.fields["event_type"] == eventType {
			return true
		}
	}
	return false
}
