package alerting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/NikhilSetiya/fleetwatch/pkg/errors"
	"github.com/NikhilSetiya/fleetwatch/pkg/logging"
	"github.com/NikhilSetiya/fleetwatch/pkg/metrics"
)

// Config holds alerting configuration
type Config struct {
	ServiceName         string        `json:"service_name"`
	DefaultCooldown     time.Duration `json:"default_cooldown"`
	MaxHistorySize      int           `json:"max_history_size"`
	Window              time.Duration `json:"window"`
	DispatchTimeout     time.Duration `json:"dispatch_timeout"`
	DisableDefaultRules bool          `json:"disable_default_rules"`
}

// DefaultConfig returns default alerting configuration
func DefaultConfig() *Config {
	return &Config{
		ServiceName:     "unknown",
		DefaultCooldown: 5 * time.Minute,
		MaxHistorySize:  1000,
		Window:          5 * time.Minute,
		DispatchTimeout: 15 * time.Second,
	}
}

const defaultHistoryLimit = 100

// Option configures a Service
type Option func(*Service)

// WithLogger overrides the global logger
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides time.Now
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithMetrics records fired alerts and deliveries in Prometheus
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithNotifiers registers notifiers at construction time
func WithNotifiers(notifiers ...Notifier) Option {
	return func(s *Service) {
		for _, n := range notifiers {
			s.notifiers[n.Name()] = n
		}
	}
}

// Service evaluates rules against metric contexts and dispatches the
// resulting alerts. Each collection has its own lock and no lock is held
// across a notifier call.
type Service struct {
	config  *Config
	logger  *logging.Logger
	clock   func() time.Time
	metrics *metrics.Metrics

	rulesMu sync.RWMutex
	rules   map[string]*Rule

	cooldownMu sync.Mutex
	cooldowns  map[string]time.Time

	alertsMu sync.RWMutex
	active   map[string]*Alert
	history  []*Alert // oldest first, bounded by MaxHistorySize

	notifiersMu sync.RWMutex
	notifiers   map[string]Notifier

	listenersMu sync.RWMutex
	onAlert     []func(*Alert)
	onResolved  []func(*Alert)

	errorsWindow   *Window
	latencyWindow  *Window
	requestsWindow *Window

	failuresMu     sync.Mutex
	healthFailures map[string]int
}

// NewService creates a new alerting service with the default rules installed
func NewService(config *Config, opts ...Option) *Service {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.ServiceName == "" {
		config.ServiceName = defaults.ServiceName
	}
	if config.DefaultCooldown <= 0 {
		config.DefaultCooldown = defaults.DefaultCooldown
	}
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = defaults.MaxHistorySize
	}
	if config.Window <= 0 {
		config.Window = defaults.Window
	}
	if config.DispatchTimeout <= 0 {
		config.DispatchTimeout = defaults.DispatchTimeout
	}

	s := &Service{
		config:         config,
		logger:         logging.GetLogger(),
		clock:          time.Now,
		rules:          make(map[string]*Rule),
		cooldowns:      make(map[string]time.Time),
		active:         make(map[string]*Alert),
		notifiers:      make(map[string]Notifier),
		healthFailures: make(map[string]int),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.errorsWindow = NewWindow(config.Window, s.clock)
	s.latencyWindow = NewWindow(config.Window, s.clock)
	s.requestsWindow = NewWindow(config.Window, s.clock)

	if !config.DisableDefaultRules {
		for _, rule := range DefaultRules() {
			_ = s.AddRule(rule)
		}
	}

	return s
}

// AddRule registers a rule, replacing any rule with the same ID
func (s *Service) AddRule(rule Rule) error {
	if rule.ID == "" {
		return errors.NewValidationError("rule id is required")
	}
	if rule.Condition == nil {
		return errors.NewRuleError(rule.ID, "rule condition is required")
	}

	if rule.Type == "" {
		rule.Type = TypeCustom
	}
	if rule.Severity == "" {
		rule.Severity = SeverityWarning
	}
	if rule.Cooldown <= 0 {
		rule.Cooldown = s.config.DefaultCooldown
	}
	if len(rule.Channels) == 0 {
		rule.Channels = []string{ChannelConsole}
	} else {
		rule.Channels = append([]string(nil), rule.Channels...)
	}
	if rule.Message == nil {
		id := rule.ID
		rule.Message = func(Context) string { return "Alert: " + id }
	}

	s.rulesMu.Lock()
	s.rules[rule.ID] = &rule
	s.rulesMu.Unlock()

	return nil
}

// RemoveRule deletes a rule; it reports whether the rule existed
func (s *Service) RemoveRule(id string) bool {
	s.rulesMu.Lock()
	defer s.rulesMu.Unlock()

	_, exists := s.rules[id]
	delete(s.rules, id)
	return exists
}

// SetRuleEnabled turns a rule on or off
func (s *Service) SetRuleEnabled(id string, enabled bool) error {
	s.rulesMu.Lock()
	defer s.rulesMu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return errors.NewNotFoundError("rule " + id)
	}
	rule.Disabled = !enabled
	return nil
}

// Rules returns copies of every rule ordered by ID
func (s *Service) Rules() []Rule {
	s.rulesMu.RLock()
	rules := make([]Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		copied := *rule
		copied.Channels = append([]string(nil), rule.Channels...)
		rules = append(rules, copied)
	}
	s.rulesMu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// RegisterNotifier adds or replaces the notifier for its channel name
func (s *Service) RegisterNotifier(n Notifier) {
	s.notifiersMu.Lock()
	s.notifiers[n.Name()] = n
	s.notifiersMu.Unlock()

	s.logger.Info("Notification channel registered", "channel", n.Name())
}

// OnAlert registers a listener called for every fired alert
func (s *Service) OnAlert(listener func(*Alert)) {
	s.listenersMu.Lock()
	s.onAlert = append(s.onAlert, listener)
	s.listenersMu.Unlock()
}

// OnResolved registers a listener called for every resolved alert
func (s *Service) OnResolved(listener func(*Alert)) {
	s.listenersMu.Lock()
	s.onResolved = append(s.onResolved, listener)
	s.listenersMu.Unlock()
}

// Evaluate runs every enabled rule that is not cooling down against evalCtx
// and returns the alerts it fired. Notifications for all fired alerts are
// delivered before Evaluate returns.
func (s *Service) Evaluate(ctx context.Context, evalCtx Context) []*Alert {
	now := s.clock()
	enriched := s.enrich(evalCtx, now)

	var fired []*Alert
	for _, rule := range s.Rules() {
		if !rule.Enabled() || s.inCooldown(rule, now) {
			continue
		}

		matched, message, err := s.evaluateRule(rule, enriched)
		if err != nil {
			s.metrics.RecordError("alerting", "rule_error")
			s.logger.Error("Error evaluating alert rule",
				"rule_id", rule.ID,
				"error", err,
			)
			continue
		}
		if !matched || !s.claimCooldown(rule, now) {
			continue
		}

		fired = append(fired, s.fire(ctx, rule, message, enriched, now))
	}

	if len(fired) > 0 {
		s.dispatchAll(ctx, fired)
	}

	copies := make([]*Alert, len(fired))
	for i, alert := range fired {
		copies[i] = s.snapshot(alert)
	}
	return copies
}

func (s *Service) enrich(evalCtx Context, now time.Time) Context {
	enriched := make(Context, len(evalCtx)+2)
	for k, v := range evalCtx {
		enriched[k] = v
	}
	if enriched.StringValue("serviceName") == "" {
		enriched["serviceName"] = s.config.ServiceName
	}
	enriched["timestamp"] = now.UTC().Format(time.RFC3339)
	return enriched
}

// evaluateRule runs the condition and renders the message. Panics in either
// are reported as rule errors.
func (s *Service) evaluateRule(rule Rule, evalCtx Context) (matched bool, message string, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
			err = errors.NewRuleError(rule.ID, fmt.Sprintf("rule panicked: %v", r))
		}
	}()

	matched, err = rule.Condition.Evaluate(evalCtx)
	if err != nil {
		return false, "", errors.NewRuleError(rule.ID, err.Error()).WithCause(err)
	}
	if !matched {
		return false, "", nil
	}

	return true, rule.Message(evalCtx), nil
}

func (s *Service) inCooldown(rule Rule, now time.Time) bool {
	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()

	lastFired, exists := s.cooldowns[rule.ID]
	return exists && now.Sub(lastFired) < rule.Cooldown
}

// claimCooldown checks and records the cooldown in one critical section so
// concurrent evaluations cannot fire the same rule twice
func (s *Service) claimCooldown(rule Rule, now time.Time) bool {
	s.cooldownMu.Lock()
	defer s.cooldownMu.Unlock()

	if lastFired, exists := s.cooldowns[rule.ID]; exists && now.Sub(lastFired) < rule.Cooldown {
		return false
	}
	s.cooldowns[rule.ID] = now
	return true
}

func (s *Service) fire(ctx context.Context, rule Rule, message string, evalCtx Context, now time.Time) *Alert {
	alert := &Alert{
		ID:        fmt.Sprintf("%s-%d", rule.ID, now.UnixNano()),
		RuleID:    rule.ID,
		Type:      rule.Type,
		Severity:  rule.Severity,
		Message:   message,
		Context:   evalCtx.clone(),
		Timestamp: now,
		Channels:  append([]string(nil), rule.Channels...),
	}

	s.alertsMu.Lock()
	s.active[alert.ID] = alert
	s.history = append(s.history, alert)
	if overflow := len(s.history) - s.config.MaxHistorySize; overflow > 0 {
		s.history = append(s.history[:0], s.history[overflow:]...)
	}
	s.alertsMu.Unlock()

	s.metrics.RecordAlertFired(rule.ID, string(rule.Severity))
	s.logger.LogAlertEvent(ctx, "alert_fired", alert.ID, rule.ID, rule.Severity.Upper(), logging.Fields{
		"message":  message,
		"channels": alert.Channels,
	})

	s.listenersMu.RLock()
	listeners := append([]func(*Alert){}, s.onAlert...)
	s.listenersMu.RUnlock()
	s.emit(listeners, s.snapshot(alert))

	return alert
}

type delivery struct {
	alert    *Alert
	notifier Notifier
}

// dispatchAll delivers every alert to each of its channels concurrently and
// waits for all deliveries. A failing channel is logged and counted; it never
// affects the other channels or the recorded alert.
func (s *Service) dispatchAll(ctx context.Context, alerts []*Alert) {
	var deliveries []delivery
	for _, alert := range alerts {
		payload := s.snapshot(alert)
		for _, notifier := range s.resolveNotifiers(alert.Channels) {
			deliveries = append(deliveries, delivery{alert: payload, notifier: notifier})
		}
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, s.config.DispatchTimeout)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errAll error
	)

	for _, d := range deliveries {
		wg.Add(1)
		go func(d delivery) {
			defer wg.Done()

			err := s.deliver(dispatchCtx, d)
			if err != nil {
				mu.Lock()
				errAll = multierr.Append(errAll, err)
				mu.Unlock()
			}
		}(d)
	}

	wg.Wait()

	if errAll != nil {
		s.logger.Warn("Some alert notifications failed",
			"failures", len(multierr.Errors(errAll)),
			"deliveries", len(deliveries),
			"error", errAll,
		)
	}
}

func (s *Service) deliver(ctx context.Context, d delivery) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier %s panicked: %v", d.notifier.Name(), r)
		}
		s.metrics.RecordNotification(d.notifier.Name(), err, time.Since(start))
		if err != nil {
			s.logger.LogError(ctx, err, "Failed to send alert notification", logging.Fields{
				"channel":  d.notifier.Name(),
				"alert_id": d.alert.ID,
			})
			err = errors.NewChannelError(d.notifier.Name(), "delivery failed").WithCause(err)
		}
	}()

	return d.notifier.Notify(ctx, d.alert)
}

// resolveNotifiers maps channel names to notifiers. Channels without a
// notifier fall back to console; duplicates are delivered once.
func (s *Service) resolveNotifiers(channels []string) []Notifier {
	s.notifiersMu.RLock()
	defer s.notifiersMu.RUnlock()

	seen := make(map[string]bool, len(channels))
	resolved := make([]Notifier, 0, len(channels))

	for _, channel := range channels {
		notifier, ok := s.notifiers[channel]
		if !ok {
			s.logger.Debug("Channel not configured, using console", "channel", channel)
			notifier, ok = s.notifiers[ChannelConsole]
			if !ok {
				notifier = logNotifier{logger: s.logger}
			}
		}

		if seen[notifier.Name()] {
			continue
		}
		seen[notifier.Name()] = true
		resolved = append(resolved, notifier)
	}

	return resolved
}

// SendTestAlert delivers an info alert to every registered channel so the
// wiring can be verified. The alert is neither active nor kept in history and
// no cooldown applies.
func (s *Service) SendTestAlert(ctx context.Context) *Alert {
	now := s.clock()

	s.notifiersMu.RLock()
	channels := make([]string, 0, len(s.notifiers))
	for name := range s.notifiers {
		channels = append(channels, name)
	}
	s.notifiersMu.RUnlock()
	sort.Strings(channels)
	if len(channels) == 0 {
		channels = []string{ChannelConsole}
	}

	alert := &Alert{
		ID:       fmt.Sprintf("test-%d", now.UnixNano()),
		RuleID:   "test_alert",
		Type:     TypeTest,
		Severity: SeverityInfo,
		Message:  "Test alert from " + s.config.ServiceName,
		Context: Context{
			"testAlert":           true,
			"serviceName":         s.config.ServiceName,
			"consecutiveFailures": 0,
		},
		Timestamp: now,
		Channels:  channels,
	}

	s.logger.LogAlertEvent(ctx, "test_alert_sent", alert.ID, alert.RuleID, alert.Severity.Upper(), logging.Fields{
		"channels": channels,
	})
	s.dispatchAll(ctx, []*Alert{alert})

	return alert.Clone()
}

// ResolveAlert marks an active alert resolved and removes it from the active set
func (s *Service) ResolveAlert(ctx context.Context, id string) (*Alert, error) {
	now := s.clock()

	s.alertsMu.Lock()
	alert, exists := s.active[id]
	if !exists {
		s.alertsMu.Unlock()
		return nil, errors.NewNotFoundError("alert " + id)
	}
	alert.Resolved = true
	alert.ResolvedAt = &now
	delete(s.active, id)
	resolved := alert.Clone()
	s.alertsMu.Unlock()

	s.metrics.RecordAlertResolved(resolved.RuleID)
	s.logger.WithContext(ctx).WithFields(logging.Fields{
		"alert_id": resolved.ID,
		"rule_id":  resolved.RuleID,
		"duration": now.Sub(resolved.Timestamp).String(),
	}).Info("Alert resolved")

	s.listenersMu.RLock()
	listeners := append([]func(*Alert){}, s.onResolved...)
	s.listenersMu.RUnlock()
	s.emit(listeners, resolved)

	return resolved, nil
}

// ActiveAlerts returns copies of the unresolved alerts, newest first
func (s *Service) ActiveAlerts() []*Alert {
	s.alertsMu.RLock()
	alerts := make([]*Alert, 0, len(s.active))
	for _, alert := range s.active {
		alerts = append(alerts, alert.Clone())
	}
	s.alertsMu.RUnlock()

	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
	return alerts
}

// AlertHistory returns up to limit alerts, newest first. A non-positive limit
// returns the most recent 100.
func (s *Service) AlertHistory(limit int) []*Alert {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	s.alertsMu.RLock()
	defer s.alertsMu.RUnlock()

	if limit > len(s.history) {
		limit = len(s.history)
	}

	alerts := make([]*Alert, 0, limit)
	for i := len(s.history) - 1; i >= 0 && len(alerts) < limit; i-- {
		alerts = append(alerts, s.history[i].Clone())
	}
	return alerts
}

// ClearAlerts drops the active alerts and every cooldown. History is kept.
func (s *Service) ClearAlerts() {
	s.alertsMu.Lock()
	s.active = make(map[string]*Alert)
	s.alertsMu.Unlock()

	s.cooldownMu.Lock()
	s.cooldowns = make(map[string]time.Time)
	s.cooldownMu.Unlock()
}

// TrackError records an error in the sliding window
func (s *Service) TrackError(err error) {
	s.errorsWindow.Add(1)
	if err != nil {
		s.logger.Debug("Error tracked for alerting", "error", err)
	}
}

// TrackLatency records a request latency in the sliding window
func (s *Service) TrackLatency(d time.Duration) {
	s.latencyWindow.Add(float64(d) / float64(time.Millisecond))
}

// TrackRequest counts a request towards the error-rate denominator
func (s *Service) TrackRequest() {
	s.requestsWindow.Add(1)
}

// TrackHealthCheckFailure increments the failure counter of a service and
// returns the new value
func (s *Service) TrackHealthCheckFailure(serviceName string) int {
	s.failuresMu.Lock()
	defer s.failuresMu.Unlock()

	s.healthFailures[serviceName]++
	return s.healthFailures[serviceName]
}

// ResetHealthCheckFailures zeroes the failure counter of a service
func (s *Service) ResetHealthCheckFailures(serviceName string) {
	s.failuresMu.Lock()
	s.healthFailures[serviceName] = 0
	s.failuresMu.Unlock()
}

// HealthCheckFailures returns the failure counter of a service
func (s *Service) HealthCheckFailures(serviceName string) int {
	s.failuresMu.Lock()
	defer s.failuresMu.Unlock()

	return s.healthFailures[serviceName]
}

// MetricsContext derives the request-window context: error rate, error count,
// p95 and average latency. The error rate divides window errors by window
// requests; errors without tracked requests count as requests too.
func (s *Service) MetricsContext() Context {
	errorCount := s.errorsWindow.Len()
	requestCount := s.requestsWindow.Len()
	latencies := s.latencyWindow.Values()

	denominator := requestCount
	if errorCount > denominator {
		denominator = errorCount
	}

	errorRate := 0.0
	if denominator > 0 {
		errorRate = float64(errorCount) / float64(denominator)
	}

	return Context{
		"serviceName":      s.config.ServiceName,
		"errorRate":        errorRate,
		"errorsInWindow":   errorCount,
		"requestsInWindow": requestCount,
		"p95Latency":       Percentile(latencies, 0.95),
		"avgLatency":       Mean(latencies),
	}
}

func (s *Service) snapshot(alert *Alert) *Alert {
	s.alertsMu.RLock()
	defer s.alertsMu.RUnlock()

	return alert.Clone()
}

func (s *Service) emit(listeners []func(*Alert), alert *Alert) {
	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Alert listener panicked", "alert_id", alert.ID, "panic", r)
				}
			}()
			listener(alert.Clone())
		}()
	}
}

// logNotifier is used when no console notifier has been registered
type logNotifier struct {
	logger *logging.Logger
}

func (n logNotifier) Name() string { return ChannelConsole }

func (n logNotifier) Notify(ctx context.Context, alert *Alert) error {
	entry := n.logger.WithContext(ctx).WithFields(logging.Fields{
		"alert_id": alert.ID,
		"rule_id":  alert.RuleID,
		"severity": alert.Severity.Upper(),
	})

	switch alert.Severity {
	case SeverityInfo:
		entry.Info(alert.Message)
	case SeverityWarning:
		entry.Warn(alert.Message)
	default:
		entry.Error(alert.Message)
	}
	return nil
}
