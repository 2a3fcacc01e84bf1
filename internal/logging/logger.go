// Package logging provides structured logging with trace ID propagation
// for every control-plane component.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried on request-scoped
// contexts.
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	TenantKey  ContextKey = "tenant_id"
	RoleKey    ContextKey = "role"
	ServiceKey ContextKey = "service"
)

// Logger wraps logrus.Logger with control-plane conventions.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new Logger instance for the given service name.
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT,
// defaulting to info/json when unset.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext returns a logrus entry enriched with trace/tenant/role
// fields found on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)

	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if tenantID := ctx.Value(TenantKey); tenantID != nil {
		entry = entry.WithField("tenant_id", tenantID)
	}
	if role := ctx.Value(RoleKey); role != nil {
		entry = entry.WithField("role", role)
	}

	return entry
}

func (l *Logger) WithTraceID(traceID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"service": l.service, "trace_id": traceID})
}

func (l *Logger) WithTenant(tenantID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"service": l.service, "tenant_id": tenantID})
}

func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"service": l.service, "error": err.Error()})
}

func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// Context helpers

func NewTraceID() string { return uuid.New().String() }

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantKey, tenantID)
}

func GetTenant(ctx context.Context) string {
	if v, ok := ctx.Value(TenantKey).(string); ok {
		return v
	}
	return ""
}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

func GetRole(ctx context.Context) string {
	if v, ok := ctx.Value(RoleKey).(string); ok {
		return v
	}
	return ""
}

// Domain-specific structured helpers

// LogDatabaseQuery records a store round trip, at debug on success and
// error on failure.
func (l *Logger) LogDatabaseQuery(ctx context.Context, query string, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"query":       query,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("store query failed")
	} else {
		entry.Debug("store query executed")
	}
}

// LogAttestationVerification records the outcome of verifying a VM's
// evidence.
func (l *Logger) LogAttestationVerification(ctx context.Context, vmInstanceID int64, kind, status string, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"vm_instance_id": vmInstanceID,
		"evidence_kind":  kind,
		"status":         status,
	})
	if err != nil {
		entry.WithError(err).Error("attestation verification failed")
	} else {
		entry.Info("attestation verification completed")
	}
}

// LogTrustTransition records a registry state change.
func (l *Logger) LogTrustTransition(ctx context.Context, vmInstanceID int64, previous, current, reason string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"vm_instance_id":    vmInstanceID,
		"previous_lifecycle": previous,
		"current_lifecycle":  current,
		"transition_reason":   reason,
	}).Info("trust transition")
}

// LogRemediationStep records a playbook run state change.
func (l *Logger) LogRemediationStep(ctx context.Context, vmInstanceID int64, playbookKey, status string, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"vm_instance_id": vmInstanceID,
		"playbook_key":   playbookKey,
		"status":         status,
	})
	if err != nil {
		entry.WithError(err).Error("remediation step failed")
	} else {
		entry.Info("remediation step")
	}
}

// LogCryptoOperation logs an envelope encryption/decryption or signature
// verification operation.
func (l *Logger) LogCryptoOperation(ctx context.Context, operation string, success bool, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"operation": operation,
		"success":   success,
	})
	if err != nil {
		entry.WithError(err).Error("cryptographic operation failed")
	} else {
		entry.Debug("cryptographic operation completed")
	}
}

// LogSecurityEvent logs a security-relevant event (e.g. BYOK key
// compromise, forbidden placement attempt).
func (l *Logger) LogSecurityEvent(ctx context.Context, eventType string, details map[string]interface{}) {
	fields := logrus.Fields{"event_type": eventType, "severity": "security"}
	for k, v := range details {
		fields[k] = v
	}
	l.WithContext(ctx).WithFields(fields).Warn("security event")
}

// LogAudit logs an audit-trail event.
func (l *Logger) LogAudit(ctx context.Context, action, resource, resourceID, result string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"action":      action,
		"resource":    resource,
		"resource_id": resourceID,
		"result":      result,
		"audit":       true,
	}).Info("audit log")
}

func (l *Logger) Fatal(ctx context.Context, message string, err error) {
	l.WithContext(ctx).WithError(err).Fatal(message)
}

func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Debug(message)
}

func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Info(message)
}

func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Warn(message)
}

func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	entry := l.WithContext(ctx)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.WithFields(fields).Error(message)
}

var defaultLogger *Logger

// InitDefault initializes the process-wide default logger.
func InitDefault(service, level, format string) {
	defaultLogger = New(service, level, format)
}

// Default returns the process-wide logger, lazily initialized.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("control-plane", "info", "json")
	}
	return defaultLogger
}

// FormatDuration renders a duration in fractional milliseconds for log
// fields.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
}
