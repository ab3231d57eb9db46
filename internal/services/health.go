package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type HealthService struct {
	critical    map[string]HealthCheck
	nonCritical map[string]HealthCheck
	timeout     time.Duration
	logger      *logrus.Logger

	healthCheckStatus *prometheus.GaugeVec
	lastHealthCheck   *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
}

const (
	HealthStatusHealthy   = "healthy"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)

// NewHealthService takes the dependencies the service cannot run without
// separately from the ones it can degrade around.
func NewHealthService(critical, nonCritical map[string]HealthCheck, reg prometheus.Registerer, logger *logrus.Logger) *HealthService {
	hs := &HealthService{
		critical:    critical,
		nonCritical: nonCritical,
		timeout:     5 * time.Second,
		logger:      logger,
	}

	m := &Metrics{registerer: reg, logger: logger}
	hs.healthCheckStatus = register(m, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"}))
	hs.lastHealthCheck = register(m, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"}))

	return hs
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	for name, check := range s.critical {
		if err := s.probe(ctx, name, check); err != nil {
			status.Services[name] = HealthStatusUnhealthy
			status.Critical = append(status.Critical, name)
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", name)
		} else {
			status.Services[name] = HealthStatusHealthy
		}
	}

	for name, check := range s.nonCritical {
		if err := s.probe(ctx, name, check); err != nil {
			status.Services[name] = HealthStatusUnhealthy
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
		} else {
			status.Services[name] = HealthStatusHealthy
		}
	}

	switch {
	case len(status.Critical) > 0:
		status.Status = HealthStatusUnhealthy
	case len(status.NonCritical) > 0:
		status.Status = HealthStatusDegraded
	default:
		status.Status = HealthStatusHealthy
	}
	return status
}

func (s *HealthService) probe(ctx context.Context, name string, check HealthCheck) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := check(ctx)
	s.UpdateHealthMetrics(name, err == nil)
	return err
}

func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	s.healthCheckStatus.WithLabelValues(serviceName).Set(value)
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
