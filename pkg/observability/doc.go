// Package observability provides structured logging, Prometheus metrics, and health checks.
//
// # Overview
//
// This package centralizes observability infrastructure for the facility ETL
// pipeline and the search-serving daemon: JSON logging, metrics collection,
// dependency health checks, and graceful shutdown.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Info("server started")
//
// Context-aware logging:
//
//	logger.WithField("request_id", reqID).WithError(err).Error("request failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/facilities/search", "200").Inc()
//	metrics.ETLRecordsTotal.WithLabelValues("loaded").Add(50)
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	router.HandleFunc("/health/live", checker.Liveness)
//	router.HandleFunc("/health/ready", checker.Readiness)
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/search: request logging and timing headers
package observability
