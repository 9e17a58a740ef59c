// Package health tracks backing-store reachability for /readyz and the gRPC health service.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported next to the overall "" entry.
const ServiceName = "courseflow"

// PingFunc probes one dependency.
type PingFunc func(ctx context.Context) error

type probe struct {
	name string
	ping PingFunc
}

type Checker struct {
	probes  []probe
	server  *grpchealth.Server
	timeout time.Duration
	log     zerolog.Logger
}

func NewChecker(logger zerolog.Logger) *Checker {
	c := &Checker{
		server:  grpchealth.NewServer(),
		timeout: 2 * time.Second,
		log:     logger.With().Str("component", "health").Logger(),
	}
	c.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return c
}

// Add registers a named dependency probe.
func (c *Checker) Add(name string, ping PingFunc) *Checker {
	c.probes = append(c.probes, probe{name: name, ping: ping})
	return c
}

// Check pings every dependency and joins the failures.
func (c *Checker) Check(ctx context.Context) error {
	var errs []error
	for _, p := range c.probes {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := p.ping(pctx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

// Refresh runs Check once and publishes the result to the gRPC health service.
func (c *Checker) Refresh(ctx context.Context) error {
	err := c.Check(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("dependency check failed")
		c.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	c.setStatus(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run refreshes the serving status every interval until ctx ends, then marks
// the service as shutting down.
func (c *Checker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_ = c.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			c.server.Shutdown()
			return nil
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}

// Register installs the health service and reflection on s.
func (c *Checker) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, c.server)
	reflection.Register(s)
}

func (c *Checker) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(ServiceName, status)
}
