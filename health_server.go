package epochstore

import (
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Lord-Y/epochstore/logger"
)

const (
	// healthRefreshInterval is how often the published grpc serving status
	// is refreshed from the monitor
	healthRefreshInterval = time.Second

	// healthForceStopTimeout is how long a graceful stop may take before the
	// grpc server is forced down
	healthForceStopTimeout = 10 * time.Second
)

// HealthServer publishes the health monitor classification through the
// standard gRPC health checking protocol: a healthy node serves, an
// overloaded or unhealthy one does not
type HealthServer struct {
	// Address is the listen address of the grpc server
	Address string

	// Logger expose zerolog so it can be override
	Logger *zerolog.Logger

	// monitor is the health monitor being published
	monitor *HealthMonitor

	// listener is the grpc listener
	listener net.Listener

	// server is the grpc server
	server *grpc.Server

	// health implements the grpc health checking protocol
	health *health.Server

	// quit stops the refresh loop
	quit chan struct{}
}

// NewHealthServer instantiate a health server for the given monitor
func NewHealthServer(monitor *HealthMonitor, address string) *HealthServer {
	return &HealthServer{
		Address: address,
		Logger:  logger.NewLogger(),
		monitor: monitor,
		quit:    make(chan struct{}),
	}
}

// Start permits to start the gRPC server with the provided configuration
func (g *HealthServer) Start() error {
	listener, err := net.Listen("tcp", g.Address)
	if err != nil {
		return err
	}
	g.listener = listener

	g.server = grpc.NewServer()
	g.health = health.NewServer()
	healthpb.RegisterHealthServer(g.server, g.health)
	g.health.SetServingStatus("", servingStatus(g.monitor.NodeState()))

	go g.refreshLoop()
	go func() {
		if err := g.server.Serve(listener); err != nil {
			g.Logger.Error().Err(err).Msg("Fail to serve gRPC health server")
		}
	}()

	g.Logger.Info().Msgf("Starting gRPC health server at %s", listener.Addr().String())
	return nil
}

// refreshLoop republishes the monitor classification until Stop
func (g *HealthServer) refreshLoop() {
	ticker := time.NewTicker(healthRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.quit:
			return
		case <-ticker.C:
			g.health.SetServingStatus("", servingStatus(g.monitor.NodeState()))
		}
	}
}

// Stop permits to stop the gRPC server, forcing it down when a graceful
// stop takes longer than healthForceStopTimeout
func (g *HealthServer) Stop() {
	if g.server == nil {
		return
	}
	close(g.quit)
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(healthForceStopTimeout):
		g.server.Stop()
	}
	g.Logger.Info().Msg("Stopped gRPC health server")
}

// servingStatus maps a node state to a grpc serving status
func servingStatus(state NodeState) healthpb.HealthCheckResponse_ServingStatus {
	if state == NodeStateHealthy {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
