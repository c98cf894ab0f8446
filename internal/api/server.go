package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"Go2FlowFeatures/internal/config"
	"Go2FlowFeatures/internal/engine/flowaggregator"
	"Go2FlowFeatures/internal/engine/manager"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultFlowLimit = 100

// StatusProvider is the read side of the orchestrator.
type StatusProvider interface {
	Status() manager.Status
	Flows(limit int) []flowaggregator.FlowSnapshot
}

// FlowView is the JSON form of one tracked flow.
type FlowView struct {
	Flow        string    `json:"flow"`
	Source      string    `json:"source_address"`
	Destination string    `json:"destination_address"`
	PacketCount uint64    `json:"packet_count"`
	LastSize    *int      `json:"last_size"`
	LastSeen    time.Time `json:"last_seen"`
}

// Server exposes the orchestrator status over HTTP and its liveness over
// the standard gRPC health service.
type Server struct {
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcAddr   string
	health     *health.Server
	log        logrus.FieldLogger
}

// NewServer builds the HTTP router and the gRPC health service.
func NewServer(cfg config.APIConfig, p StatusProvider, registry *prometheus.Registry, logger logrus.FieldLogger) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           NewHandler(p, registry),
			ReadHeaderTimeout: 5 * time.Second,
		},
		grpcServer: grpcServer,
		grpcAddr:   cfg.GRPCListenAddr,
		health:     hs,
		log:        logger,
	}
}

// NewHandler returns the HTTP routes of the status API.
func NewHandler(p StatusProvider, registry *prometheus.Registry) http.Handler {
	h := &handler{provider: p}
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/status", h.statusHandler).Methods("GET")
	r.HandleFunc("/api/v1/flows", h.flowsHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
	return r
}

// ObserveState maps orchestrator states onto the gRPC health status: the
// service is serving unless it is waiting for its capture source.
func (s *Server) ObserveState(state manager.State) {
	status := healthpb.HealthCheckResponse_SERVING
	if state == manager.StateWaiting {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
}

// Start begins serving. An empty address disables that listener.
func (s *Server) Start() error {
	if grpcAddr := s.grpcAddr; grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
		}
		go func() {
			s.log.WithField("addr", grpcAddr).Info("gRPC health server starting")
			if err := s.grpcServer.Serve(lis); err != nil {
				s.log.WithError(err).Error("gRPC server stopped")
			}
		}()
	}

	if s.httpServer.Addr != "" {
		lis, err := net.Listen("tcp", s.httpServer.Addr)
		if err != nil {
			return fmt.Errorf("could not listen on %s: %w", s.httpServer.Addr, err)
		}
		go func() {
			s.log.WithField("addr", s.httpServer.Addr).Info("API server starting")
			if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.WithError(err).Error("API server stopped")
			}
		}()
	}
	return nil
}

// Shutdown stops both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	return s.httpServer.Shutdown(ctx)
}

type handler struct {
	provider StatusProvider
}

func (h *handler) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.provider.Status())
}

func (h *handler) flowsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultFlowLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, fmt.Sprintf("invalid limit '%s'", v), http.StatusBadRequest)
			return
		}
		limit = n
	}

	flows := h.provider.Flows(limit)
	views := make([]FlowView, len(flows))
	for i, f := range flows {
		views[i] = FlowView{
			Flow:        f.Key.String(),
			Source:      f.Key.Source,
			Destination: f.Key.Destination,
			PacketCount: f.PacketCount,
			LastSize:    f.LastSize,
			LastSeen:    f.LastSeen,
		}
	}
	writeJSON(w, views)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
