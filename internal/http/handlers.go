package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-engine/internal/config"
	"github.com/example/ride-engine/internal/dispatch"
	"github.com/example/ride-engine/internal/drivers"
	"github.com/example/ride-engine/internal/eta"
	"github.com/example/ride-engine/internal/geo"
	"github.com/example/ride-engine/internal/ingest"
	"github.com/example/ride-engine/internal/lifecycle"
	"github.com/example/ride-engine/internal/models"
	"github.com/example/ride-engine/internal/observability"
	"github.com/example/ride-engine/internal/offer"
	"github.com/example/ride-engine/internal/payments"
	"github.com/example/ride-engine/internal/settlement"
	"github.com/example/ride-engine/internal/storage"
)

type Server struct {
	Geo       geo.Matcher
	Store     storage.TripStore
	Coord     *offer.Coordinator
	Machine   *lifecycle.Machine
	Settle    *settlement.Engine
	Directory drivers.Directory
	Kafka     *ingest.KafkaProducer
	WSReg     *dispatch.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the engine from configuration: Redis-backed geo/directory
// and Postgres rides when configured, in-memory fallbacks otherwise.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var (
		gmatch geo.Matcher
		dir    drivers.Directory
	)
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		gmatch = geo.NewRedisGeo(rc, cfg.RedisGeoKey, cfg.SearchRadiusKm)
		dir = drivers.NewRedisDirectory(rc)
	} else {
		gmatch = geo.NewIndex()
		dir = drivers.NewMemoryDirectory()
	}

	var store storage.TripStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
	} else {
		store = storage.NewMemoryStore()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic, cfg.KafkaEventTopic)
	}

	wsreg := dispatch.NewWSRegistry()
	disp := dispatch.NewPushDispatcher(cfg.PushEndpoint, wsreg)

	coord := offer.NewCoordinator(store, gmatch, disp, dir, logger)
	coord.MaxRetries = cfg.AssignMaxRetries
	coord.DeclinePolicy = offer.Policy(cfg.ReofferPolicy)
	coord.SpeedMps = cfg.DefaultSpeedMps
	if cfg.OSRMEndpoint != "" {
		coord.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
		coord.ETACache = eta.NewCache(time.Minute)
	}

	settle := settlement.NewEngine(store, dir, payments.NewStripeProcessor(cfg.StripeAPIKey), cfg.CommissionRate, cfg.Currency)

	s := &Server{
		Geo:       gmatch,
		Store:     store,
		Coord:     coord,
		Machine:   lifecycle.NewMachine(store),
		Settle:    settle,
		Directory: dir,
		Kafka:     kp,
		WSReg:     wsreg,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/decline", s.handleDecline).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/arrive", s.handleArrive).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/start", s.handleStart).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/complete", s.handleComplete).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/activate", s.handleActivate).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/tip", s.handleTip).Methods("POST")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/internal/driver/payout", s.handleDriverPayout).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var rr models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&rr); err != nil {
		writeEngineError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if err := validateRideRequest(rr); err != nil {
		writeEngineError(w, err)
		return
	}
	if rr.RequiredSeats == 0 {
		rr.RequiredSeats = models.SeatsStandard
	}

	ride := &models.Ride{
		ID:            newID(),
		RiderID:       rr.RiderID,
		Status:        models.StatusRequested,
		Pickup:        *rr.Pickup,
		Destination:   *rr.Destination,
		RequiredSeats: rr.RequiredSeats,
		FareCents:     rr.FareCents,
		ScheduledAt:   rr.ScheduledAt,
		RequestedAt:   time.Now(),
	}
	if rr.ScheduledAt != nil {
		ride.Status = models.StatusScheduledRequested
	}
	if err := s.Store.Create(r.Context(), ride); err != nil {
		writeEngineError(w, err)
		return
	}
	s.publishEvent(ride.ID, ride.Status, "")

	resp := map[string]any{"ride_id": ride.ID, "status": ride.Status}
	if ride.Status == models.StatusRequested {
		a, err := s.Coord.Assign(r.Context(), ride.ID)
		switch {
		case err == nil:
			resp["assignment"] = a
		case errors.As(err, new(*models.NoCandidatesError)):
			// the ride exists either way; surface the no-driver outcome in
			// the payload so the rider flow can prompt a retry
			resp["no_drivers_available"] = true
			s.logger.Info("no drivers for ride", "ride_id", ride.ID)
		default:
			// the ride stays open; a later assign or accept can still claim it
			resp["assignment_pending"] = true
			s.logger.Warn("assignment failed", "ride_id", ride.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func validateRideRequest(rr models.RideRequest) error {
	switch {
	case rr.RiderID == "":
		return &models.ValidationError{Field: "rider_id", Reason: "required"}
	case rr.Pickup == nil:
		return &models.ValidationError{Field: "pickup", Reason: "required"}
	case rr.Destination == nil:
		return &models.ValidationError{Field: "destination", Reason: "required"}
	case rr.FareCents <= 0:
		return &models.ValidationError{Field: "fare_amount_cents", Reason: "must be positive"}
	case rr.RequiredSeats < 0:
		return &models.ValidationError{Field: "required_seats", Reason: "must not be negative"}
	}
	return nil
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Store.Get(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type driverDecision struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var d driverDecision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeEngineError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	ride, err := s.Coord.Accept(r.Context(), rideID, d.DriverID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.publishEvent(ride.ID, ride.Status, ride.DriverID)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"status":    ride.Status,
		"driver_id": ride.DriverID,
	})
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var d driverDecision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeEngineError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	res, err := s.Coord.Decline(r.Context(), rideID, d.DriverID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if ride, gerr := s.Store.Get(r.Context(), rideID); gerr == nil {
		s.publishEvent(ride.ID, ride.Status, ride.DriverID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"reassigned":  res.Reassigned,
		"next_driver": res.NextDriverID,
	})
}

func (s *Server) handleArrive(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(rideID, driverID string) error {
		return s.Machine.Arrive(r.Context(), rideID, driverID)
	}, models.StatusArrivedAtPickup)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(rideID, driverID string) error {
		return s.Machine.Start(r.Context(), rideID, driverID)
	}, models.StatusInProgress)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, fn func(rideID, driverID string) error, to models.RideStatus) {
	rideID := mux.Vars(r)["ride_id"]
	var d driverDecision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeEngineError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if err := fn(rideID, d.DriverID); err != nil {
		writeEngineError(w, err)
		return
	}
	s.publishEvent(rideID, to, d.DriverID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": to})
}

type completeRequest struct {
	DriverID   string `json:"driver_id"`
	PayerToken string `json:"payer_token,omitempty"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	ride, err := s.Machine.Complete(r.Context(), rideID, req.DriverID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.publishEvent(ride.ID, ride.Status, ride.DriverID)

	chargeID, err := s.Settle.ChargeFare(r.Context(), rideID, req.PayerToken)
	if err != nil {
		observability.ChargeFailures.WithLabelValues("fare").Inc()
		// the trip is complete regardless; the charge failure is surfaced
		// verbatim for the caller to retry
		writeEngineError(w, err)
		return
	}
	observability.ChargesTotal.WithLabelValues("fare").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"status":           ride.Status,
		"duration_seconds": int64(ride.Duration.Seconds()),
		"fare_charge_id":   chargeID,
	})
}

type cancelRequest struct {
	Actor    string `json:"actor"`
	DriverID string `json:"driver_id,omitempty"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	var err error
	var to models.RideStatus
	switch req.Actor {
	case "rider":
		to = models.StatusCancelledByUser
		err = s.Machine.CancelByRider(r.Context(), rideID)
	case "driver":
		to = models.StatusCancelledByDriver
		err = s.Machine.CancelByDriver(r.Context(), rideID, req.DriverID)
	default:
		err = &models.ValidationError{Field: "actor", Reason: "must be rider or driver"}
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.publishEvent(rideID, to, req.DriverID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": to})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	if err := s.Machine.Promote(r.Context(), rideID); err != nil {
		writeEngineError(w, err)
		return
	}
	s.publishEvent(rideID, models.StatusAccepted, "")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": models.StatusAccepted})
}

type tipRequest struct {
	AmountCents int64  `json:"amount_cents"`
	PayerToken  string `json:"payer_token"`
}

func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var req tipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	chargeID, err := s.Settle.ChargeTip(r.Context(), rideID, req.AmountCents, req.PayerToken)
	if err != nil {
		observability.ChargeFailures.WithLabelValues("tip").Inc()
		writeEngineError(w, err)
		return
	}
	if chargeID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"skipped": true})
		return
	}
	observability.ChargesTotal.WithLabelValues("tip").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"tip_charge_id": chargeID})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeEngineError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if d.ID == "" {
		writeEngineError(w, &models.ValidationError{Field: "id", Reason: "required"})
		return
	}
	if d.Loc == nil {
		writeEngineError(w, &models.ValidationError{Field: "loc", Reason: "required"})
		return
	}
	d.Online = true
	if s.Kafka != nil {
		_ = s.Kafka.PublishLocation(d)
	}
	if err := s.Geo.Upsert(r.Context(), d); err != nil {
		s.logger.Warn("geo upsert failed", "driver_id", d.ID, "error", err)
	}
	observability.LocationUpdatesTotal.Inc()
	w.WriteHeader(http.StatusNoContent)
}

type payoutRequest struct {
	DriverID          string `json:"driver_id"`
	PayoutDestination string `json:"payout_destination"`
}

func (s *Server) handleDriverPayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, &models.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	if req.DriverID == "" || req.PayoutDestination == "" {
		writeEngineError(w, &models.ValidationError{Field: "payout_destination", Reason: "driver_id and payout_destination are required"})
		return
	}
	if err := s.Directory.SetPayoutDestination(r.Context(), req.DriverID, req.PayoutDestination); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote its own error response
		s.logger.Warn("ws upgrade failed", "driver_id", id, "error", err)
		return
	}
	s.WSReg.Add(id, conn)
}

func (s *Server) publishEvent(rideID string, status models.RideStatus, driverID string) {
	if s.Kafka == nil {
		return
	}
	err := s.Kafka.PublishRideEvent(ingest.RideEvent{
		RideID:   rideID,
		Status:   status,
		DriverID: driverID,
		At:       time.Now(),
	})
	if err != nil {
		s.logger.Warn("ride event publish failed", "ride_id", rideID, "error", err)
	}
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
