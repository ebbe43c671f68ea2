package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fleet-dispatch/internal/feed"
	"github.com/example/fleet-dispatch/internal/geo"
	"github.com/example/fleet-dispatch/internal/models"
	"github.com/example/fleet-dispatch/internal/notify"
	"github.com/example/fleet-dispatch/internal/orchestrator"
	"github.com/example/fleet-dispatch/internal/store"
)

type Server struct {
	Store    store.Store
	Orch     *orchestrator.Orchestrator
	Producer *feed.Producer // optional change-feed publisher
	WSReg    *notify.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(st store.Store, orch *orchestrator.Orchestrator, producer *feed.Producer, wsreg *notify.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{Store: st, Orch: orch, Producer: producer, WSReg: wsreg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/bookings", s.handleCreateBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/{id}", s.handleGetBooking).Methods("GET")
	s.mux.HandleFunc("/api/v1/rebalance", s.handleRebalance).Methods("POST")
	s.mux.HandleFunc("/internal/vehicle/locations", s.handleVehicleLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{vehicle_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type createBookingRequest struct {
	ID      string        `json:"id,omitempty"`
	RiderID string        `json:"rider_id,omitempty"`
	Phone   string        `json:"phone,omitempty"`
	Pickup  *models.Coord `json:"pickup"`
}

// handleCreateBooking persists a pending booking and fires the
// assignment trigger. The response never waits for matching; duplicate
// triggers downstream are benign.
func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Pickup == nil || !geo.Finite(req.Pickup.Lat, req.Pickup.Lon) {
		http.Error(w, "pickup coordinates required", http.StatusBadRequest)
		return
	}
	b := &models.Booking{
		ID:        req.ID,
		RiderID:   req.RiderID,
		Phone:     req.Phone,
		Pickup:    req.Pickup,
		Status:    models.BookingPending,
		CreatedAt: time.Now(),
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if err := s.Store.PutBooking(r.Context(), b); err != nil {
		s.logger.Error("create booking failed", "booking_id", b.ID, "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if s.Producer != nil {
		data, _ := json.Marshal(b)
		ev := feed.Event{Collection: feed.CollectionBookings, Kind: feed.KindAdded, ID: b.ID, Data: data}
		if err := s.Producer.Publish(r.Context(), ev); err != nil {
			s.logger.Warn("feed publish failed", "booking_id", b.ID, "error", err)
		}
	}
	s.Orch.AssignAsync(b.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": b.ID, "status": b.Status})
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := s.Store.GetBooking(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(b)
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	apply := r.URL.Query().Get("apply") == "true"
	res, err := s.Orch.TriggerRebalance(r.Context(), apply)
	if err != nil {
		s.logger.Error("manual rebalance failed", "error", err)
		http.Error(w, "rebalance failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

type vehicleLocationRequest struct {
	ID        string        `json:"id"`
	Loc       *models.Coord `json:"loc"`
	Status    string        `json:"status,omitempty"`
	PushToken string        `json:"push_token,omitempty"`
}

// handleVehicleLocation upserts fleet state reported by driver apps.
// Carried passengers and rebalance targets are owned by the dispatcher
// and survive the upsert untouched. The write goes through the store
// transaction so an assignment committed mid-upsert cannot be
// overwritten by a stale read.
func (s *Server) handleVehicleLocation(w http.ResponseWriter, r *http.Request) {
	var req vehicleLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "vehicle id required", http.StatusBadRequest)
		return
	}
	if req.Loc != nil && !geo.Finite(req.Loc.Lat, req.Loc.Lon) {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}
	err := s.Store.Transact(r.Context(), func(tx store.Tx) error {
		v, err := tx.GetVehicle(req.ID)
		if errors.Is(err, store.ErrNotFound) {
			v = &models.Vehicle{ID: req.ID, Status: models.VehicleIdle}
		} else if err != nil {
			return err
		}
		if req.Loc != nil {
			v.Loc = req.Loc
		}
		if req.Status != "" {
			v.Status = req.Status
		}
		if req.PushToken != "" {
			v.PushToken = req.PushToken
		}
		v.Updated = time.Now()
		tx.PutVehicle(v)
		return nil
	}, store.VehicleKey(req.ID))
	if err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["vehicle_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
}
