package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"gridspace/internal/hub"
	"gridspace/pkg/metrics"
	"gridspace/pkg/types"
)

// PresenceService is the request/response view of the presence model
type PresenceService interface {
	CreateRoom(ctx context.Context, name string) (*types.Room, error)
	GetRoom(ctx context.Context, roomID string) (*types.Room, error)
	ListRooms(ctx context.Context) ([]*types.Room, error)
	JoinRoom(ctx context.Context, roomID, username string) (*types.Room, error)
	LeaveRoom(ctx context.Context, roomID, username string) (*types.Room, error)
	Claim(ctx context.Context, roomID string, x, y int, username string) (types.Cell, error)
	Release(ctx context.Context, roomID string, x, y int) (types.Cell, error)
	GridState(roomID string) []types.Cell
	Adjacent(roomID string, x, y int) []types.Cell
}

// Executor runs a mutation on the single coordinator goroutine
type Executor interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// HealthChecker reports storage health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionStats reports live connection counts
type ConnectionStats interface {
	GetStats() map[string]int
}

// SessionCounter reports tracked sessions
type SessionCounter interface {
	Count() int
}

// Config holds the HTTP surface options
type Config struct {
	AllowedOrigins []string
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	service     PresenceService
	executor    Executor
	storage     HealthChecker
	connections ConnectionStats
	sessions    SessionCounter
	metrics     *metrics.Metrics
	router      *http.ServeMux
	handler     http.Handler
}

// NewServer wires routes and middleware; m may be nil
func NewServer(service PresenceService, executor Executor, storage HealthChecker, connections ConnectionStats, sessions SessionCounter, m *metrics.Metrics, config Config) *Server {
	s := &Server{
		service:     service,
		executor:    executor,
		storage:     storage,
		connections: connections,
		sessions:    sessions,
		metrics:     m,
		router:      http.NewServeMux(),
	}

	s.setupRoutes()

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	})
	s.handler = c.Handler(s.router)
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
func (s *Server) setupRoutes() {
	s.handle("GET /rooms", s.listRooms)
	s.handle("POST /rooms", s.createRoom)
	s.handle("GET /rooms/{id}", s.getRoom)
	s.handle("POST /rooms/{id}/join", s.joinRoom)
	s.handle("POST /rooms/{id}/leave", s.leaveRoom)

	s.handle("GET /grid/{roomId}", s.gridState)
	s.handle("POST /grid/{roomId}/claim", s.claimCell)
	s.handle("POST /grid/{roomId}/release", s.releaseCell)
	s.handle("GET /grid/{roomId}/adjacent", s.adjacentCells)

	s.handle("GET /health", s.healthCheck)
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) handle(pattern string, fn http.HandlerFunc) {
	s.router.Handle(pattern, s.countRequests(s.jsonMiddleware(fn)))
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type CreateRoomRequest struct {
	Name string `json:"name"`
}

type MembershipRequest struct {
	Username string `json:"username"`
}

// CellRequest is the body of claim and release
// FUNCTIONAL DISCOVERY: Pointers distinguish an omitted coordinate from 0
type CellRequest struct {
	X        *int   `json:"x"`
	Y        *int   `json:"y"`
	Username string `json:"username,omitempty"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Sessions    int            `json:"sessions"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /rooms
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.service.ListRooms(r.Context())
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, rooms)
}

// POST /rooms
func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if !s.decode(w, r, &req) {
		return
	}

	var room *types.Room
	err := s.executor.Execute(r.Context(), func(ctx context.Context) error {
		var err error
		room, err = s.service.CreateRoom(ctx, req.Name)
		return err
	})
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, room)
}

// GET /rooms/{id}
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.service.GetRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, room)
}

// POST /rooms/{id}/join
func (s *Server) joinRoom(w http.ResponseWriter, r *http.Request) {
	s.membership(w, r, s.service.JoinRoom)
}

// POST /rooms/{id}/leave
func (s *Server) leaveRoom(w http.ResponseWriter, r *http.Request) {
	s.membership(w, r, s.service.LeaveRoom)
}

func (s *Server) membership(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, roomID, username string) (*types.Room, error)) {
	var req MembershipRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !types.IsValidUsername(req.Username) {
		s.sendFailure(w, types.ErrInvalidUsername)
		return
	}

	roomID := r.PathValue("id")
	var room *types.Room
	err := s.executor.Execute(r.Context(), func(ctx context.Context) error {
		var err error
		room, err = op(ctx, roomID, req.Username)
		return err
	})
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, room)
}

// GET /grid/{roomId}
func (s *Server) gridState(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.service.GridState(r.PathValue("roomId")))
}

// POST /grid/{roomId}/claim
func (s *Server) claimCell(w http.ResponseWriter, r *http.Request) {
	var req CellRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.X == nil || req.Y == nil {
		s.sendFailure(w, types.ErrMissingPosition)
		return
	}

	roomID := r.PathValue("roomId")
	var cell types.Cell
	err := s.executor.Execute(r.Context(), func(ctx context.Context) error {
		var err error
		cell, err = s.service.Claim(ctx, roomID, *req.X, *req.Y, req.Username)
		return err
	})
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, cell)
}

// POST /grid/{roomId}/release
func (s *Server) releaseCell(w http.ResponseWriter, r *http.Request) {
	var req CellRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.X == nil || req.Y == nil {
		s.sendFailure(w, types.ErrMissingPosition)
		return
	}

	roomID := r.PathValue("roomId")
	var cell types.Cell
	err := s.executor.Execute(r.Context(), func(ctx context.Context) error {
		var err error
		cell, err = s.service.Release(ctx, roomID, *req.X, *req.Y)
		return err
	})
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, cell)
}

// GET /grid/{roomId}/adjacent?x=&y=
func (s *Server) adjacentCells(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(r.URL.Query().Get("x"))
	y, errY := strconv.Atoi(r.URL.Query().Get("y"))
	if errX != nil || errY != nil {
		s.sendError(w, "x and y query parameters must be integers", http.StatusBadRequest)
		return
	}

	roomID := r.PathValue("roomId")
	s.sendJSON(w, http.StatusOK, types.AdjacentCells{
		RoomID: roomID,
		X:      x,
		Y:      y,
		Cells:  s.service.Adjacent(roomID, x, y),
	})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.storage.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.connections.GetStats(),
		Sessions:    s.sessions.Count(),
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

// decode reads a JSON body, answering 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, hub.ErrHubNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendFailure(w http.ResponseWriter, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		log.Error().Str("module", "api").Err(err).Msg("request failed")
		message = "internal error"
	}
	s.sendError(w, message, code)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Str("module", "api").Err(err).Msg("response write failed")
	}
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for metrics
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.HTTPRequests.WithLabelValues(r.Pattern, strconv.Itoa(rec.code)).Inc()
	})
}
