// Package feedsim provides an in-process stand-in for the dashboard
// backend: the WebSocket event feed plus the snapshot, launch, and worker
// endpoints. It exists for local development and end-to-end tests; it is
// not a reimplementation of the orchestrator.
package feedsim

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mecanolabs/jarvis-console/internal/apiclient"
	"github.com/mecanolabs/jarvis-console/internal/event"
	"github.com/mecanolabs/jarvis-console/internal/multiverse"
)

// Script drives the envelopes emitted after a launch. The default script
// replays a short successful run.
type Script func(s *Server, universeID string, req *apiclient.LaunchRequest)

// Server simulates the backend. It folds its own emitted envelopes through
// a multiverse store, so the REST snapshot and the feed stay consistent by
// construction.
type Server struct {
	upgrader websocket.Upgrader
	store    *multiverse.Store

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex

	// Script runs on each launch. Nil means launches only allocate a
	// universe id; the test drives Emit itself.
	Script Script

	// StepDelay paces the default script.
	StepDelay time.Duration

	WorkerID      string
	WorkerName    string
	WorkerAddress string
}

// NewServer creates a simulator with the default script installed.
func NewServer() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		store:         multiverse.NewStore(multiverse.DefaultLogCapacity),
		clients:       make(map[*websocket.Conn]*sync.Mutex),
		StepDelay:     50 * time.Millisecond,
		WorkerID:      "wrk_" + uuid.New().String()[:8],
		WorkerName:    "sim-worker",
		WorkerAddress: "http://localhost:8100",
	}
	s.Script = DefaultScript
	return s
}

// RegisterRoutes registers the simulator's routes on an echo server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/universes", s.ListUniverses)
	e.GET("/api/workers", s.ListWorkers)
	e.POST("/api/tasks/launch", s.LaunchTask)
	e.GET("/ws/events", s.HandleFeed)
}

// ListUniverses handles GET /api/universes.
func (s *Server) ListUniverses(c echo.Context) error {
	return c.JSON(http.StatusOK, apiclient.UniversesResponse{
		Universes: s.store.Universes(),
	})
}

// ListWorkers handles GET /api/workers.
func (s *Server) ListWorkers(c echo.Context) error {
	return c.JSON(http.StatusOK, []*apiclient.Worker{{
		ID:            s.WorkerID,
		Hostname:      "sim",
		WorkerName:    s.WorkerName,
		WorkerAddress: s.WorkerAddress,
		Status:        "online",
		MaxJobs:       2,
	}})
}

// LaunchTask handles POST /api/tasks/launch.
func (s *Server) LaunchTask(c echo.Context) error {
	var req apiclient.LaunchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, apiclient.ErrorResponse{Error: "invalid request body"})
	}
	if req.Description == "" {
		return c.JSON(http.StatusBadRequest, apiclient.ErrorResponse{Error: "description is required"})
	}

	universeID := "uni_" + uuid.New().String()[:8]
	if s.Script != nil {
		go s.Script(s, universeID, &req)
	}

	return c.JSON(http.StatusOK, apiclient.LaunchResponse{
		UniverseID:    universeID,
		WorkerID:      s.WorkerID,
		WorkerName:    s.WorkerName,
		WorkerAddress: s.WorkerAddress,
	})
}

// HandleFeed handles GET /ws/events: upgrades, sends the snapshot, then
// streams every subsequently emitted envelope.
func (s *Server) HandleFeed(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("feedsim: upgrade failed: %v", err)
		return err
	}

	snapshot := &event.Envelope{
		Type:      event.TypeSnapshot,
		Timestamp: time.Now().UTC(),
	}
	data, _ := json.Marshal(event.SnapshotData{Universes: s.store.Universes()})
	snapshot.Data = data

	wmu := &sync.Mutex{}
	s.mu.Lock()
	s.clients[ws] = wmu
	s.mu.Unlock()

	if err := writeEnvelope(ws, wmu, snapshot); err != nil {
		s.dropClient(ws)
		return nil
	}

	// Read until the client goes away; the sim never expects input.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				s.dropClient(ws)
				return
			}
		}
	}()

	return nil
}

// Emit folds an envelope into the sim's state and broadcasts it to all
// connected feed clients.
func (s *Server) Emit(env *event.Envelope) {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	s.store.Apply(env)

	s.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(s.clients))
	for c, m := range s.clients {
		conns[c] = m
	}
	s.mu.Unlock()

	for c, m := range conns {
		if err := writeEnvelope(c, m, env); err != nil {
			s.dropClient(c)
		}
	}
}

// EmitJSON is a convenience wrapper building the envelope from parts.
func (s *Server) EmitJSON(t event.Type, universeID, agentID, agentName string, data interface{}) {
	env := &event.Envelope{
		Type:       t,
		UniverseID: universeID,
		AgentID:    agentID,
		AgentName:  agentName,
		Timestamp:  time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			log.Printf("feedsim: marshal %s data: %v", t, err)
			return
		}
		env.Data = raw
	}
	s.Emit(env)
}

// Universes exposes the sim's reduced entity state.
func (s *Server) Universes() []*event.Universe {
	return s.store.Universes()
}

// CloseClients disconnects every feed client, simulating a transport drop.
func (s *Server) CloseClients() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.clients = make(map[*websocket.Conn]*sync.Mutex)
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// ClientCount returns the number of connected feed clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) dropClient(ws *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, ws)
	s.mu.Unlock()
	ws.Close()
}

func writeEnvelope(ws *websocket.Conn, wmu *sync.Mutex, env *event.Envelope) error {
	wmu.Lock()
	defer wmu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteJSON(env)
}

// DefaultScript replays a short successful run: one agent, one turn, one
// LLM response. Descriptions containing "fail" produce an agent_error run
// instead, which is handy when exercising the error path by hand.
func DefaultScript(s *Server, universeID string, req *apiclient.LaunchRequest) {
	agentID := "agt_" + uuid.New().String()[:8]
	agentName := "worker-agent"
	model := req.Model
	if model == "" {
		model = "claude-sonnet-4"
	}
	role := req.Role
	if role == "" {
		role = "general"
	}

	step := func() { time.Sleep(s.StepDelay) }

	s.EmitJSON(event.TypeUniverseCreated, universeID, "", "", event.UniverseCreatedData{
		Name:     req.Name,
		WorkerID: s.WorkerID,
	})
	step()
	s.EmitJSON(event.TypeAgentStarted, universeID, agentID, agentName, event.AgentStartedData{
		Role:  role,
		Model: model,
		Tools: []event.ToolRef{{Name: "read_file"}, {Name: "run_command"}},
	})
	step()
	s.EmitJSON(event.TypeTurnStart, universeID, agentID, agentName, event.TurnStartData{Turn: 1, MaxTurns: 10})
	step()

	if strings.Contains(req.Description, "fail") {
		s.EmitJSON(event.TypeAgentError, universeID, agentID, agentName, event.AgentErrorData{
			Error: "simulated failure",
		})
		return
	}

	s.EmitJSON(event.TypeLLMResponse, universeID, agentID, agentName, event.LLMResponseData{
		Text:       "Task complete: " + req.Description,
		Usage:      event.Usage{InputTokens: 120, OutputTokens: 48},
		StopReason: "end_turn",
	})
	step()
	s.EmitJSON(event.TypeTurnEnd, universeID, agentID, agentName, event.TurnEndData{Turn: 1, StateVersion: 1})
	step()
	s.EmitJSON(event.TypeAgentDone, universeID, agentID, agentName, event.AgentDoneData{FinalTurn: 1})
	step()
	s.EmitJSON(event.TypeUniverseStopped, universeID, "", "", nil)
}
