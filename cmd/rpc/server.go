package rpc

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/lattice-network/lattice/bft"
	"github.com/lattice-network/lattice/fsm"
	"github.com/lattice-network/lattice/lib"
	"github.com/lattice-network/lattice/store"
	"github.com/rs/cors"
)

const (
	ContentType     = "Content-Type"
	ApplicationJSON = "application/json; charset=utf-8"

	colon = ":"

	// upper bound on a single wait request, regardless of the client's ask
	maxWaitTimeout = 5 * time.Minute
)

// Server exposes the node's query and wait protocol over HTTP
type Server struct {
	engine    *bft.Engine
	finalizer *fsm.Finalizer
	store     *store.Store
	config    lib.Config
	logger    lib.LoggerI
}

// NewServer() constructs and returns a new RPC server
func NewServer(engine *bft.Engine, finalizer *fsm.Finalizer, st *store.Store, config lib.Config, logger lib.LoggerI) *Server {
	return &Server{
		engine:    engine,
		finalizer: finalizer,
		store:     st,
		config:    config,
		logger:    logger,
	}
}

// Start() initializes the RPC server in the background
func (s *Server) Start() {
	go s.startRPC(s.createRouter(), s.config.RPCPort)
}

// startRPC() starts an RPC server with the provided router and port
func (s *Server) startRPC(router *httprouter.Router, port string) {
	// Create CORS policy
	cor := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS", "POST"},
	})

	// Create a default timeout for HTTP requests
	timeout := time.Duration(s.config.TimeoutS) * time.Second

	// Start RPC server
	s.logger.Infof("Starting RPC server at 0.0.0.0:%s", port)
	s.logger.Fatal((&http.Server{
		Addr:    colon + port,
		Handler: cor.Handler(http.TimeoutHandler(router, timeout, lib.ErrInvalidTimeout().Error())),
	}).ListenAndServe().Error())
}

// createRouter() binds the HTTP routes to their handlers
func (s *Server) createRouter() *httprouter.Router {
	router := httprouter.New()
	router.GET("/v1/tx/:id", s.Transaction)
	router.GET("/v1/tx/:id/wait", s.TransactionWait)
	router.GET("/v1/block/:id", s.Block)
	router.GET("/v1/committed/:shard", s.Committed)
	router.POST("/v1/pledge", s.Pledge)
	return router
}

// Transaction() returns the current view of a transaction without waiting
func (s *Server) Transaction(w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	transactionID, err := lib.StringToBytes(p.ByName("id"))
	if err != nil {
		write(w, err, http.StatusBadRequest)
		return
	}
	result, err := s.finalizer.Query(transactionID)
	if err != nil {
		write(w, err, http.StatusNotFound)
		return
	}
	write(w, result, http.StatusOK)
}

// TransactionWait() blocks until the transaction reaches a terminal status or the
// requested timeout elapses, then returns the wait protocol shape
func (s *Server) TransactionWait(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	transactionID, err := lib.StringToBytes(p.ByName("id"))
	if err != nil {
		write(w, err, http.StatusBadRequest)
		return
	}
	timeout, err := parseTimeout(r.URL.Query().Get("timeout"))
	if err != nil {
		write(w, err, http.StatusBadRequest)
		return
	}
	result, err := s.finalizer.AwaitResult(r.Context(), transactionID, timeout)
	if err != nil {
		write(w, err, http.StatusNotFound)
		return
	}
	write(w, result, http.StatusOK)
}

// Block() returns the full block shape, lifecycle flags and foreign indexes included
func (s *Server) Block(w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	blockID, err := lib.StringToBytes(p.ByName("id"))
	if err != nil || len(blockID) != 32 {
		write(w, lib.ErrInvalidBlockID(), http.StatusBadRequest)
		return
	}
	block, err := s.store.Get(blockID)
	if err != nil {
		write(w, err, http.StatusNotFound)
		return
	}
	write(w, block, http.StatusOK)
}

// Committed() returns the highest committed block of a shard
func (s *Server) Committed(w http.ResponseWriter, _ *http.Request, p httprouter.Params) {
	shard, e := strconv.ParseUint(p.ByName("shard"), 10, 64)
	if e != nil {
		write(w, lib.ErrInvalidShardArg(), http.StatusBadRequest)
		return
	}
	block, err := s.store.HighestCommitted(shard)
	if err != nil {
		write(w, err, http.StatusNotFound)
		return
	}
	write(w, block, http.StatusOK)
}

// pledgeRequest is the body of a pledge observation submission
type pledgeRequest struct {
	Shard uint64 `json:"shard"`
	Index uint64 `json:"index"`
}

// Pledge() records a cross-shard pledge observation, waking suspended blocks
func (s *Server) Pledge(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	request := new(pledgeRequest)
	if e := json.NewDecoder(r.Body).Decode(request); e != nil {
		write(w, lib.ErrInvalidRequest(e), http.StatusBadRequest)
		return
	}
	s.engine.ObservePledge(request.Shard, request.Index)
	write(w, request, http.StatusOK)
}

// parseTimeout() reads the wait bound from the query string, defaulting to the
// server's request timeout and clamping to the global maximum
func parseTimeout(raw string) (time.Duration, lib.ErrorI) {
	if raw == "" {
		return maxWaitTimeout, nil
	}
	timeout, e := time.ParseDuration(raw)
	if e != nil || timeout <= 0 {
		return 0, lib.ErrInvalidTimeout()
	}
	if timeout > maxWaitTimeout {
		timeout = maxWaitTimeout
	}
	return timeout, nil
}

// write() marshals the payload to w
func write(w http.ResponseWriter, payload interface{}, code int) {
	w.Header().Set(ContentType, ApplicationJSON)
	w.WriteHeader(code)

	// Marshal and indent the payload
	bz, _ := json.MarshalIndent(payload, "", "  ")
	if _, err := w.Write(bz); err != nil {
		return
	}
}
