// Package api exposes a tally.Node over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rfratto/tally"
	"github.com/rfratto/tally/wire"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// maxBodySize bounds the size of request bodies.
const maxBodySize = 1 << 20

// Options configures an API.
type Options struct {
	// Optional logger to use.
	Log log.Logger

	// Optional gatherer to serve at /metrics. /metrics is not served if nil.
	Gatherer prometheus.Gatherer
}

// API converts API requests into calls to a Node.
type API struct {
	log  log.Logger
	node *tally.Node
}

// New returns a new API that serves requests for node, registering its
// routes to r.
func New(node *tally.Node, r *mux.Router, opts Options) *API {
	l := opts.Log
	if l == nil {
		l = log.NewNopLogger()
	}
	api := &API{log: l, node: node}

	r.HandleFunc(wire.PathRegisterLocalFile, api.registerLocalFile).Methods(http.MethodPost)
	r.HandleFunc(wire.PathRegisterFile, api.registerFile).Methods(http.MethodPost)
	r.HandleFunc(wire.PathGetWork, api.getWork).Methods(http.MethodGet)
	r.HandleFunc(wire.PathSubmitWork, api.submitWork).Methods(http.MethodPost)
	r.HandleFunc(wire.PathUpdateResult, api.updateResult).Methods(http.MethodPost)
	r.HandleFunc(wire.PathTotal, api.total).Methods(http.MethodGet)
	r.HandleFunc(wire.PathPing, api.ping).Methods(http.MethodGet)
	r.HandleFunc(wire.PathRegisterPeer, api.registerPeer).Methods(http.MethodPost)

	if opts.Gatherer != nil {
		r.Handle(wire.PathMetrics, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return api
}

// Handler wraps h so that it can serve HTTP/2 requests without TLS in
// addition to HTTP/1.
func Handler(h http.Handler) http.Handler {
	return h2c.NewHandler(h, &http2.Server{})
}

func (a *API) registerLocalFile(rw http.ResponseWriter, r *http.Request) {
	var req wire.RegisterLocalFileRequest
	if !decode(rw, r, &req) {
		return
	}
	if req.Path == "" {
		http.Error(rw, "path argument missing", http.StatusBadRequest)
		return
	}

	id, err := a.node.RegisterLocal(r.Context(), req.Path)
	a.writeRegistration(rw, id, err)
}

func (a *API) registerFile(rw http.ResponseWriter, r *http.Request) {
	var req wire.RegisterFileRequest
	if !decode(rw, r, &req) {
		return
	}
	if req.URL == "" {
		http.Error(rw, "url argument missing", http.StatusBadRequest)
		return
	}

	id, err := a.node.RegisterRemote(r.Context(), req.URL)
	a.writeRegistration(rw, id, err)
}

func (a *API) writeRegistration(rw http.ResponseWriter, id string, err error) {
	switch {
	case err == nil:
		writeJSON(rw, wire.RegisterFileResponse{Status: wire.StatusProcessing, FileID: id})
	case errors.Is(err, tally.ErrSourceUnavailable):
		level.Debug(a.log).Log("msg", "rejected file registration", "err", err)
		writeJSON(rw, wire.RegisterFileResponse{Status: wire.StatusSourceUnavailable, Error: err.Error()})
	case errors.Is(err, tally.ErrNotRunning):
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(rw, err.Error(), http.StatusInternalServerError)
	}
}

func (a *API) getWork(rw http.ResponseWriter, r *http.Request) {
	work, ok := a.node.GetWork()
	if !ok {
		writeJSON(rw, wire.StatusResponse{Status: wire.StatusNoWork})
		return
	}

	writeJSON(rw, wire.WorkResponse{
		ChunkID: work.ChunkID,
		FileID:  work.FileID,
		FileURL: work.FileURL,
		Range:   work.Range,
		Offset:  work.Offset,
		Length:  work.Length,
	})
}

func (a *API) submitWork(rw http.ResponseWriter, r *http.Request) {
	req, ok := decodeResult(rw, r)
	if !ok {
		return
	}

	status, err := a.node.Submit(req.ChunkID, *req.Count)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(rw, wire.StatusResponse{Status: status.String()})
}

func (a *API) updateResult(rw http.ResponseWriter, r *http.Request) {
	req, ok := decodeResult(rw, r)
	if !ok {
		return
	}

	_ = a.node.AcceptPropagated(req.ChunkID, *req.Count)
	writeJSON(rw, wire.StatusResponse{Status: wire.StatusUpdated})
}

func (a *API) total(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, wire.TotalResponse{Total: a.node.Total()})
}

func (a *API) ping(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, a.node.Status())
}

func (a *API) registerPeer(rw http.ResponseWriter, r *http.Request) {
	var req wire.RegisterPeerRequest
	if !decode(rw, r, &req) {
		return
	}
	if req.URL == "" {
		http.Error(rw, "url argument missing", http.StatusBadRequest)
		return
	}

	if err := a.node.RegisterPeer(req.URL); err != nil {
		level.Debug(a.log).Log("msg", "rejected peer", "url", req.URL, "err", err)
		writeJSON(rw, wire.StatusResponse{Status: wire.StatusInvalid})
		return
	}
	writeJSON(rw, wire.StatusResponse{Status: wire.StatusRegistered})
}

func decodeResult(rw http.ResponseWriter, r *http.Request) (wire.ResultRequest, bool) {
	var req wire.ResultRequest
	if !decode(rw, r, &req) {
		return req, false
	}

	switch {
	case req.ChunkID == "":
		http.Error(rw, "chunk_id argument missing", http.StatusBadRequest)
		return req, false
	case req.Count == nil:
		http.Error(rw, "count argument missing", http.StatusBadRequest)
		return req, false
	case *req.Count < 0:
		http.Error(rw, tally.ErrInvalidValue.Error(), http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// decode reads the JSON body of r into v. If decoding fails, a 400 is
// written to rw and false is returned.
func decode(rw http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodySize)).Decode(v)
	if err != nil {
		http.Error(rw, fmt.Sprintf("failed to read body: %s", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(rw http.ResponseWriter, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(v)
}
