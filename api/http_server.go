package api

import (
	"encoding/json"
	"net"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/kutluhann/p2p-file-sharing/chunk"
	"github.com/kutluhann/p2p-file-sharing/dht"
	"github.com/kutluhann/p2p-file-sharing/id_tools"
	"github.com/kutluhann/p2p-file-sharing/peer"
	"github.com/kutluhann/p2p-file-sharing/store"
)

// Node is the part of a peer the API reports on.
type Node interface {
	Self() dht.Route
	Status() peer.Status
	Table() *dht.RoutingTable
	Registry() *peer.Registry
	Engine() *chunk.Engine
}

// StatusResponse represents node status information
type StatusResponse struct {
	NodeID       string `json:"node_id"`
	ControlAddr  string `json:"control_addr"`
	TransferAddr string `json:"transfer_addr"`
	Status       string `json:"status"`
	KnownPeers   int    `json:"known_peers"`
	KnownIDs     int    `json:"known_ids"`
	HashBits     int    `json:"hash_bits"`
	HashAlgo     string `json:"hash_algorithm"`
}

type RouteInfo struct {
	ID           string `json:"id"`
	Addr         string `json:"addr"`
	TransferAddr string `json:"transfer_addr"`
}

type BucketResponse struct {
	CPL      int         `json:"cpl"`
	Size     int         `json:"size"`
	Capacity int         `json:"capacity"`
	Routes   []RouteInfo `json:"routes"`
}

type FragmentInfo struct {
	ID     string `json:"id"`
	Stored bool   `json:"stored"`
}

type ManifestResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Length    int64    `json:"length"`
	Fragments []string `json:"fragments"`
}

// HTTPServer serves a read-only view of one peer.
type HTTPServer struct {
	Node Node
	Port int

	srv *fasthttp.Server
}

func NewHTTPServer(node Node, port int) *HTTPServer {
	s := &HTTPServer{Node: node, Port: port}
	s.srv = &fasthttp.Server{Handler: s.handler, Name: "sfs-peer"}
	return s
}

// Start listens on Port and blocks until Shutdown.
func (s *HTTPServer) Start() error {
	addr := net.JoinHostPort("", strconv.Itoa(s.Port))
	log.WithField("addr", addr).Info("status API listening")
	return s.srv.ListenAndServe(addr)
}

func (s *HTTPServer) Shutdown() error {
	return s.srv.Shutdown()
}

func (s *HTTPServer) handler(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		ctx.Error("Method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	switch string(ctx.Path()) {
	case "/status":
		s.handleStatus(ctx)
	case "/health":
		writeJSON(ctx, map[string]string{"status": "healthy"})
	case "/routing-table":
		s.handleRoutingTable(ctx)
	case "/fragments":
		s.handleFragments(ctx)
	case "/manifest":
		s.handleManifest(ctx)
	default:
		ctx.Error("Not found", fasthttp.StatusNotFound)
	}
}

func (s *HTTPServer) handleStatus(ctx *fasthttp.RequestCtx) {
	self := s.Node.Self()
	d := s.Node.Engine().Deriver()
	writeJSON(ctx, StatusResponse{
		NodeID:       self.ID.String(),
		ControlAddr:  self.Addr,
		TransferAddr: self.TransferAddr,
		Status:       s.Node.Status().String(),
		KnownPeers:   s.Node.Table().Len(),
		KnownIDs:     s.Node.Registry().Len(),
		HashBits:     d.Bits(),
		HashAlgo:     d.Algorithm(),
	})
}

func (s *HTTPServer) handleRoutingTable(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")

	buckets := []BucketResponse{}
	for _, b := range s.Node.Table().Info() {
		resp := BucketResponse{CPL: b.CPL, Size: b.Size, Capacity: b.Capacity}
		for _, r := range b.Routes {
			resp.Routes = append(resp.Routes, RouteInfo{ID: r.ID.String(), Addr: r.Addr, TransferAddr: r.TransferAddr})
		}
		buckets = append(buckets, resp)
	}
	writeJSON(ctx, buckets)
}

func (s *HTTPServer) handleFragments(ctx *fasthttp.RequestCtx) {
	st := s.Node.Engine().Store()
	frags := []FragmentInfo{}
	for _, id := range s.Node.Registry().List() {
		frags = append(frags, FragmentInfo{ID: id.String(), Stored: st.Has(id)})
	}
	writeJSON(ctx, frags)
}

// handleManifest returns the stored manifest named by the id query argument.
func (s *HTTPServer) handleManifest(ctx *fasthttp.RequestCtx) {
	id, err := id_tools.ParseHashID(string(ctx.QueryArgs().Peek("id")))
	if err != nil || len(id) == 0 {
		ctx.Error("bad `id` GET param: base64 identifier required", fasthttp.StatusBadRequest)
		return
	}
	m, err := s.Node.Engine().Manifest(id)
	if errors.Is(err, store.ErrNotFound) {
		ctx.Error("manifest not found", fasthttp.StatusNotFound)
		return
	}
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusUnprocessableEntity)
		return
	}
	resp := ManifestResponse{ID: m.ID.String(), Name: m.Name, Length: m.Length, Fragments: []string{}}
	for _, f := range m.Fragments {
		resp.Fragments = append(resp.Fragments, f.String())
	}
	writeJSON(ctx, resp)
}

func writeJSON(ctx *fasthttp.RequestCtx, v interface{}) {
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		log.WithError(err).Warn("failed to encode API response")
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
	}
}
