package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/morezero/capabilities-hub/pkg/commsutil"
	"github.com/morezero/capabilities-hub/pkg/hub"
	"github.com/morezero/capabilities-hub/pkg/jsonrpc"
)

const handlersLogPrefix = "server:handlers"

const maxBodyBytes = 1 << 20

// hubForServer is the part of the hub the HTTP surface uses.
type hubForServer interface {
	Call(ctx context.Context, method string, params interface{}) (map[string]json.RawMessage, error)
	Server(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	Peers() []hub.PeerInfo
	Surfaces() *hub.Surfaces
}

// HealthOutput is the body of GET /health.
type HealthOutput struct {
	Status    string `json:"status"`
	Hub       string `json:"hub"`
	Peers     int    `json:"peers"`
	Confirmed int    `json:"confirmed"`
	COMMS     bool   `json:"comms"`
	Timestamp string `json:"timestamp"`
}

// SurfacesOutput is the body of GET /surfaces.
type SurfacesOutput struct {
	FanOut      map[string][]string `json:"fanOut"`
	PassThrough map[string]string   `json:"passThrough"`
}

type errorBody struct {
	Error interface{} `json:"error"`
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHome())
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("GET /peers", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.hub.Peers())
	})
	mux.HandleFunc("GET /surfaces", s.handleSurfaces)
	mux.HandleFunc("POST /call/{method}", s.handleCall)
	mux.HandleFunc("POST /server/{method}", s.handleServer)
	return mux
}

func (s *Server) commsConnected() bool {
	return s.nc != nil && s.nc.IsConnected()
}

func (s *Server) health() *HealthOutput {
	peers := s.hub.Peers()
	out := &HealthOutput{
		Status:    "healthy",
		Hub:       s.cfg.COMMSName,
		Peers:     len(peers),
		COMMS:     s.commsConnected(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, p := range peers {
		if p.Confirmed {
			out.Confirmed++
		}
	}
	if !out.COMMS {
		out.Status = "unhealthy"
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.health()
	status := http.StatusOK
	if h.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleSurfaces(w http.ResponseWriter, _ *http.Request) {
	surfaces := s.hub.Surfaces()
	out := SurfacesOutput{FanOut: map[string][]string{}, PassThrough: surfaces.PassThrough()}
	for _, m := range surfaces.Methods() {
		out.FanOut[m] = surfaces.FanOut(m)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	params, ok := readParams(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	results, err := s.hub.Call(ctx, r.PathValue("method"), params)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleServer(w http.ResponseWriter, r *http.Request) {
	params, ok := readParams(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	result, err := s.hub.Server(ctx, r.PathValue("method"), params)
	if err != nil {
		writeCallError(w, err)
		return
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

func readParams(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: hub.NewHubError("INVALID_REQUEST", "failed to read body")})
		return nil, false
	}
	params, err := commsutil.DecodeParams(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: hub.NewHubError("INVALID_REQUEST", "body is not valid JSON")})
		return nil, false
	}
	return params, true
}

// writeCallError maps hub, RPC and context errors to HTTP statuses.
func writeCallError(w http.ResponseWriter, err error) {
	var hubErr *hub.HubError
	var rpcErr *jsonrpc.Error
	switch {
	case errors.As(err, &hubErr):
		status := http.StatusBadGateway
		switch hubErr.Code {
		case hub.CodeMethodNotFound:
			status = http.StatusNotFound
		case hub.CodeAmbiguousOwner:
			status = http.StatusConflict
		case hub.CodeClosed:
			status = http.StatusServiceUnavailable
		}
		body := map[string]interface{}{"code": hubErr.Code, "message": hubErr.Message}
		if len(hubErr.Peers) > 0 {
			body["peers"] = hubErr.Peers
		}
		if errors.As(hubErr.Err, &rpcErr) {
			body["rpc"] = rpcErr
		}
		writeJSON(w, status, errorBody{Error: body})
	case errors.As(err, &rpcErr):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: map[string]interface{}{"code": "RPC_ERROR", "message": rpcErr.Message, "rpc": rpcErr}})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: hub.NewHubError("TIMEOUT", "request timed out")})
	default:
		slog.Error(fmt.Sprintf("%s - unexpected call error: %v", handlersLogPrefix, err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: hub.NewHubError("INTERNAL", err.Error())})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - json encode: %v", handlersLogPrefix, err))
	}
}

// homePageTemplate is the HTML for the hub home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Capabilities Hub</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>{{.Health.Hub}}</h1>
  <p class="meta">Hub health, peers and call surfaces.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Peers: {{.Health.Peers}} ({{.Health.Confirmed}} confirmed)</p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Peers</h2>
    {{if not .Peers}}
    <p>No peers connected.</p>
    {{else}}
    <table>
      <thead><tr><th>Peer</th><th>Confirmed</th><th>Capabilities</th><th>Connected</th></tr></thead>
      <tbody>
        {{range .Peers}}
        <tr><td>{{.ID}}</td><td>{{.Confirmed}}</td><td>{{range .Capabilities}}{{.}} {{end}}</td><td>{{.ConnectedAt.Format "2006-01-02 15:04:05"}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>

  <section>
    <h2>Methods</h2>
    {{if not .Methods}}
    <p>No methods routable.</p>
    {{else}}
    <table>
      <thead><tr><th>Method</th><th>Peers</th><th>Owner</th></tr></thead>
      <tbody>
        {{range .Methods}}
        <tr><td>{{.Name}}</td><td>{{range .Peers}}{{.}} {{end}}</td><td>{{if .Owner}}{{.Owner}}{{else}}(fan-out only){{end}}</td></tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
  </section>
</body>
</html>
`

type homeMethod struct {
	Name  string
	Peers []string
	Owner string
}

type homeData struct {
	Health  *HealthOutput
	Peers   []hub.PeerInfo
	Methods []homeMethod
}

// handleHome returns an HTTP handler for the hub home page.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, _ *http.Request) {
		surfaces := s.hub.Surfaces()
		data := homeData{Health: s.health(), Peers: s.hub.Peers()}
		for _, m := range surfaces.Methods() {
			owner, _ := surfaces.Owner(m)
			data.Methods = append(data.Methods, homeMethod{Name: m, Peers: surfaces.FanOut(m), Owner: owner})
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", handlersLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
