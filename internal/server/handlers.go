// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, discovery, statistics, the internal publish API and the built-in
// test page.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Tyrowin/journal-realtime/internal/auth"
	"github.com/Tyrowin/journal-realtime/internal/protocol"
	"github.com/Tyrowin/journal-realtime/internal/publish"
)

const (
	wsPath            = "/ws"
	internalKeyHeader = "X-Internal-Key"
	maxInternalBody   = 1 << 20
)

// handleWebSocket upgrades the request. A token supplied at handshake time
// must be valid; otherwise the request is rejected before the upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.accepting() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	var identity *auth.Identity
	if token := auth.BearerToken(r); token != "" {
		id, err := s.verifier.Verify(token)
		if err != nil {
			s.log.Info("rejected websocket handshake", zap.String("remoteAddr", r.RemoteAddr), zap.Error(err))
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		identity = &id
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("websocket upgrade failed", zap.String("remoteAddr", r.RemoteAddr), zap.Error(err))
		return
	}

	s.serveClient(conn, r.RemoteAddr, identity)
}

// handleHealth provides a simple health check endpoint that returns server status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Journal realtime server is running!")
}

// handleInfo lets clients discover the socket path and subprotocol.
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, infoResponse{Path: wsPath, Protocol: protocol.Name})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"registry": s.registry.Stats(),
		"games":    s.games.Rooms(),
		"metrics":  s.metrics.GetAll(),
	})
}

func (s *Server) handlePublishMessage(w http.ResponseWriter, r *http.Request) {
	var req publishMessageRequest
	if !s.decode(w, r, &req) {
		return
	}

	journalID := mux.Vars(r)["journalId"]
	res, err := s.publisher.PublishMessage(r.Context(), journalID, req.SenderID, req.Message)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req publish.Notification
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.publisher.Notify(r.Context(), mux.Vars(r)["userId"], req)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, res)
}

// requireInternalKey guards the internal API with a shared key. The API is
// disabled while no key is configured.
func (s *Server) requireInternalKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := s.cfg.InternalAPIKey
		if want == "" {
			s.writeJSON(w, http.StatusForbidden, errorResponse{Error: "internal API disabled"})
			return
		}
		got := r.Header.Get(internalKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid internal key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInternalBody))
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, protocol.ErrMalformedPayload) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.log.Error("internal API request failed", zap.String("path", r.URL.Path), zap.Error(err))
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("writing JSON response", zap.Error(err))
	}
}

// handleTestPage serves an HTML page for poking at the socket from a browser:
// connect, send raw JSON events and watch what comes back.
func (s *Server) handleTestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.log.Debug("writing HTML response", zap.Error(err))
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Journal Realtime Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events { border: 1px solid #ccc; height: 320px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; font-family: monospace; }
        input[type="text"] { width: 420px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Journal Realtime Test</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="token" placeholder="JWT (optional)">
        <button onclick="toggleConnection()" id="connectButton">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="frame" value='{"type":"ping"}'>
        <button onclick="sendFrame()">Send</button>
    </div>
    <div id="events"></div>
    <script>
        let ws = null;
        const events = document.getElementById('events');
        const statusDiv = document.getElementById('status');

        function log(text, color) {
            const line = document.createElement('div');
            line.style.color = color || 'gray';
            line.textContent = text;
            events.appendChild(line);
            events.scrollTop = events.scrollHeight;
        }

        function setConnected(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
                return;
            }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const token = document.getElementById('token').value.trim();
            const query = token ? '?token=' + encodeURIComponent(token) : '';
            ws = new WebSocket(scheme + location.host + '/ws' + query, 'journal-chat');
            ws.onopen = () => setConnected(true);
            ws.onmessage = (event) => log('< ' + event.data, 'green');
            ws.onclose = () => { log('connection closed'); setConnected(false); ws = null; };
            ws.onerror = () => log('connection error', 'red');
        }

        function sendFrame() {
            const frame = document.getElementById('frame').value.trim();
            if (frame && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(frame);
                log('> ' + frame, 'blue');
            }
        }
    </script>
</body>
</html>`
