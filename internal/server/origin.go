// Package server validates the Origin of WebSocket handshakes against the
// configured allow-list.
package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Tyrowin/journal-realtime/internal/config"
)

type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	log      *zap.Logger
}

func newOriginPolicy(cfg *config.Config, log *zap.Logger) *originPolicy {
	origins, allowAll := config.NormalizeOrigins(cfg.AllowedOrigins)
	p := &originPolicy{
		allowAll: allowAll || cfg.AllowAllOrigins,
		allowed:  make(map[string]struct{}, len(origins)),
		log:      log,
	}
	for _, origin := range origins {
		p.allowed[origin] = struct{}{}
	}
	return p
}

// isAllowed accepts handshakes without an Origin header: browsers always send
// one, native mobile clients do not.
func (p *originPolicy) isAllowed(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return true
	}
	if p.allowAll {
		return true
	}

	normalizedOrigin, ok := config.NormalizeOrigin(originHeader)
	if !ok {
		return false
	}
	_, exists := p.allowed[normalizedOrigin]
	return exists
}

func (p *originPolicy) checkOrigin(r *http.Request) bool {
	if p.isAllowed(r) {
		return true
	}

	p.log.Warn("blocked websocket connection from disallowed origin", zap.String("origin", r.Header.Get("Origin")))
	return false
}
