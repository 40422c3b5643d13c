package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Tyrowin/journal-realtime/internal/config"
)

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name     string
		allowed  []string
		allowAll bool
		origin   string
		want     bool
	}{
		{name: "listed origin", allowed: []string{"http://localhost:8080"}, origin: "http://localhost:8080", want: true},
		{name: "case and trailing path ignored", allowed: []string{"https://app.example.com/"}, origin: "HTTPS://App.Example.com", want: true},
		{name: "port must match", allowed: []string{"http://localhost:8080"}, origin: "http://localhost:3000", want: false},
		{name: "scheme must match", allowed: []string{"https://app.example.com"}, origin: "http://app.example.com", want: false},
		{name: "missing origin", allowed: []string{"https://app.example.com"}, origin: "", want: true},
		{name: "garbage origin", allowed: []string{"https://app.example.com"}, origin: "::nonsense", want: false},
		{name: "wildcard entry", allowed: []string{"*"}, origin: "https://anything.example", want: true},
		{name: "allow all flag", allowAll: true, origin: "https://anything.example", want: true},
		{name: "empty allow-list", origin: "https://app.example.com", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{AllowedOrigins: tt.allowed, AllowAllOrigins: tt.allowAll}
			p := newOriginPolicy(cfg, zap.NewNop())

			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, p.checkOrigin(r))
		})
	}
}
