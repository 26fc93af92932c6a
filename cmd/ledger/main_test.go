package main

import (
	"testing"

	"github.com/boddenberg/pix-marketplace-ledger-go/internal/config"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/infra/memory"
	"github.com/boddenberg/pix-marketplace-ledger-go/internal/port"
)

func TestConsumedEventStore(t *testing.T) {
	durable := memory.NewEventStore()
	fast := memory.NewEventStore()

	tests := []struct {
		name    string
		backend string
		redis   port.WebhookEventStore
		want    port.WebhookEventStore
	}{
		{"postgres keeps its table", config.BackendPostgres, fast, durable},
		{"memory prefers redis", config.BackendMemory, fast, fast},
		{"no redis", config.BackendMemory, nil, durable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := consumedEventStore(tt.backend, durable, tt.redis); got != tt.want {
				t.Errorf("unexpected event store for %s", tt.name)
			}
		})
	}
}
