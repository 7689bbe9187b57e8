package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/kanshi/internal/daemon"
	"github.com/harunnryd/kanshi/internal/transport"
)

// TransportComponent reports the configured notification transport in
// the daemon's health picture. The transport itself is stateless; this
// component only verifies it exists and names it in logs.
type TransportComponent struct {
	transport   transport.Transport
	initialized bool
}

func NewTransportComponent(tr transport.Transport) *TransportComponent {
	return &TransportComponent{transport: tr}
}

func (t *TransportComponent) Name() string {
	return "Transport"
}

func (t *TransportComponent) Dependencies() []string {
	return []string{}
}

func (t *TransportComponent) Init(ctx context.Context) error {
	if t.transport == nil {
		return fmt.Errorf("notification transport not configured")
	}
	t.initialized = true
	slog.Info("Transport initialized", "component", t.Name(), "transport", t.transport.Name())
	return nil
}

func (t *TransportComponent) Start(ctx context.Context) error {
	if !t.initialized {
		return fmt.Errorf("transport component not initialized")
	}
	return nil
}

func (t *TransportComponent) Stop(ctx context.Context) error {
	return nil
}

func (t *TransportComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if !t.initialized {
		return &daemon.ComponentHealth{Name: t.Name(), Healthy: false, Error: fmt.Errorf("not initialized")}, nil
	}
	return &daemon.ComponentHealth{Name: t.Name(), Healthy: true}, nil
}
