// Package broker assembles the monitoring registry, subscription
// manager, message router, service registry, connection manager, and
// transport servers into one running broker, and tears them down again
// in reverse order on shutdown.
package broker

import (
	"time"

	log "github.com/cihub/seelog"

	"github.com/mandersen/brokerd/internal/codec"
	"github.com/mandersen/brokerd/internal/config"
	"github.com/mandersen/brokerd/internal/connmgr"
	"github.com/mandersen/brokerd/internal/logging"
	"github.com/mandersen/brokerd/internal/monitoring"
	"github.com/mandersen/brokerd/internal/router"
	"github.com/mandersen/brokerd/internal/service"
	"github.com/mandersen/brokerd/internal/subscription"
	"github.com/mandersen/brokerd/internal/transport"
)

// Broker holds every assembled component and the transport acceptors
// bound to them.
type Broker struct {
	cfg *config.Config

	Monitor    *monitoring.Manager
	Subs       *subscription.Manager
	Router     *router.Router
	Registry   *service.Registry
	ConnMgr    *connmgr.Manager
	LogHub     *logging.Hub
	transports *transport.Server
}

// New assembles a Broker from cfg: monitoring, subscription manager,
// message router, service registry, connection manager, then transport
// servers — with the registry and router's connection-manager
// back-references wired immediately after the connection manager is
// constructed.
func New(cfg *config.Config) (*Broker, error) {
	monitor := monitoring.New()
	subs := subscription.New()
	logHub := logging.NewHub()

	limits := router.Limits{
		DefaultTimeout:          time.Duration(cfg.RequestResponseConf.Timeout.DefaultMs) * time.Millisecond,
		MaxTimeout:              time.Duration(cfg.RequestResponseConf.Timeout.MaxMs) * time.Millisecond,
		MaxOutstandingPerOrigin: cfg.MaxOutstandingRequests,
		GlobalPerService:        cfg.RateLimitConf.GlobalPerService,
		GlobalPerTopic:          cfg.RateLimitConf.GlobalPerTopic,
		TopicPerService:         cfg.RateLimitConf.TopicPerService,
	}
	rt := router.New(subs, monitor, limits)

	registry := service.New(subs, monitor, logHub,
		time.Duration(cfg.ConnectionConf.HeartbeatRetryTimeoutMs)*time.Millisecond,
		time.Duration(cfg.ConnectionConf.HeartbeatDeregisterTimeoutMs)*time.Millisecond)

	cm := connmgr.New(registry, rt, monitor, cfg.MessagePayload.Payload.MaxLength, cfg.ConnectionConf.MaxConcurrent)

	// The registry and router were built before the connection manager
	// exists, so they receive it now.
	registry.SetConnectionManager(cm)
	rt.SetConnectionManager(cm)
	logHub.Deliver = func(serviceID, level, message string) {
		h := &codec.Header{Action: codec.ActionPublish, Topic: "system.log", Version: "1.0.0"}
		_ = cm.SendMessage(serviceID, h, map[string]any{"level": level, "message": message})
	}

	srv := transport.NewServer(cfg, cm.AddConnection)

	b := &Broker{
		cfg:        cfg,
		Monitor:    monitor,
		Subs:       subs,
		Router:     rt,
		Registry:   registry,
		ConnMgr:    cm,
		LogHub:     logHub,
		transports: srv,
	}
	return b, nil
}

// Start brings up every configured transport listener. Components
// built by New are already live; Start only opens sockets.
func (b *Broker) Start() error {
	if err := b.transports.Start(); err != nil {
		return err
	}
	log.Infof("broker listening on %s (tcp=%d tls=%d ws=%d wss=%d)",
		b.cfg.Host, b.cfg.Ports.TCP, b.cfg.Ports.TLS, b.cfg.Ports.WS, b.cfg.Ports.WSS)
	return nil
}

// Shutdown tears down every component in reverse assembly order:
// transport servers, then the connection manager (closing every live
// connection), then the router and monitoring manager.
func (b *Broker) Shutdown() {
	log.Info("broker shutting down")
	b.transports.Stop()
	b.ConnMgr.Dispose()
	b.Router.Dispose()
	b.Monitor.Dispose()
}
