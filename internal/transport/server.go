package transport

import (
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"sync"

	log "github.com/cihub/seelog"

	"github.com/mandersen/brokerd/internal/codec"
	"github.com/mandersen/brokerd/internal/config"
)

// Handler is invoked once per accepted Connection, on every transport,
// before any message has been read from it. Callers register
// OnMessage/OnClose on the Connection before returning.
type Handler func(conn Connection)

// Server runs the acceptor loops: for each configured combination of
// {secure, insecure} x {TCP, WebSocket}, a listener hands freshly
// accepted Connections to Handler.
type Server struct {
	cfg         *config.Config
	maxFrameLen int
	handler     Handler

	mu        sync.Mutex
	listeners []net.Listener
	httpSrvs  []*http.Server
	wg        sync.WaitGroup
}

// NewServer constructs a Server bound to cfg. handler is called for
// every accepted connection across every enabled listener.
func NewServer(cfg *config.Config, handler Handler) *Server {
	return &Server{
		cfg:         cfg,
		maxFrameLen: cfg.MessagePayload.Payload.MaxLength + codec.MaxHeaderLength,
		handler:     handler,
	}
}

// Start brings up every listener enabled by configuration. An insecure
// listener (tcp/ws) only starts when AllowUnsecure is true; a secure
// listener (tls/wss) only starts when SSL material is configured.
func (s *Server) Start() error {
	tlsConfig, err := s.tlsConfig()
	if err != nil {
		return err
	}

	if s.cfg.Ports.TCP != 0 && s.cfg.AllowUnsecure {
		if err := s.startTCP(s.cfg.Ports.TCP, nil); err != nil {
			return err
		}
	}
	if s.cfg.Ports.TLS != 0 && tlsConfig != nil {
		if err := s.startTCP(s.cfg.Ports.TLS, tlsConfig); err != nil {
			return err
		}
	}
	if s.cfg.Ports.WS != 0 && s.cfg.AllowUnsecure {
		s.startWS(s.cfg.Ports.WS, nil)
	}
	if s.cfg.Ports.WSS != 0 && tlsConfig != nil {
		s.startWS(s.cfg.Ports.WSS, tlsConfig)
	}
	return nil
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	if s.cfg.SSL == nil {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(s.cfg.SSL.Cert, s.cfg.SSL.Key)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func (s *Server) startTCP(port int, tlsConfig *tls.Config) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
	var ln net.Listener
	var err error
	if tlsConfig != nil {
		ln, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptTCP(ln)
	return nil
}

func (s *Server) acceptTCP(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		tc := newTCPConnection(conn, s.maxFrameLen)
		s.handler(tc)
		go tc.readLoop()
	}
}

func (s *Server) startWS(port int, tlsConfig *tls.Config) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		wc, err := upgrade(w, r, s.maxFrameLen)
		if err != nil {
			log.Warnf("websocket upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}
		s.handler(wc)
		wc.readLoop()
	})

	srv := &http.Server{
		Addr:      net.JoinHostPort(s.cfg.Host, strconv.Itoa(port)),
		Handler:   mux,
		TLSConfig: tlsConfig,
	}
	s.mu.Lock()
	s.httpSrvs = append(s.httpSrvs, srv)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		if tlsConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Warnf("websocket listener on %s stopped: %v", srv.Addr, err)
		}
	}()
}

// Stop closes every listener and waits for the acceptor goroutines to
// return. It does not close already-accepted Connections; that is the
// Connection Manager's responsibility during broker shutdown.
func (s *Server) Stop() {
	s.mu.Lock()
	for _, ln := range s.listeners {
		ln.Close()
	}
	for _, srv := range s.httpSrvs {
		srv.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

