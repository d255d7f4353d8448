package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"braces.dev/errtrace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ghettovoice/sipengine/dns"
	"github.com/ghettovoice/sipengine/sip"
)

// nonces older than this are answered with a stale challenge
const nonceLifetime = 5 * time.Minute

type config struct {
	configFile string
	udpAddr    string
	tcpAddr    string
	httpAddr   string
	realm      string
	accounts   map[string]string
	methods    []string
	registrar  string
	user       string
	password   string
	logger     *slog.Logger
}

type agent struct {
	cfg *config
	eng *sip.Engine
	log *slog.Logger

	mu      sync.Mutex
	dialogs []*sip.Dialog
}

// defaultMethods are accepted when neither the flags nor the config file list any.
var defaultMethods = []string{
	sip.MethodInvite,
	sip.MethodAck,
	sip.MethodBye,
	sip.MethodCancel,
	sip.MethodOptions,
	sip.MethodRegister,
}

// engineOptions builds the engine options from the config file and the flags.
func engineOptions(cfg *config) (*sip.EngineOptions, error) {
	opts := new(sip.EngineOptions)
	if cfg.configFile != "" {
		ecfg, err := sip.LoadEngineConfig(cfg.configFile)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		opts = ecfg.Options()
	}
	opts.AllowedMethods = append(opts.AllowedMethods, cfg.methods...)
	if len(opts.AllowedMethods) == 0 {
		opts.AllowedMethods = slices.Clone(defaultMethods)
	}
	opts.Logger = cfg.logger
	if len(cfg.accounts) > 0 {
		opts.Credentials = func(_ context.Context, user, _ string, _ sip.Message) (string, bool) {
			pass, ok := cfg.accounts[user]
			return pass, ok
		}
	}
	return opts, nil
}

func run(ctx context.Context, cfg *config) error {
	opts, err := engineOptions(cfg)
	if err != nil {
		return errtrace.Wrap(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := sip.NewMetrics(reg)
	if err != nil {
		return errtrace.Wrap(err)
	}
	opts.Metrics = metrics

	a := &agent{
		cfg: cfg,
		eng: sip.NewEngine(opts),
		log: cfg.logger,
	}
	defer a.eng.Close()
	unbind := a.eng.OnEvent(a.handle)
	defer unbind()

	pc, err := net.ListenPacket("udp", cfg.udpAddr)
	if err != nil {
		return errtrace.Wrap(err)
	}
	a.log.LogAttrs(ctx, slog.LevelInfo, "listening", slog.String("proto", "UDP"), slog.Any("addr", pc.LocalAddr()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return errtrace.Wrap(a.eng.Run(gctx)) })
	g.Go(func() error {
		if err := a.eng.ServePacket(gctx, pc); err != nil && !errors.Is(err, sip.ErrTransportClosed) {
			return errtrace.Wrap(err)
		}
		return nil
	})
	if cfg.tcpAddr != "" {
		ln, err := net.Listen("tcp", cfg.tcpAddr)
		if err != nil {
			pc.Close()
			return errtrace.Wrap(err)
		}
		a.log.LogAttrs(ctx, slog.LevelInfo, "listening", slog.String("proto", "TCP"), slog.Any("addr", ln.Addr()))
		g.Go(func() error { return errtrace.Wrap(a.serveTCP(gctx, ln)) })
	}
	if cfg.httpAddr != "" {
		srv := &http.Server{
			Addr:              cfg.httpAddr,
			Handler:           a.httpHandler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		context.AfterFunc(gctx, func() { srv.Shutdown(context.Background()) })
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errtrace.Wrap(err)
			}
			return nil
		})
	}
	if cfg.registrar != "" {
		if err := a.register(gctx, pc); err != nil {
			a.log.LogAttrs(ctx, slog.LevelError, "registration not sent",
				slog.String("registrar", cfg.registrar),
				slog.Any("error", err),
			)
		}
	}
	return errtrace.Wrap(g.Wait())
}

func (a *agent) serveTCP(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errtrace.Wrap(err)
		}
		go func() {
			defer conn.Close()
			if err := a.eng.ServeConn(ctx, conn); err != nil && !errors.Is(err, sip.ErrTransportClosed) {
				a.log.LogAttrs(ctx, slog.LevelDebug, "connection closed",
					slog.Any("remote", conn.RemoteAddr()),
					slog.Any("error", err),
				)
			}
		}()
	}
}

// handle answers fresh requests and reports final answers to own requests.
func (a *agent) handle(ctx context.Context, ev *sip.Event) bool {
	tx := ev.Transaction()
	msg := ev.Message()
	if tx.IsOutgoing() {
		if ev.IsIncoming() && msg.IsAnswer() && msg.Code() >= 200 {
			a.log.LogAttrs(ctx, slog.LevelInfo, "request answered",
				slog.String("method", tx.Method()),
				slog.String("uri", tx.URI()),
				slog.Int("code", msg.Code()),
				slog.String("reason", msg.Reason()),
			)
		}
		return false
	}
	if !ev.IsIncoming() || ev.State() != sip.TransactionTrying || msg.IsACK() {
		return false
	}

	if a.cfg.realm != "" {
		user, age, ok := a.eng.AuthUser(ctx, msg, false)
		switch {
		case !ok:
			return tx.RequestAuth(a.cfg.realm, "", false, false)
		case age > nonceLifetime:
			return tx.RequestAuth(a.cfg.realm, "", true, false)
		}
		a.log.LogAttrs(ctx, slog.LevelDebug, "request authenticated",
			slog.String("method", msg.Method()),
			slog.String("user", user),
		)
	}
	switch msg.Method() {
	case sip.MethodBye:
		if !a.endDialog(sip.NewDialog(msg)) {
			return tx.SetResponseCode(sip.StatusCallTransactionDoesNotExist, "")
		}
	case sip.MethodInvite:
		if !tx.SetResponseCode(sip.StatusOK, "") {
			return false
		}
		d := tx.Dialog()
		a.mu.Lock()
		a.dialogs = append(a.dialogs, d)
		a.mu.Unlock()
		a.log.LogAttrs(ctx, slog.LevelInfo, "dialog established", slog.Any("dialog", d))
		return true
	}
	return tx.SetResponseCode(sip.StatusOK, "")
}

// endDialog forgets the established dialog matching d.
func (a *agent) endDialog(d *sip.Dialog) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, known := range a.dialogs {
		if known.Matches(d, true) {
			a.dialogs = slices.Delete(a.dialogs, i, i+1)
			a.log.LogAttrs(context.Background(), slog.LevelInfo, "dialog ended", slog.Any("dialog", known))
			return true
		}
	}
	return false
}

// register sends a REGISTER for the configured user through the UDP socket.
// The challenge of the registrar is answered by the engine.
func (a *agent) register(ctx context.Context, pc net.PacketConn) error {
	host := strings.TrimPrefix(strings.TrimPrefix(a.cfg.registrar, "sips:"), "sip:")
	host, _, _ = strings.Cut(host, ";")
	if i := strings.LastIndexByte(host, '@'); i >= 0 {
		host = host[i+1:]
	}

	var target netip.AddrPort
	for ap := range sip.ResolveTarget(ctx, dns.DefaultResolver(), host, "UDP") {
		target = ap
		break
	}
	if !target.IsValid() {
		return errtrace.Wrap(errors.New("registrar address not resolved"))
	}

	user := a.cfg.user
	if user == "" {
		user = "sipecho"
	}
	aor := "<sip:" + user + "@" + host + ">"
	req := sip.NewRequest(sip.MethodRegister, a.cfg.registrar)
	req.AddHeader("To", aor)
	req.AddHeader("From", aor)
	req.AddHeader("Expires", "3600")
	if a.cfg.password != "" {
		req.SetCredentials(user, a.cfg.password)
	}
	req.SetParty(sip.NewLogParty(sip.NewPacketParty(pc, target), a.log, slog.LevelDebug))
	if a.eng.AddMessage(req) == nil {
		return errtrace.Wrap(errors.New("engine refused the request"))
	}
	a.log.LogAttrs(ctx, slog.LevelInfo, "registering",
		slog.String("registrar", a.cfg.registrar),
		slog.String("target", target.String()),
	)
	return nil
}

func (a *agent) httpHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, a.eng.Metrics().Report())
	})
	mux.HandleFunc("GET /transactions", func(w http.ResponseWriter, _ *http.Request) {
		txs := a.eng.Transactions()
		snaps := make([]sip.TransactionSnapshot, 0, len(txs))
		for _, tx := range txs {
			snaps = append(snaps, tx.Snapshot())
		}
		writeJSON(w, snaps)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
