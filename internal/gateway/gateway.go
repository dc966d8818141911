// ABOUTME: Gateway orchestrator that coordinates the HTTP and gRPC servers
// ABOUTME: Wires store, token codec, policy, recovery codes and mail into one lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/tsnet"

	"github.com/2389/huerto-gateway/internal/account"
	"github.com/2389/huerto-gateway/internal/auth"
	"github.com/2389/huerto-gateway/internal/config"
	"github.com/2389/huerto-gateway/internal/notify"
	"github.com/2389/huerto-gateway/internal/recovery"
	"github.com/2389/huerto-gateway/internal/store"
)

// Gateway orchestrates the huerto-gateway server components.
// It authenticates and authorizes every request, serves the account
// endpoints itself and forwards everything else to the upstream API.
type Gateway struct {
	config       *config.Config
	store        *store.SQLStore
	codes        recovery.CodeStore
	dispatcher   *notify.Dispatcher
	accounts     *account.Service
	codec        *auth.Codec
	authn        *auth.Authenticator
	policy       *auth.Policy
	grpcServer   *grpc.Server // nil when gRPC is disabled
	healthServer *health.Server
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger
	now          func() time.Time
}

// Option customizes a Gateway at construction.
type Option func(*options)

type options struct {
	sender notify.Sender
	now    func() time.Time
}

// WithSender replaces the mail sender chosen from configuration.
func WithSender(s notify.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithClock replaces time.Now for token, recovery and authentication checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// initStore opens the principal directory selected by config.
func initStore(ctx context.Context, cfg config.DatabaseConfig) (*store.SQLStore, error) {
	source := cfg.Path
	if store.Driver(cfg.Driver) == store.DriverPostgres {
		source = cfg.DSN
	}
	s, err := store.Open(ctx, store.Driver(cfg.Driver), source)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initCodes creates the recovery code store for the configured backend.
func initCodes(cfg config.RecoveryConfig, s *store.SQLStore, now func() time.Time, logger *slog.Logger) recovery.CodeStore {
	opts := recovery.Options{
		TTL:         cfg.CodeTTL,
		MaxAttempts: cfg.MaxAttempts,
		Now:         now,
	}
	if cfg.Backend == "database" {
		return recovery.NewSQLStore(s, opts, logger)
	}
	return recovery.NewMemoryStore(opts)
}

// initSender picks SMTP delivery when mail is enabled, log-only otherwise.
func initSender(cfg config.MailConfig, logger *slog.Logger) notify.Sender {
	if !cfg.Enabled {
		logger.Warn("mail disabled - recovery codes will not be delivered")
		return notify.LogSender{Logger: logger.With("component", "mail")}
	}
	return notify.NewSMTPSender(notify.SMTPConfig{
		Host:               cfg.Host,
		Port:               cfg.Port,
		Username:           cfg.Username,
		Password:           cfg.Password,
		From:               cfg.From,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
}

// createGRPCServer creates a gRPC server guarded by the auth interceptors
// and exposing the standard health service.
func createGRPCServer(authn *auth.Authenticator, policy *auth.Policy, hs *health.Server) *grpc.Server {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(authn.UnaryInterceptor(policy)),
		grpc.ChainStreamInterceptor(authn.StreamInterceptor(policy)),
	)
	healthpb.RegisterHealthServer(server, hs)
	return server
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	rules, err := cfg.Auth.PolicyRules()
	if err != nil {
		return nil, fmt.Errorf("building rules: %w", err)
	}
	policy, err := auth.NewPolicy(rules)
	if err != nil {
		return nil, fmt.Errorf("building policy: %w", err)
	}

	codec, err := auth.NewCodec([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token codec: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s, err := initStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	authn, err := auth.NewAuthenticator(auth.AuthenticatorConfig{
		Directory:    s,
		Tokens:       codec,
		PublicRoutes: cfg.Auth.PublicRoutes,
		Logger:       logger,
		Now:          o.now,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating authenticator: %w", err)
	}

	sender := o.sender
	if sender == nil {
		sender = initSender(cfg.Mail, logger)
	}
	dispatcher := notify.NewDispatcher(sender, notify.DispatcherConfig{}, logger.With("component", "mail"))
	codes := initCodes(cfg.Recovery, s, o.now, logger)

	accounts, err := account.NewService(account.Config{
		Directory: s,
		Tokens:    codec,
		Codes:     codes,
		Notifier:  dispatcher,
		Logger:    logger,
		Now:       o.now,
	})
	if err != nil {
		dispatcher.Close()
		_ = codes.Close()
		s.Close()
		return nil, fmt.Errorf("creating account service: %w", err)
	}

	gw := &Gateway{
		config:       cfg,
		store:        s,
		codes:        codes,
		dispatcher:   dispatcher,
		accounts:     accounts,
		codec:        codec,
		authn:        authn,
		policy:       policy,
		healthServer: health.NewServer(),
		logger:       logger.With("component", "gateway"),
		now:          o.now,
	}

	if cfg.Server.GRPCAddr != "" || cfg.Tailscale.Enabled {
		gw.grpcServer = createGRPCServer(authn, policy, gw.healthServer)
		logger.Info("gRPC auth interceptors enabled")
	}

	handler, err := gw.buildHandler()
	if err != nil {
		_ = gw.release()
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("authorization policy loaded", "rules", len(rules))
	return gw, nil
}

// handler returns the HTTP handler serving every gateway route.
func (g *Gateway) handler() http.Handler {
	return g.httpServer.Handler
}

// buildHandler assembles the HTTP chain:
// request id, access log, CORS, authentication, authorization, routes.
func (g *Gateway) buildHandler() (http.Handler, error) {
	proxy, err := newUpstreamProxy(g.config.Upstream, g.logger)
	if err != nil {
		return nil, err
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/usuario/login", g.handleLogin)
	api.HandleFunc("POST /api/usuario/recuperar-contrasenna", g.handleRequestRecovery)
	api.HandleFunc("PUT /api/usuario/actualizar-contrasenna", g.handleResetPassword)
	api.HandleFunc("GET /api/auth/me", g.handleMe)
	api.Handle("/", proxy)

	guarded := g.authn.Middleware(auth.Authorize(g.policy, g.logger)(api))

	mux := http.NewServeMux()
	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	mux.Handle("/", guarded)

	return requestID(accessLog(g.logger, newCORS(g.config.Server.CORS.AllowedOrigins)(mux))), nil
}

// shutdownTimeout bounds graceful shutdown once Run is told to stop.
const shutdownTimeout = 5 * time.Second

// Run binds the listeners, serves until ctx is canceled or a server fails,
// then shuts everything down. It returns nil after a clean stop.
func (g *Gateway) Run(ctx context.Context) error {
	ls, err := g.bind(ctx)
	if err != nil {
		_ = g.release()
		return err
	}

	grp, gctx := errgroup.WithContext(ctx)

	if ls.grpc != nil {
		g.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		grp.Go(func() error {
			g.logger.Info("gRPC server listening", "addr", ls.grpc.Addr().String())
			if err := g.grpcServer.Serve(ls.grpc); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	grp.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ls.http.Addr().String())
		if err := g.httpServer.Serve(ls.http); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			g.logger.Info("stop requested, shutting down")
		}
		// the run context is already done, so shutdown gets its own deadline
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return g.Shutdown(sctx)
	})

	return grp.Wait()
}

// stopGRPC drains in-flight calls, forcing a stop when ctx expires.
func (g *Gateway) stopGRPC(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.healthServer.Shutdown()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		g.grpcServer.GracefulStop()
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// Shutdown stops accepting traffic in the order HTTP, gRPC, tailnet, then
// flushes queued mail and closes the code store and directory.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	note := func(what string, err error) {
		if err = wrapClose(what, err); err != nil {
			errs = append(errs, err)
		}
	}

	note("http shutdown", g.httpServer.Shutdown(ctx))
	g.stopGRPC(ctx)
	if g.tsnetServer != nil {
		note("tailscale close", g.tsnetServer.Close())
	}

	if err := g.release(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// release flushes queued mail, then closes the code store and directory.
func (g *Gateway) release() error {
	g.dispatcher.Close()
	return errors.Join(
		wrapClose("recovery codes close", g.codes.Close()),
		wrapClose("store close", g.store.Close()),
	)
}

func wrapClose(what string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the principal directory answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("directory unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
