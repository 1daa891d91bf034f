// Dupwatch watches chat conversations for repeated messages, alerts
// operators about each duplicate and delivers their replies back into the
// conversation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/joho/godotenv"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/dupwatch/internal/access"
	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/authmw"
	dc "github.com/linnemanlabs/dupwatch/internal/cfg"
	"github.com/linnemanlabs/dupwatch/internal/clock"
	"github.com/linnemanlabs/dupwatch/internal/command"
	"github.com/linnemanlabs/dupwatch/internal/dedup"
	"github.com/linnemanlabs/dupwatch/internal/delivery"
	"github.com/linnemanlabs/dupwatch/internal/ingest"
	"github.com/linnemanlabs/dupwatch/internal/mcptools"
	"github.com/linnemanlabs/dupwatch/internal/notify"
	"github.com/linnemanlabs/dupwatch/internal/notify/slack"
	"github.com/linnemanlabs/dupwatch/internal/operatorapi"
	"github.com/linnemanlabs/dupwatch/internal/postgres"
	"github.com/linnemanlabs/dupwatch/internal/reply"
	"github.com/linnemanlabs/dupwatch/internal/schedule"
	"github.com/linnemanlabs/dupwatch/internal/store"
	"github.com/linnemanlabs/dupwatch/internal/store/memstore"
	"github.com/linnemanlabs/dupwatch/internal/store/pgstore"
	"github.com/linnemanlabs/dupwatch/internal/store/sqlitestore"
	"github.com/linnemanlabs/dupwatch/internal/task"
	"github.com/linnemanlabs/dupwatch/internal/transport"
	larkt "github.com/linnemanlabs/dupwatch/internal/transport/lark"
)

const appName = "dupwatch"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env only fills variables that are not already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: reading .env:", err)
	}

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    dc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cmdline first, env vars below never override flags that were set
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	cfg.FillFromEnv(flag.CommandLine, "DUPWATCH_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}
	tokens, err := appCfg.Tokens()
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"role", appCfg.Role,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"operators", len(appCfg.Operators()),
		"api_tokens", len(tokens),
		"notify_interval", appCfg.NotifyInterval.String(),
		"deliver_interval", appCfg.DeliverInterval.String(),
		"prune_interval", appCfg.PruneInterval.String(),
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"role":      appCfg.Role,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// link spans to profiles so a slow cycle can be opened as a flame graph
	if profErr == nil && profCfg.EnablePyroscope {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dupwatch_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "origin", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, origin, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, origin, outcome).Observe(dur.Seconds())
		},
	))

	st, err := openStore(ctx, &appCfg, L)
	if err != nil {
		return err
	}
	defer st.Close()

	pctx, pcancel := context.WithTimeout(ctx, 5*time.Second)
	err = st.Ping(pctx)
	pcancel()
	if err != nil {
		return fmt.Errorf("store ping: %w", err)
	}

	clk := clock.Real()

	registry := task.NewRegistry(st, clk, appCfg.TaskCacheTTL)
	taskSvc := task.NewService(st, registry, clk, L)
	if appCfg.TasksFile != "" {
		seed, err := task.LoadSeedFile(appCfg.TasksFile)
		if err != nil {
			return fmt.Errorf("tasks file: %w", err)
		}
		n, err := taskSvc.ApplySeed(ctx, seed)
		if err != nil {
			L.Error(ctx, err, "some seeded tasks were rejected", "tasks_file", appCfg.TasksFile)
		}
		L.Info(ctx, "tasks seeded", "tasks_file", appCfg.TasksFile, "created", n, "listed", len(seed))
	}

	engine := dedup.NewEngine(st, clk, L, dedup.NewMetrics(m.Registry()).Hooks(), 0)
	queue := alert.NewQueue(st, clk, L, alert.NewMetrics(m.Registry()).Hooks())
	checker := access.NewChecker(appCfg.Operators(), st)
	intake := reply.New(queue, checker, L)
	loopMetrics := schedule.NewMetrics(m.Registry())

	// every loop that sends backs off together when the platform pushes back
	gate := transport.NewGate(clk)

	g, gctx := errgroup.WithContext(ctx)

	if appCfg.Role != dc.RoleAPI {
		client := lark.NewClient(appCfg.LarkAppID, appCfg.LarkAppSecret)
		sender := larkt.NewSender(client.Im.Message, larkt.SenderConfig{
			Timeout:   appCfg.SendTimeout,
			RPS:       appCfg.SendRPS,
			MaxLength: appCfg.MaxMessageLength,
		}, larkt.NewMetrics(m.Registry()))

		if appCfg.Runs(dc.RoleIngest) {
			router := command.New(intake, queue, checker, sender, L, command.NewMetrics(m.Registry()))
			collector := ingest.New(registry, engine, queue, router, L, ingest.NewMetrics(m.Registry()))
			names := larkt.NewContactNames(client.Contact.User, appCfg.SendTimeout, L)
			feed := larkt.NewFeed(larkt.FeedConfig{
				AppID:     appCfg.LarkAppID,
				AppSecret: appCfg.LarkAppSecret,
			}, collector.Handle, names, clk, L)

			g.Go(func() error {
				return feed.Run(postgres.WithOrigin(gctx, "ingest"))
			})

			prune := schedule.New("prune", appCfg.PruneInterval, func(ctx context.Context) error {
				tasks, err := st.ListActiveTasks(ctx)
				if err != nil {
					return fmt.Errorf("list active tasks: %w", err)
				}
				n, err := engine.PruneAll(ctx, tasks)
				if n > 0 {
					log.FromContext(ctx).Info(ctx, "pruned message history", "tasks", len(tasks), "deleted", n)
				}
				return err
			}, clk, L, loopMetrics)
			g.Go(func() error { return prune.Run(postgres.WithOrigin(gctx, "prune")) })
		}

		if appCfg.Runs(dc.RoleNotify) {
			var sinks []notify.Sink
			if appCfg.SlackWebhookURL != "" {
				sinks = append(sinks, slack.New(appCfg.SlackWebhookURL))
				L.Info(ctx, "notify sink enabled", "type", "slack")
			}
			notifier := notify.New(queue, sender, checker, gate, notify.Config{
				BatchSize: appCfg.BatchSize,
				TextLimit: appCfg.SummaryTextLimit,
			}, L, notify.NewMetrics(m.Registry()), sinks...)
			loop := schedule.New("notify", appCfg.NotifyInterval, notifier.Cycle, clk, L, loopMetrics)
			g.Go(func() error { return loop.Run(postgres.WithOrigin(gctx, "notify")) })
		}

		if appCfg.Runs(dc.RoleDeliver) {
			deliverer := delivery.New(queue, sender, gate, appCfg.BatchSize, L, delivery.NewMetrics(m.Registry()))
			loop := schedule.New("deliver", appCfg.DeliverInterval, deliverer.Cycle, clk, L, loopMetrics)
			g.Go(func() error { return loop.Run(postgres.WithOrigin(gctx, "deliver")) })
		}
	}

	// readiness fails while draining
	var shutdownGate health.ShutdownGate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		if err := opsHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)

	// stash method and origin for DB query metrics labelling
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rctx := postgres.WithHTTPMethod(req.Context(), req.Method)
			rctx = postgres.WithOrigin(rctx, "api")
			next.ServeHTTP(w, req.WithContext(rctx))
		})
	})
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(1024 * 64))

	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	if appCfg.Runs(dc.RoleAPI) {
		auth := authmw.NewAuthenticator(tokens)

		api := operatorapi.New(L, taskSvc, queue, intake, checker, clk)
		api.RegisterRoutes(r, auth.Middleware)

		tools := mcptools.New(vi.Version, taskSvc, queue, intake, auth, L)
		r.With(auth.Middleware).Handle("/mcp", tools.Handler())
		r.With(auth.Middleware).Handle("/mcp/*", tools.Handler())

		if len(tokens) == 0 {
			L.Warn(ctx, "no api tokens configured, operator api will reject every request")
		}
	}

	// outermost wrapper sees the raw request first
	var h http.Handler = r
	h = httpmw.WithLogger(L)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = m.Middleware(h)
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(L, nil)(h)
	h = httpmw.SecurityHeaders(h)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		if err := apiHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// a loop returning an error (the feed losing its connection for good)
	// cancels gctx and brings the process down like a signal would
	<-gctx.Done()
	if ctx.Err() == nil {
		L.Warn(context.Background(), "worker exited, shutting down")
	} else {
		L.Info(context.Background(), "shutdown signal received")
	}

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// loops first so no cycle is mid-write when the store closes
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"loops", func(ctx context.Context) error {
			return waitGroup(ctx, g, engine)
		}},
		{"api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
	}
	if shutdownOtelx != nil {
		stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	var runErr error
	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
			if s.name == "loops" && !errors.Is(err, context.DeadlineExceeded) {
				runErr = err
			}
		}
		ccancel()
	}

	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")
	return runErr
}

// openStore picks the backend from configuration: PostgreSQL, then
// SQLite, then process memory.
func openStore(ctx context.Context, appCfg *dc.Config, L log.Logger) (store.Store, error) {
	switch {
	case appCfg.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL, postgres.PoolConfig{
			MaxConns: int32(appCfg.DBMaxConns), //nolint:gosec // bounded by config validation
		})
		if err != nil {
			return nil, fmt.Errorf("postgres pool: %w", err)
		}
		pg, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store", "max_conns", appCfg.DBMaxConns)
		return pg, nil

	case appCfg.SQLitePath != "":
		lite, err := sqlitestore.New(appCfg.SQLitePath, sqlitestore.Options{})
		if err != nil {
			return nil, fmt.Errorf("sqlite store init: %w", err)
		}
		L.Info(ctx, "using sqlite store", "path", appCfg.SQLitePath)
		return lite, nil

	default:
		L.Warn(ctx, "using in-memory store, state is lost on restart (no database-url or sqlite-path configured)")
		return memstore.New(), nil
	}
}

// waitGroup waits for the loops and any background prunes, or until ctx
// expires.
func waitGroup(ctx context.Context, g *errgroup.Group, engine *dedup.Engine) error {
	done := make(chan error, 1)
	go func() {
		err := g.Wait()
		engine.Wait()
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr comes from systemd, unixgram dial has no context variant
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
