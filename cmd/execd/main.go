package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"goa.design/clue/debug"
	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"

	"goa.design/atomexec/control"
	"goa.design/atomexec/execsvc"
	"goa.design/atomexec/execsvc/notify"
	execution "goa.design/atomexec/gen/execution"
	server "goa.design/atomexec/gen/execution/http"
)

func main() {
	var (
		configF = flag.String("config", "", "path to a YAML configuration file; defaults are used when omitted")
		envF    = flag.String("env-file", ".env", "optional .env file loaded before configuration; missing file is not an error")
		dbgF    = flag.Bool("debug", false, "log request and response bodies")
	)
	flag.Parse()

	if err := godotenv.Load(*envF); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "execd: load %s: %v\n", *envF, err)
	}

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := LoadConfig(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "load configuration")
	}

	deps, err := wireDependencies(ctx, cfg)
	if err != nil {
		log.Fatalf(ctx, err, "wire dependencies")
	}
	defer deps.Close()

	execSvc, err := execsvc.New(execsvc.Options{
		WaveExecutor:             deps.WaveExecutor,
		Engine:                   deps.Engine,
		RunLog:                   deps.RunLog,
		Notifier:                 deps.Notifier,
		Metrics:                  deps.Metrics,
		Logger:                   deps.Logger,
		CostPerThousandTokensUSD: cfg.CostPerThousandTokensUSD,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build execution service")
	}

	if deps.Worker != nil {
		if err := deps.Worker.Start(); err != nil {
			log.Fatalf(ctx, err, "start temporal worker")
		}
		defer deps.Worker.Stop()
	}

	if deps.ProgressMap != nil {
		knownRunIDs := func() []string {
			states := execSvc.ListExecutions("")
			ids := make([]string, len(states))
			for i, st := range states {
				ids[i] = st.RunID
			}
			return ids
		}
		onUpdate := func(runID string, progress execsvc.ExecutionProgress) {
			log.Debugf(ctx, "progress update: run %s at wave %d/%d", runID, progress.CurrentWave, progress.TotalWaves)
		}
		sub := notify.NewSubscriber(deps.ProgressMap, knownRunIDs, onUpdate)
		go sub.Start(ctx)
	}

	svc := control.New(execSvc)
	endpoints := execution.NewEndpoints(svc)
	endpoints.Use(debug.LogPayloads())
	endpoints.Use(log.Endpoint)

	var mux goahttp.Muxer = goahttp.NewMuxer()
	if *dbgF {
		debug.MountPprofHandlers(debug.Adapt(mux))
		debug.MountDebugLogEnabler(debug.Adapt(mux))
	}

	eh := func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf(ctx, "ERROR: %s %s: %v", r.Method, r.URL.Path, err)
	}
	srv := server.New(endpoints, mux, eh)
	server.Mount(mux, srv)
	for _, m := range srv.Mounts {
		log.Printf(ctx, "HTTP %q mounted on %s %s", m.Method, m.Verb, m.Pattern)
	}

	var handler http.Handler = mux
	if *dbgF {
		handler = debug.HTTP()(handler)
	}
	handler = log.HTTP(ctx)(handler)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	go func() {
		log.Printf(ctx, "HTTP server listening on %q", cfg.HTTPAddr)
		errc <- httpSrv.ListenAndServe()
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf(ctx, "failed to shutdown cleanly: %v", err)
	}
}
