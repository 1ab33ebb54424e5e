package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/signalsfoundry/capacity-allocator/internal/config"
	"github.com/signalsfoundry/capacity-allocator/internal/engine"
	"github.com/signalsfoundry/capacity-allocator/internal/logging"
	"github.com/signalsfoundry/capacity-allocator/internal/observability"
	"github.com/signalsfoundry/capacity-allocator/internal/storage"
	"github.com/signalsfoundry/capacity-allocator/kb"
	"github.com/signalsfoundry/capacity-allocator/model"
	"github.com/signalsfoundry/capacity-allocator/timectrl"
	"go.opentelemetry.io/otel/trace"
)

func main() {
	scenarioPath := flag.String("scenario", "examples/scenarios/line.yaml", "Path to a YAML scenario")
	horizon := flag.Int64("horizon", 1000, "Last simulation tick at which an activity may end")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics; keeps the process alive after the run")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, runID := logging.EnsureRunID(context.Background())
	rt := config.RuntimeFromEnv()

	tcfg := observability.TracingConfigFromEnv()
	tcfg.Run = observability.RunInfo{
		Scenario:  *scenarioPath,
		RunID:     runID,
		RetryStep: int64(rt.RetryStep),
		Horizon:   *horizon,
	}
	tracing, err := observability.InitTracing(ctx, tcfg, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer tracing.Shutdown(ctx, log)

	collector, err := observability.NewAllocatorCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.String("error", err.Error()))
		os.Exit(1)
	}
	var metricsSrv *http.Server
	if *metricsAddr != "" {
		metricsSrv = serveMetrics(*metricsAddr, collector, log)
	}

	results, err := run(ctx, *scenarioPath, model.Ticks(*horizon), rt, log, collector, tracing.Provider)
	if err != nil {
		log.Error(ctx, "simulation failed", logging.String("error", err.Error()))
		os.Exit(1)
	}
	printResults(os.Stdout, results)

	if metricsSrv == nil {
		return
	}
	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-stopCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

// run loads the scenario, resets a fresh engine and places every activity.
// A nil collector or tracer provider falls back to no metrics and the global
// provider.
func run(ctx context.Context, path string, horizon model.Ticks, rt config.Runtime, log logging.Logger, collector *observability.AllocatorCollector, tp trace.TracerProvider) ([]placementResult, error) {
	store := kb.NewKnowledgeBase()
	sc, err := config.LoadScenario(path, store)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "scenario loaded",
		logging.String("path", path),
		logging.String("name", sc.Name),
		logging.Int("resources", len(sc.ResourceIDs)),
		logging.Int("storage_areas", len(sc.AreaIDs)),
		logging.Int("connectors", len(sc.ConnectorIDs)),
		logging.Int("activities", len(sc.Activities)),
	)

	clock := timectrl.NewTimeController(model.MinTicks)
	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithClock(clock),
		engine.WithDebugValidation(rt.DebugValidation),
		engine.WithEligibility(storage.LotEligible),
		engine.WithTracerProvider(tp),
	}
	if collector != nil {
		opts = append(opts, engine.WithMetricsRecorder(collector))
	}
	eng := engine.New(opts...)
	defer eng.Close()

	ctx, _ = logging.EnsureRunID(ctx)
	if err := eng.ResetSimulationStateVariables(ctx, store); err != nil {
		return nil, err
	}

	var gauge pendingGauge
	if collector != nil {
		gauge = collector
	}
	d := newDriver(eng, clock, rt.RetryStep, horizon, log.With(logging.String("run_id", eng.RunID())), gauge)
	return d.Run(ctx, sc.Activities)
}

func printResults(w io.Writer, results []placementResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTIVITY\tPLACED\tSTART\tEND\tATTEMPTS\tLAST REJECTION")
	for _, r := range results {
		start, end := "-", "-"
		if r.Placed {
			start, end = fmt.Sprint(r.Start), fmt.Sprint(r.End)
		}
		reason := r.LastReason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(tw, "%s\t%v\t%s\t%s\t%d\t%s\n", r.ActivityID, r.Placed, start, end, r.Attempts, reason)
	}
	_ = tw.Flush()
}

func serveMetrics(addr string, collector *observability.AllocatorCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
