package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/mediaswitch/tsswitch/internal/config"
	"github.com/mediaswitch/tsswitch/internal/fetch"
	"github.com/mediaswitch/tsswitch/internal/hlsinput"
	"github.com/mediaswitch/tsswitch/internal/ioplugin"
	"github.com/mediaswitch/tsswitch/internal/observability"
	"github.com/mediaswitch/tsswitch/internal/switchengine"
	"github.com/mediaswitch/tsswitch/internal/version"
	"github.com/mediaswitch/tsswitch/pkg/duration"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the switch engine",
	Long: `Start tsswitch: build the configured input plugins, start the
Core state machine, and drain the current input into the configured
output until termination is requested.

Examples:
  tsswitch serve --input hls:https://example.com/live.m3u8 \
                  --input udp:239.1.1.1:5000 \
                  --output udp:192.168.1.50:5004 \
                  --fast-switch

  TSSWITCH_SWITCH_REMOTE_ADDR=:9100 tsswitch serve --config tsswitch.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringSlice("input", nil, `input plugin, repeatable ("hls:URL", "udp:ADDR", "file:PATH")`)
	serveCmd.Flags().String("output", "", `output plugin ("udp:ADDR" or "file:PATH")`)
	serveCmd.Flags().Int("first-input", -1, "index of the input started first")
	serveCmd.Flags().Int("primary-input", -1, "index of the pre-empting primary input (-1 = none)")
	serveCmd.Flags().Int("cycle-count", -1, "number of full input cycles before stopping (0 = unlimited)")
	serveCmd.Flags().Bool("terminate", false, "stop after a single pass through all inputs")
	serveCmd.Flags().Bool("fast-switch", false, "use the fast switching strategy")
	serveCmd.Flags().Bool("delayed-switch", false, "use the delayed switching strategy")
	serveCmd.Flags().Int("buffered-packets", -1, "packet ring capacity per input")
	serveCmd.Flags().Int("max-input-packets", -1, "max packets offered to one input plugin per receive")
	serveCmd.Flags().String("receive-timeout", "", `watchdog receive timeout (e.g. "5s", "500ms")`)
	serveCmd.Flags().String("remote-addr", "", "address for the remote-control TCP listener (empty disables it)")
	serveCmd.Flags().String("metrics-addr", "", "address for the /metrics and /healthz HTTP server (empty disables it)")

	_ = appViper.BindPFlag("switch.first_input", serveCmd.Flags().Lookup("first-input"))
	_ = appViper.BindPFlag("switch.primary_input", serveCmd.Flags().Lookup("primary-input"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := slog.Default()
	log.Info("tsswitch starting", slog.String("version", version.Short()))

	v := AppViper()

	inputs, _ := cmd.Flags().GetStringSlice("input")
	if len(inputs) == 0 {
		inputs = v.GetStringSlice("switch.inputs")
	}
	if len(inputs) == 0 {
		return fmt.Errorf("at least one --input is required")
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = v.GetString("switch.output")
	}
	if output == "" {
		return fmt.Errorf("--output is required")
	}

	firstInput := intFlagOr(cmd, "first-input", v.GetInt("switch.first_input"), -1)
	if firstInput < 0 {
		firstInput = 0
	}
	primaryInput := intFlagOr(cmd, "primary-input", v.GetInt("switch.primary_input"), -1)
	cycleCount := intFlagOr(cmd, "cycle-count", v.GetInt("switch.cycle_count"), -1)
	if cycleCount < 0 {
		cycleCount = 0
	}
	terminate, _ := cmd.Flags().GetBool("terminate")
	if !terminate {
		terminate = v.GetBool("switch.terminate")
	}
	if terminate && cycleCount == 0 {
		cycleCount = 1
	}

	fastSwitch, _ := cmd.Flags().GetBool("fast-switch")
	delayedSwitch, _ := cmd.Flags().GetBool("delayed-switch")
	if !fastSwitch {
		fastSwitch = v.GetBool("switch.fast_switch")
	}
	if !delayedSwitch {
		delayedSwitch = v.GetBool("switch.delayed_switch")
	}
	if fastSwitch && delayedSwitch {
		return fmt.Errorf("--fast-switch and --delayed-switch are mutually exclusive")
	}
	strategy := switchengine.Sequential
	switch {
	case fastSwitch:
		strategy = switchengine.Fast
	case delayedSwitch:
		strategy = switchengine.Delayed
	}

	bufferedPackets := intFlagOr(cmd, "buffered-packets", v.GetInt("switch.buffered_packets"), 512)
	maxInputPackets := intFlagOr(cmd, "max-input-packets", v.GetInt("switch.max_input_packets"), 32)

	receiveTimeout := v.GetDuration("switch.receive_timeout")
	if s, _ := cmd.Flags().GetString("receive-timeout"); s != "" {
		d, err := duration.Parse(s)
		if err != nil {
			return fmt.Errorf("parsing --receive-timeout: %w", err)
		}
		receiveTimeout = d
	}
	if receiveTimeout == 0 {
		receiveTimeout = 5 * time.Second
	}

	remoteAddr, _ := cmd.Flags().GetString("remote-addr")
	if remoteAddr == "" {
		remoteAddr = v.GetString("switch.remote_addr")
	}
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	if metricsAddr == "" {
		metricsAddr = v.GetString("metrics.addr")
	}

	metrics := observability.New()
	report := switchengine.NewReport(log)

	var hlsCfg config.HLSConfig
	if err := v.UnmarshalKey("hls", &hlsCfg); err != nil {
		return fmt.Errorf("unmarshaling hls config: %w", err)
	}

	executors := make([]*switchengine.InputExecutor, 0, len(inputs))
	var fetchers []fetch.Fetcher
	for i, spec := range inputs {
		plugin, closer, err := buildInputPlugin(i, spec, hlsCfg, log, metrics)
		if err != nil {
			return fmt.Errorf("building input %d (%s): %w", i, spec, err)
		}
		if closer != nil {
			fetchers = append(fetchers, closer)
		}
		ring := switchengine.NewPacketRing(bufferedPackets)
		executors = append(executors, switchengine.NewInputExecutor(i, plugin, ring, nil, maxInputPackets, report))
	}
	defer func() {
		for _, f := range fetchers {
			_ = f.Close()
		}
	}()

	outputPlugin, err := buildOutputPlugin(output, log)
	if err != nil {
		return fmt.Errorf("building output: %w", err)
	}

	core := switchengine.NewCore(executors, outputPlugin, switchengine.CoreOptions{
		Strategy:       strategy,
		FirstInput:     firstInput,
		PrimaryInput:   primaryInput,
		CycleCount:     cycleCount,
		ReceiveTimeout: receiveTimeout,
		Report:         report,
		Metrics:        metrics,
	})
	for _, e := range executors {
		e.SetCore(core)
	}

	outputExecutor := switchengine.NewOutputExecutor(core, outputPlugin, report)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metricsAddr != "" {
		startMetricsServer(ctx, metricsAddr, metrics, executors, log)
	}

	var remote *switchengine.RemoteListener
	if remoteAddr != "" {
		remote = switchengine.NewRemoteListener(core, report)
		go func() {
			if err := remote.Serve(ctx, remoteAddr); err != nil {
				log.Error("remote control listener stopped", slog.String("error", err.Error()))
			}
		}()
	}

	log.Info("switch engine configured",
		slog.Int("inputs", len(executors)),
		slog.String("strategy", strategy.String()),
		slog.Int("first_input", firstInput),
		slog.Int("primary_input", primaryInput),
		slog.Int("cycle_count", cycleCount),
		slog.String("receive_timeout", duration.Format(receiveTimeout)),
	)

	if !core.Start() {
		return fmt.Errorf("core failed to start")
	}
	go outputExecutor.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		core.WaitForTermination()
		close(done)
	}()

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", slog.String("signal", sig.String()))
		core.Stop(true)
		<-done
	case <-done:
		log.Info("switch engine terminated")
	}

	if remote != nil {
		_ = remote.Close()
	}
	cancel()
	return nil
}

func intFlagOr(cmd *cobra.Command, name string, fallback int, sentinel int) int {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetInt(name)
		return v
	}
	if fallback != sentinel {
		return fallback
	}
	return sentinel
}

// buildInputPlugin parses one --input spec ("type:rest") into a concrete
// switchengine.InputPlugin. HLS inputs also return their Fetcher so it can
// be closed on shutdown; other types return a nil closer.
func buildInputPlugin(index int, spec string, hlsCfg config.HLSConfig, log *slog.Logger, metrics *observability.Metrics) (switchengine.InputPlugin, fetch.Fetcher, error) {
	kind, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, nil, fmt.Errorf("expected TYPE:SPEC, got %q", spec)
	}
	inputLog := observability.WithComponent(log, fmt.Sprintf("input.%d.%s", index, kind))

	switch kind {
	case "hls":
		fetcherCfg := fetch.DefaultConfig()
		fetcherCfg.CookieFilePath = hlsCfg.CookieFilePath
		fetcher, err := fetch.NewHTTPFetcher(fetcherCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("building HLS fetcher: %w", err)
		}
		hi := hlsinput.NewHlsInput(hlsinput.Config{
			URL:               rest,
			ListVariants:      hlsCfg.ListVariants,
			LowestBitRate:     hlsCfg.LowestBitRate,
			HighestBitRate:    hlsCfg.HighestBitRate,
			LowestResolution:  hlsCfg.LowestResolution,
			HighestResolution: hlsCfg.HighestResolution,
			MinBitRate:        hlsCfg.MinBitRate,
			MaxBitRate:        hlsCfg.MaxBitRate,
			MinWidth:          hlsCfg.MinWidth,
			MaxWidth:          hlsCfg.MaxWidth,
			MinHeight:         hlsCfg.MinHeight,
			MaxHeight:         hlsCfg.MaxHeight,
			StartSegment:      hlsCfg.StartSegment,
			MaxSegmentCount:   hlsCfg.MaxSegmentCount,
		}, fetcher, inputLog)
		hi.SetMetrics(metrics)
		if hlsCfg.SaveFilesDir != "" {
			hi.SetSaveFiles(hlsinput.NewSaveFiles(nil, hlsCfg.SaveFilesDir, int64(hlsCfg.SaveFilesMaxBytes), inputLog))
		}
		return hi, fetcher, nil
	case "udp":
		return ioplugin.NewUDPInput(ioplugin.UDPInputConfig{ListenAddr: rest}, inputLog), nil, nil
	case "file":
		return ioplugin.NewFileInput(ioplugin.FileInputConfig{Path: rest}, inputLog), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown input type %q", kind)
	}
}

func buildOutputPlugin(spec string, log *slog.Logger) (switchengine.OutputPlugin, error) {
	kind, rest, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fmt.Errorf("expected TYPE:SPEC, got %q", spec)
	}
	outputLog := observability.WithComponent(log, "output."+kind)

	switch kind {
	case "udp":
		return ioplugin.NewUDPOutput(ioplugin.UDPOutputConfig{DestAddr: rest}, outputLog), nil
	case "file":
		return ioplugin.NewFileOutput(ioplugin.FileOutputConfig{Path: rest, Truncate: true}, outputLog), nil
	default:
		return nil, fmt.Errorf("unknown output type %q", kind)
	}
}

// startMetricsServer mounts a chi router serving /metrics (Prometheus
// exposition) and /healthz, and runs it in the background until ctx is
// cancelled.
func startMetricsServer(ctx context.Context, addr string, metrics *observability.Metrics, executors []*switchengine.InputExecutor, log *slog.Logger) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler(func() {
			for _, e := range executors {
				metrics.SetInputPackets(e.Index(), e.Stats().PacketsReceived)
			}
		}).ServeHTTP(w, r)
	})

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("metrics server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
}
