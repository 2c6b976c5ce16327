// Package cmd implements the tshlsinput command.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/mediaswitch/tsswitch/internal/config"
	"github.com/mediaswitch/tsswitch/internal/fetch"
	"github.com/mediaswitch/tsswitch/internal/hlsinput"
	"github.com/mediaswitch/tsswitch/internal/observability"
	"github.com/mediaswitch/tsswitch/internal/switchengine"
	"github.com/mediaswitch/tsswitch/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "tshlsinput URL",
	Short:   "Stream one HLS playlist's segments to stdout as a raw transport stream",
	Version: version.Short(),
	Args:    cobra.ExactArgs(1),
	Long: `tshlsinput resolves URL to a media playlist (selecting a variant by
the configured policy if it is a master playlist), streams its segments as
188-byte transport-stream packets, and writes them to stdout.

Examples:
  tshlsinput --max-bitrate 2000000 https://example.com/master.m3u8 > out.ts
  tshlsinput --live --save-files ./segments https://example.com/live.m3u8`,
	RunE: runRoot,
}

func init() {
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "json", "log format (text, json)")

	rootCmd.Flags().Bool("lowest-bitrate", false, "select the lowest-bitrate variant")
	rootCmd.Flags().Bool("highest-bitrate", false, "select the highest-bitrate variant")
	rootCmd.Flags().Bool("lowest-resolution", false, "select the lowest-resolution variant")
	rootCmd.Flags().Bool("highest-resolution", false, "select the highest-resolution variant")

	rootCmd.Flags().Int("min-bitrate", 0, "minimum acceptable variant bitrate, in bits/sec")
	rootCmd.Flags().Int("max-bitrate", 0, "maximum acceptable variant bitrate, in bits/sec")
	rootCmd.Flags().Int("min-width", 0, "minimum acceptable variant width")
	rootCmd.Flags().Int("max-width", 0, "maximum acceptable variant width")
	rootCmd.Flags().Int("min-height", 0, "minimum acceptable variant height")
	rootCmd.Flags().Int("max-height", 0, "maximum acceptable variant height")

	rootCmd.Flags().Bool("list-variants", false, "log each master playlist variant before selecting one")
	rootCmd.Flags().String("save-files", "", "mirror every consumed segment under this directory")
	rootCmd.Flags().Int("segment-count", 0, "stop after this many segments (0 = run to playlist completion)")
	rootCmd.Flags().Bool("live", false, "start from the last segment, equivalent to --start-segment -1")
	rootCmd.Flags().Int("start-segment", 0, "segment to start from; positive counts from the first, negative from the last")
}

// Execute runs the command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing tshlsinput: %w", err)
	}
	return nil
}

func runRoot(cmd *cobra.Command, args []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	log := observability.NewLogger(config.LoggingConfig{Level: strings.ToLower(level), Format: strings.ToLower(format)})
	observability.SetDefault(log)

	opt, err := parseOptions(cmd, args[0])
	if err != nil {
		return err
	}

	fetcher, err := fetch.NewHTTPFetcher(fetch.DefaultConfig())
	if err != nil {
		return fmt.Errorf("building HTTP fetcher: %w", err)
	}
	defer func() { _ = fetcher.Close() }()

	hi := hlsinput.NewHlsInput(opt.hlsConfig, fetcher, log)

	if opt.saveFilesDir != "" {
		hi.SetSaveFiles(hlsinput.NewSaveFiles(afero.NewOsFs(), opt.saveFilesDir, 0, log))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		hi.AbortInput()
	}()

	if !hi.Start() {
		return fmt.Errorf("starting HLS input")
	}
	defer hi.Stop()

	return streamToStdout(hi, os.Stdout, log)
}

func streamToStdout(hi *hlsinput.HlsInput, w io.Writer, log *slog.Logger) error {
	const batch = 32
	packets := make([]switchengine.Packet, batch)
	metas := make([]switchengine.PacketMeta, batch)

	var total uint64
	for {
		n := hi.Receive(packets, metas)
		if n == 0 {
			break
		}
		for i := 0; i < n; i++ {
			if _, err := w.Write(packets[i][:]); err != nil {
				return fmt.Errorf("writing packet %d: %w", total+uint64(i), err)
			}
		}
		total += uint64(n)
	}

	log.Info("hls input finished", slog.Uint64("packets", total))
	return nil
}

type options struct {
	hlsConfig    hlsinput.Config
	saveFilesDir string
}

func parseOptions(cmd *cobra.Command, url string) (options, error) {
	f := cmd.Flags()

	lowestBR, _ := f.GetBool("lowest-bitrate")
	highestBR, _ := f.GetBool("highest-bitrate")
	lowestRes, _ := f.GetBool("lowest-resolution")
	highestRes, _ := f.GetBool("highest-resolution")
	exclusiveCount := 0
	for _, b := range []bool{lowestBR, highestBR, lowestRes, highestRes} {
		if b {
			exclusiveCount++
		}
	}
	if exclusiveCount > 1 {
		return options{}, fmt.Errorf("--lowest-bitrate, --highest-bitrate, --lowest-resolution, and --highest-resolution are mutually exclusive")
	}

	minBitRate, _ := f.GetInt("min-bitrate")
	maxBitRate, _ := f.GetInt("max-bitrate")
	minWidth, _ := f.GetInt("min-width")
	maxWidth, _ := f.GetInt("max-width")
	minHeight, _ := f.GetInt("min-height")
	maxHeight, _ := f.GetInt("max-height")
	rangedSet := minBitRate != 0 || maxBitRate != 0 || minWidth != 0 || maxWidth != 0 || minHeight != 0 || maxHeight != 0
	if exclusiveCount > 0 && rangedSet {
		return options{}, fmt.Errorf("ranged selection flags are mutually exclusive with --lowest-/--highest-bitrate/-resolution")
	}

	live, _ := f.GetBool("live")
	startSegmentChanged := f.Changed("start-segment")
	if live && startSegmentChanged {
		return options{}, fmt.Errorf("--live and --start-segment are mutually exclusive")
	}
	startSegment, _ := f.GetInt("start-segment")
	if live {
		startSegment = -1
	}

	segmentCount, _ := f.GetInt("segment-count")
	if segmentCount < 0 {
		return options{}, fmt.Errorf("--segment-count must be positive")
	}

	listVariants, _ := f.GetBool("list-variants")
	saveFilesDir, _ := f.GetString("save-files")

	return options{
		hlsConfig: hlsinput.Config{
			URL:               url,
			ListVariants:      listVariants,
			LowestBitRate:     lowestBR,
			HighestBitRate:    highestBR,
			LowestResolution:  lowestRes,
			HighestResolution: highestRes,
			MinBitRate:        minBitRate,
			MaxBitRate:        maxBitRate,
			MinWidth:          minWidth,
			MaxWidth:          maxWidth,
			MinHeight:         minHeight,
			MaxHeight:         maxHeight,
			StartSegment:      startSegment,
			MaxSegmentCount:   segmentCount,
		},
		saveFilesDir: saveFilesDir,
	}, nil
}
