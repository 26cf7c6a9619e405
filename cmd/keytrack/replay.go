package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/keytrack/internal/config"
	"github.com/goodtune/keytrack/internal/midiin"
	"github.com/goodtune/keytrack/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	replaySpeed  float64
	replayLights bool
)

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Feed a recorded performance through the pipeline",
	Long: `Replay a Standard MIDI File (.mid) or a hex dump of raw messages through
the classifier, session tracker and aggregator, then flush the result to the
configured storage. Timestamps are taken from the recording, so a replay at
full speed produces the same statistics as playing it live.`,
	Example: `  keytrack -c config.yaml replay practice.mid
  keytrack replay --speed 1 --lights scales.hex`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 0, "Playback speed multiplier (0 replays as fast as possible)")
	replayCmd.Flags().BoolVar(&replayLights, "lights", false, "Drive the light engine during replay")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	msgs, err := midiin.Load(args[0])
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("%s contains no playable messages", args[0])
	}

	p, err := newPipeline(cfg, replayLights, logger)
	if err != nil {
		return err
	}
	p.start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := p.clock.Now()
	n, replayErr := midiin.Replay(ctx, msgs, p.bus, midiin.ReplayOptions{
		Start: start,
		Speed: replaySpeed,
	})

	// Close the recorded session at the end of the recording
	last := start.Add(msgs[len(msgs)-1].Offset)
	pause := parseDuration(cfg.Session.PauseThreshold, session.DefaultPauseThreshold)
	p.tracker.Check(last.Add(pause + time.Second))

	shutdownCtx, cancel := shutdownContext()
	defer cancel()
	if err := p.stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to store replayed statistics: %w", err)
	}

	logger.Info().
		Str("file", args[0]).
		Int("messages", n).
		Dur("duration", msgs[len(msgs)-1].Offset).
		Msg("Replay complete")

	if replayErr != nil {
		return fmt.Errorf("replay interrupted after %d messages: %w", n, replayErr)
	}
	return nil
}
