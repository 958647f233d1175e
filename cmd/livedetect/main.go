// livedetect serves a browser page that streams the camera over WebRTC and
// returns it with YOLO detections drawn on every frame.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/teslashibe/go-livedetect/internal/app"
	"github.com/teslashibe/go-livedetect/internal/config"
	"github.com/teslashibe/go-livedetect/internal/httpc"
	"github.com/teslashibe/go-livedetect/internal/log"
	"github.com/teslashibe/go-livedetect/pkg/detection"
)

const (
	flagEnvFile  = "env-file"
	flagPort     = "port"
	flagModel    = "model"
	flagLabels   = "labels"
	flagBackend  = "backend"
	flagORTLib   = "onnxruntime-lib"
	flagICE      = "ice-server"
	flagWidth    = "width"
	flagHeight   = "height"
	flagFPS      = "fps"
	flagFFmpeg   = "ffmpeg"
	flagLogLevel = "log-level"
	flagLogFile  = "log-file"
	flagDebug    = "debug"
	flagURL      = "url"
)

func main() {
	if err := newApp(serve).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ FATAL: %v\n", err)
		os.Exit(1)
	}
}

// newApp builds the CLI. run receives the merged configuration.
func newApp(run func(config.Config) error) *cli.App {
	return &cli.App{
		Name:  "livedetect",
		Usage: "real-time object detection on a browser camera stream",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagEnvFile, Value: ".env", Usage: "load environment from `FILE` if it exists"},
			&cli.IntFlag{Name: flagPort, Aliases: []string{"p"}, Usage: "HTTP port (PORT)"},
			&cli.StringFlag{Name: flagModel, Aliases: []string{"m"}, Usage: "ONNX weights `FILE` (MODEL_PATH)"},
			&cli.StringFlag{Name: flagLabels, Usage: "class names `FILE`, one per line (LABELS_PATH)"},
			&cli.StringFlag{Name: flagBackend, Usage: "detector backend: opencv or onnxruntime (DETECTOR_BACKEND)"},
			&cli.StringFlag{Name: flagORTLib, Usage: "onnxruntime shared library `FILE` (ONNXRUNTIME_LIB)"},
			&cli.StringSliceFlag{Name: flagICE, Usage: "STUN/TURN url, repeatable (ICE_SERVERS)"},
			&cli.IntFlag{Name: flagWidth, Usage: "processing frame width (FRAME_WIDTH)"},
			&cli.IntFlag{Name: flagHeight, Usage: "processing frame height (FRAME_HEIGHT)"},
			&cli.IntFlag{Name: flagFPS, Usage: "output frame rate (FRAME_RATE)"},
			&cli.StringFlag{Name: flagFFmpeg, Usage: "ffmpeg binary (FFMPEG_PATH)"},
			&cli.StringFlag{Name: flagLogLevel, Usage: "debug, info, warn or error (LOG_LEVEL)"},
			&cli.StringFlag{Name: flagLogFile, Usage: "also write logs to a rotating `FILE` (LOG_FILE)"},
			&cli.BoolFlag{Name: flagDebug, Usage: "shorthand for --log-level debug"},
		},
		Commands: []*cli.Command{
			{
				Name:  "health",
				Usage: "probe a running server, exits 1 when it is not healthy",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagURL, Value: "http://localhost:8080/healthz", Usage: "health endpoint `URL`"},
				},
				Action: func(c *cli.Context) error {
					if err := httpc.Probe(c.Context, httpc.Client, c.String(flagURL)); err != nil {
						return err
					}
					fmt.Println("✅ healthy")
					return nil
				},
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String(flagEnvFile))
			if err != nil {
				return err
			}
			applyFlags(c, &cfg)
			return run(cfg)
		},
	}
}

// applyFlags overrides cfg with the flags that were given explicitly.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet(flagPort) {
		cfg.Port = c.Int(flagPort)
	}
	if c.IsSet(flagModel) {
		cfg.ModelPath = c.String(flagModel)
	}
	if c.IsSet(flagLabels) {
		cfg.LabelsPath = c.String(flagLabels)
	}
	if c.IsSet(flagBackend) {
		cfg.Backend = c.String(flagBackend)
	}
	if c.IsSet(flagORTLib) {
		cfg.ORTLibrary = c.String(flagORTLib)
	}
	if c.IsSet(flagICE) {
		cfg.ICEServers = c.StringSlice(flagICE)
	}
	if c.IsSet(flagWidth) {
		cfg.FrameWidth = c.Int(flagWidth)
	}
	if c.IsSet(flagHeight) {
		cfg.FrameHeight = c.Int(flagHeight)
	}
	if c.IsSet(flagFPS) {
		cfg.FrameRate = c.Int(flagFPS)
	}
	if c.IsSet(flagFFmpeg) {
		cfg.FFmpegPath = c.String(flagFFmpeg)
	}
	if c.IsSet(flagLogLevel) {
		cfg.LogLevel = c.String(flagLogLevel)
	}
	if c.IsSet(flagLogFile) {
		cfg.LogFile = c.String(flagLogFile)
	}
	if c.Bool(flagDebug) {
		cfg.LogLevel = "debug"
	}
}

func serve(cfg config.Config) error {
	log.InitWithOptions(log.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	fmt.Println(cfg.Title)
	fmt.Println("==============================================")
	fmt.Printf("🧠 Loading model %s (%s)... ", cfg.ModelPath, cfg.Backend)

	a, err := app.New(cfg)
	if err != nil {
		fmt.Println("❌")
		if errors.Is(err, detection.ErrModelNotFound) {
			return fmt.Errorf("model not found at %s; place the exported weights there or set MODEL_PATH: %w", cfg.ModelPath, err)
		}
		return err
	}
	fmt.Println("✅")
	defer func() {
		if err := a.Shutdown(); err != nil {
			log.Warn("shutdown", "error", err)
		}
		fmt.Println("\n👋 Goodbye!")
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("🌐 Open http://localhost:%d in your browser\n", cfg.Port)
	fmt.Println("   (Ctrl+C to exit)")
	return a.Run(ctx)
}
