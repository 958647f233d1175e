// Package app wires the detector, the media pipeline and the web server into
// the live detection service.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-livedetect/internal/config"
	"github.com/teslashibe/go-livedetect/internal/log"
	"github.com/teslashibe/go-livedetect/pkg/detection"
	"github.com/teslashibe/go-livedetect/pkg/processor"
	"github.com/teslashibe/go-livedetect/pkg/stream"
	"github.com/teslashibe/go-livedetect/pkg/thresholds"
	"github.com/teslashibe/go-livedetect/pkg/web"
)

// shutdownTimeout bounds how long Run waits for the HTTP server to stop.
const shutdownTimeout = 5 * time.Second

// ConfigError reports invalid configuration values.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// App is the running service.
type App struct {
	cfg config.Config

	detector   detection.Detector
	thresholds *thresholds.Manager
	sessions   *stream.Manager
	server     *web.Server
}

// New validates cfg and loads the detector. The detector is loaded before
// anything user facing is built, so a missing or broken model fails startup
// without ever serving the page.
func New(cfg config.Config) (*App, error) {
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, &ConfigError{Problems: problems}
	}

	det, err := detection.Load(DetectorConfig(cfg))
	if err != nil {
		return nil, err
	}
	log.Info("detector loaded", "model", cfg.ModelPath, "backend", cfg.Backend)

	a, err := newWithDetector(cfg, det)
	if err != nil {
		return nil, multierr.Append(err, det.Close())
	}
	return a, nil
}

// DetectorConfig maps service config to detector config.
func DetectorConfig(cfg config.Config) detection.Config {
	return detection.Config{
		ModelPath:     cfg.ModelPath,
		LabelsPath:    cfg.LabelsPath,
		Backend:       cfg.Backend,
		ORTLibrary:    cfg.ORTLibrary,
		InputWidth:    cfg.InputSize,
		InputHeight:   cfg.InputSize,
		MaxDetections: cfg.MaxDetections,
	}
}

// StreamOptions maps service config to media pipeline options.
func StreamOptions(cfg config.Config) stream.Options {
	return stream.Options{
		Width:      cfg.FrameWidth,
		Height:     cfg.FrameHeight,
		FrameRate:  cfg.FrameRate,
		FFmpegPath: cfg.FFmpegPath,
		ICEServers: cfg.ICEServers,
	}
}

func newWithDetector(cfg config.Config, det detection.Detector) (*App, error) {
	api, err := stream.NewAPI(log.NewPionFactory(log.L()))
	if err != nil {
		return nil, fmt.Errorf("webrtc: %w", err)
	}

	th := thresholds.NewManager()
	newProc := func() stream.Processor {
		return processor.New(det, th, processor.Options{})
	}
	sessions := stream.NewManager(api, StreamOptions(cfg), newProc)

	server := web.NewServer(web.Options{
		Title:      cfg.Title,
		Info:       cfg.Info,
		ICEServers: cfg.ICEServers,
	}, th, sessions)

	return &App{
		cfg:        cfg,
		detector:   det,
		thresholds: th,
		sessions:   sessions,
		server:     server,
	}, nil
}

// Run serves until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	a.server.Start(ctx)

	g.Go(func() error {
		return a.server.Listen(a.cfg.Addr())
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down web server")

		done := make(chan error, 1)
		go func() { done <- a.server.Shutdown() }()
		select {
		case err := <-done:
			return err
		case <-time.After(shutdownTimeout):
			return errors.New("web server shutdown timed out")
		}
	})

	return g.Wait()
}

// Shutdown closes every session and releases the detector.
func (a *App) Shutdown() error {
	return multierr.Combine(
		a.sessions.CloseAll(),
		a.detector.Close(),
	)
}
