// Command keypoints runs the facial keypoint regressor.
//
//	keypoints version
//	keypoints summary [-seed N]
//	keypoints init -out weights.safetensors [-seed N]
//	keypoints predict [-config FILE] [-weights FILE] image...
//	keypoints serve [-config FILE] [-weights FILE] [-addr :8080]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/born-ml/keypoints/backend/cpu"
	"github.com/born-ml/keypoints/internal/config"
	"github.com/born-ml/keypoints/internal/preprocess"
	"github.com/born-ml/keypoints/internal/server"
	"github.com/born-ml/keypoints/keypoint"
)

const version = "v0.1.0"

const usage = `Usage: keypoints <command> [flags]

Commands:
  version    Show version
  summary    Print the network layout and parameter count
  init       Write freshly initialised weights
  predict    Print keypoints for image files as JSON lines
  serve      Serve predictions over HTTP
`

// errUsage reports a bad command line; the message has already been printed.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, "keypoints: ", log.LstdFlags)
	if err := run(ctx, os.Args[1:], os.Stdout, logger); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		logger.Fatalf("%v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, logger *log.Logger) error {
	if len(args) == 0 {
		fmt.Fprint(logger.Writer(), usage)
		return errUsage
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "version":
		fmt.Fprintf(stdout, "keypoints %s\n", version)
		return nil
	case "summary":
		return runSummary(rest, stdout, logger)
	case "init":
		return runInit(rest, stdout, logger)
	case "predict":
		return runPredict(ctx, rest, stdout, logger)
	case "serve":
		return runServe(ctx, rest, logger)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprintf(logger.Writer(), "unknown command %q\n\n%s", cmd, usage)
		return errUsage
	}
}

func newFlagSet(name string, logger *log.Logger) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(logger.Writer())
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errUsage
		}
		return fmt.Errorf("%s: %w", fs.Name(), errUsage)
	}
	return nil
}

func runSummary(args []string, stdout io.Writer, logger *log.Logger) error {
	fs := newFlagSet("summary", logger)
	seed := fs.Int64("seed", 1, "Initialisation seed")
	if err := parse(fs, args); err != nil {
		return err
	}

	fmt.Fprintln(stdout, keypoint.NewCPU(keypoint.WithSeed(*seed)))
	return nil
}

func runInit(args []string, stdout io.Writer, logger *log.Logger) error {
	fs := newFlagSet("init", logger)
	out := fs.String("out", "", "Output safetensors file (required)")
	seed := fs.Int64("seed", 0, "Initialisation seed (0 = random)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *out == "" {
		fmt.Fprintln(logger.Writer(), "init: -out is required")
		return errUsage
	}

	var opts []keypoint.Option
	if *seed != 0 {
		opts = append(opts, keypoint.WithSeed(*seed))
	}
	model := keypoint.NewCPU(opts...)
	if err := model.SaveWeights(*out); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %d parameters to %s (seed %d)\n", model.NumParameters(), *out, model.Seed())
	return nil
}

// modelFlags registers the flags shared by predict and serve.
func modelFlags(fs *flag.FlagSet, o *config.Overrides) *string {
	path := fs.String("config", "", "YAML config file")
	fs.StringVar(&o.Weights, "weights", "", "Safetensors weights file")
	fs.Int64Var(&o.Seed, "seed", 0, "Initialisation seed when no weights are given")
	fs.IntVar(&o.Workers, "workers", 0, "CPU workers (0 = all cores)")
	return path
}

func loadConfig(path string, o config.Overrides) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyOverrides(o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildPredictor(cfg *config.Config, logger *log.Logger) (*server.Predictor[*cpu.Backend], error) {
	var opts []keypoint.Option
	if cfg.Seed != 0 {
		opts = append(opts, keypoint.WithSeed(cfg.Seed))
	}
	model := keypoint.NewRegressor(cpu.NewWithWorkers(cfg.Workers), opts...)

	if cfg.Weights != "" {
		if err := model.LoadWeights(cfg.Weights); err != nil {
			return nil, err
		}
		logger.Printf("loaded weights from %s", cfg.Weights)
	} else {
		logger.Printf("no weights given; using random initialisation (seed %d)", model.Seed())
	}
	return server.NewPredictor(model, cfg.Calibration, cfg.Weights), nil
}

// PredictLine is one line of predict output.
type PredictLine struct {
	File      string           `json:"file"`
	Width     int              `json:"width"`
	Height    int              `json:"height"`
	Keypoints []keypoint.Point `json:"keypoints"`
}

func runPredict(ctx context.Context, args []string, stdout io.Writer, logger *log.Logger) error {
	fs := newFlagSet("predict", logger)
	var o config.Overrides
	cfgPath := modelFlags(fs, &o)
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(logger.Writer(), "predict: no image files given")
		return errUsage
	}

	cfg, err := loadConfig(*cfgPath, o)
	if err != nil {
		return err
	}
	p, err := buildPredictor(cfg, logger)
	if err != nil {
		return err
	}

	imgs := make([]image.Image, fs.NArg())
	for i, name := range fs.Args() {
		if imgs[i], err = decodeFile(name, cfg.Server.MaxPixels); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(stdout)
	for start := 0; start < len(imgs); start += cfg.Server.MaxBatch {
		end := min(start+cfg.Server.MaxBatch, len(imgs))
		points, err := p.Predict(ctx, imgs[start:end])
		if err != nil {
			return err
		}
		for i, pts := range points {
			b := imgs[start+i].Bounds()
			line := PredictLine{File: fs.Arg(start + i), Width: b.Dx(), Height: b.Dy(), Keypoints: pts}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeFile(name string, maxPixels int64) (image.Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := preprocess.DecodeLimit(f, maxPixels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return img, nil
}

func runServe(ctx context.Context, args []string, logger *log.Logger) error {
	fs := newFlagSet("serve", logger)
	var o config.Overrides
	cfgPath := modelFlags(fs, &o)
	fs.StringVar(&o.Addr, "addr", "", "Listen address (overrides server.addr)")
	if err := parse(fs, args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath, o)
	if err != nil {
		return err
	}
	p, err := buildPredictor(cfg, logger)
	if err != nil {
		return err
	}
	return server.New(p, cfg.Server, logger).ListenAndServe(ctx)
}
