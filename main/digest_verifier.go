package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/mongodb-labs/digest-verifier/internal/config"
	"github.com/mongodb-labs/digest-verifier/internal/logger"
	"github.com/mongodb-labs/digest-verifier/internal/verifier"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/urfave/cli"
)

const (
	modeFlag      = "mode"
	periodFlag    = "period"
	cfgFileFlag   = "cfg_file"
	startIdxFlag  = "start_idx"
	countFlag     = "count"
	batchFlag     = "batch"
	taskCountFlag = "task_count"
	debugFlag     = "debug"
)

func main() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := []cli.Flag{
		cli.IntFlag{
			Name:  modeFlag + ", m",
			Usage: "`mode`: 1 compares source and destination live, 2 works through a snapshot",
		},
		cli.IntFlag{
			Name:  periodFlag + ", p",
			Usage: "snapshot `period` for --mode 2: 1 writes the snapshot, 2 compares the destination against it",
		},
		cli.StringFlag{
			Name:  cfgFileFlag + ", f",
			Value: config.DefaultConfigFile,
			Usage: "JSON configuration `file`",
		},
		cli.IntFlag{
			Name:  startIdxFlag + ", i",
			Value: -1,
			Usage: "`index` of the first sampled _id (overrides sample_start_idx)",
		},
		cli.IntFlag{
			Name:  countFlag + ", c",
			Usage: "`number` of sampled _ids (overrides sample_count)",
		},
		cli.IntFlag{
			Name:  batchFlag + ", b",
			Usage: "`number` of _ids per query (overrides query_batch)",
		},
		cli.IntFlag{
			Name:  taskCountFlag + ", t",
			Usage: "`number` of concurrent workers (overrides task_count)",
		},
		cli.BoolFlag{
			Name:  debugFlag,
			Usage: "Turn on debug logging",
		},
	}

	app := cli.NewApp()
	app.Name = "digest-verifier"
	app.Usage = "verify a sample of migrated documents by content digest"
	app.Flags = flags
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Stack().Msg("Fatal Error")
	}
}

func run(cCtx *cli.Context) error {
	// Until the run log is open, problems go to stderr.
	bootLog := logger.NewDefaultLogger()

	cfg, endpointErr := loadConfig(cCtx)
	if cfg == nil {
		bootLog.Error().Err(endpointErr).Msg("Invalid configuration.")
		bootLog.Error().Msg(verifier.Aborted.String())
		return cli.NewExitError("", verifier.Aborted.ExitCode())
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
		zerolog.SetGlobalLevel(level)
	}

	runLog, err := logger.OpenRunLog(verifier.RunLogPaths(cfg), os.Stdout, level)
	if err != nil {
		return errors.Wrap(err, "opening run log")
	}
	defer func() {
		if err := runLog.Close(); err != nil {
			bootLog.Warn().Err(err).Msg("Failed to close run log.")
		}
	}()

	runID := uuid.New().String()
	runLogger := logger.NewSubLogger(runLog.Logger, "runID", runID)

	if endpointErr != nil {
		runLogger.Error().Err(endpointErr).Msg("Cannot connect.")
		runLogger.Error().Msg(verifier.Fail.String())
		return cli.NewExitError("", verifier.Fail.ExitCode())
	}

	v, err := verifier.NewVerifier(cfg, runLogger, runID)
	if err != nil {
		runLogger.Error().Err(err).Msg("Failed to prepare verification.")
		runLogger.Error().Msg(verifier.Aborted.String())
		return cli.NewExitError("", verifier.Aborted.ExitCode())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StatusPort > 0 {
		serverCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()

		server := verifier.NewWebServer(cfg.StatusPort, v, runLogger)
		go func() {
			if err := server.Run(serverCtx); err != nil {
				runLogger.Warn().Err(err).Msg("Status server stopped.")
			}
		}()
	}

	result := v.Execute(ctx)
	if result != verifier.Success {
		return cli.NewExitError("", result.ExitCode())
	}

	return nil
}

// loadConfig reads the configuration file and folds in the environment,
// the command line, and the sample, then validates the result. A bad
// endpoint still yields the configuration, along with the error, so that
// the failure can go to the run log.
func loadConfig(cCtx *cli.Context) (*config.Config, error) {
	config.LoadDotEnv()

	mode, err := config.ResolveMode(cCtx.Int(modeFlag), cCtx.Int(periodFlag))
	if err != nil {
		return nil, err
	}

	fileCfg, err := config.Load(cCtx.String(cfgFileFlag))
	if err != nil {
		return nil, err
	}

	overrides := config.Overrides{
		Mode:  mode,
		Debug: cCtx.Bool(debugFlag),
	}
	if cCtx.IsSet(startIdxFlag) {
		overrides.StartIdx = intPtr(cCtx.Int(startIdxFlag))
	}
	if cCtx.IsSet(countFlag) {
		overrides.Count = intPtr(cCtx.Int(countFlag))
	}
	if cCtx.IsSet(batchFlag) {
		overrides.Batch = intPtr(cCtx.Int(batchFlag))
	}
	if cCtx.IsSet(taskCountFlag) {
		overrides.TaskCount = intPtr(cCtx.Int(taskCountFlag))
	}

	cfg := fileCfg.WithOverrides(overrides)
	cfg.ApplyEnv()

	validateErr := cfg.Validate()
	if validateErr != nil && !errors.Is(validateErr, config.ErrBadEndpoint) {
		return nil, validateErr
	}

	if cfg.ComparisonMode == config.SampleMode {
		if err := cfg.LoadSample(); err != nil {
			return nil, err
		}

		if len(cfg.SampleList) == 0 {
			return nil, errors.Wrapf(
				config.ErrInvalid,
				"no sampled _ids in range [%d, %d)",
				cfg.SampleStartIdx,
				cfg.SampleEnd(),
			)
		}
	}

	return cfg, validateErr
}

func intPtr(n int) *int {
	return &n
}
