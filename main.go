package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"buoy_importer/archive"
	"buoy_importer/bbapi"
	"buoy_importer/config"
	"buoy_importer/metrics"
	"buoy_importer/pipeline"
	"buoy_importer/utils"
)

type CmdArgs struct {
	Process     string   `long:"process" short:"p" required:"true" choice:"refresh-data" choice:"refresh-catalog" choice:"refresh-metadata" choice:"refresh-wmo" description:"Process to run"`
	LocationCmd string   `long:"location" short:"l" default:"all" description:"Location id, comma separated list of ids, or 'all'"`
	Rebuild     bool     `long:"rebuild" short:"r" description:"Rebuild from scratch. Only valid for refresh-data and refresh-metadata"`
	RerunQC     bool     `long:"rerun-qc" short:"q" description:"Rerun the QC tests on every stored partition. Only valid for refresh-data"`
	ConfigPath  string   `long:"config" short:"c" default:"" description:"Optional YAML configuration file"`
	Email       []string `long:"email" description:"Optional email address used to notify about failed locations"`
	LogFile     bool     `long:"log-file" description:"Write the log of each location to '<location>_<process>_log.txt'"`
	Locations   []string
}

// Sets up the arguments:
// - Populates Locations by parsing the string provided via cmd
// - Degrades flags that are not valid for the process to false
func (args *CmdArgs) setup() {
	if loc := strings.TrimSpace(args.LocationCmd); loc != "" && strings.ToLower(loc) != "all" {
		args.Locations = strings.Split(loc, ",")
	}

	if args.Rebuild && !slices.Contains([]string{pipeline.RefreshData, pipeline.RefreshMetadata}, args.Process) {
		slog.Warn(fmt.Sprintf("'--rebuild' is only valid for %s and %s, ignoring it", pipeline.RefreshData, pipeline.RefreshMetadata))
		args.Rebuild = false
	}
	if args.RerunQC && args.Process != pipeline.RefreshData {
		slog.Warn(fmt.Sprintf("'--rerun-qc' is only valid for %s, ignoring it", pipeline.RefreshData))
		args.RerunQC = false
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn(fmt.Sprintf("Could not load .env file: %s", err))
	}

	args := CmdArgs{}
	_, err := flags.Parse(&args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return
			}
		}
		fmt.Println("See 'buoy_importer -h' for help")
		os.Exit(2)
	}
	args.setup()

	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	mailer := &utils.Mailer{
		Host:       cfg.Email.Host,
		Port:       cfg.Email.Port,
		From:       cfg.Email.From,
		Recipients: append(cfg.Email.Recipients, args.Email...),
		RunID:      uuid.NewString(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, cfg, &args, mailer))
}

func run(ctx context.Context, cfg *config.Config, args *CmdArgs, mailer *utils.Mailer) int {
	defer mailer.SendEmailOnPanic("main")

	client := bbapi.NewClient(
		cfg.API.LocationsURL,
		cfg.API.LocationDataURL,
		cfg.APITimeout,
		cfg.API.RequestsPerSecond,
		cfg.API.Burst,
	)

	runner, err := pipeline.NewRunner(cfg, client, mailer)
	if err != nil {
		slog.Error(err.Error())
		return 1
	}

	if cfg.Archive.Enabled && args.Process == pipeline.RefreshData {
		exporter, err := archive.NewExporter(ctx, cfg.Archive.Conn, cfg.Archive.Table)
		if err != nil {
			slog.Error(err.Error())
			return 1
		}
		defer exporter.Close()
		runner.Archive = exporter
	}

	slog.Info(fmt.Sprintf("Starting %s, run %s", args.Process, mailer.RunID))
	err = runner.Run(ctx, pipeline.Options{
		Process:   args.Process,
		Locations: args.Locations,
		Rebuild:   args.Rebuild,
		RerunQC:   args.RerunQC,
		LogFile:   args.LogFile,
	})

	if pushErr := metrics.Push(ctx, cfg.Metrics.Pushgateway, cfg.Metrics.Job); pushErr != nil {
		slog.Warn(pushErr.Error())
	}

	if err != nil {
		slog.Error(fmt.Sprintf("%s finished with errors: %s", args.Process, err))
		return 1
	}
	slog.Info(fmt.Sprintf("%s finished without errors.", args.Process))
	return 0
}
