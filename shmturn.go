// Turn-taking producers over a shared memory segment

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/mmcloughlin/profile"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/config"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/coordinator"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/latch"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/producer"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/timebase"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/turn"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/clock"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/proc"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/shm"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/signals"
)

var (
	log *zap.Logger
)

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		// See https://github.com/scionproto/scion/blob/master/pkg/log/log.go
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var err error
	log, err = c.Build()
	if err != nil {
		panic(err)
	}
	timebase.RegisterClock(&clock.SystemClock{Log: log})
}

func runMonitor(log *zap.Logger, addr string) {
	http.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(addr, nil)
	log.Fatal("failed to serve metrics", zap.Error(err))
}

func loadConfig(configFile string) config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	return cfg
}

func startServices(cfg config.Config) {
	if cfg.TurnMode == config.TurnModeAsymmetric {
		log.Warn("asymmetric turn mode admits two producers writing at once and may strand a producer")
	}
	if cfg.MetricsAddr != "" {
		go runMonitor(log, cfg.MetricsAddr)
	}
}

func runTransfer(ctx context.Context, c *coordinator.Coordinator) {
	t0 := timebase.Now()
	st, err := c.Run(ctx)
	if err != nil {
		if errors.Is(err, coordinator.ErrProvision) {
			log.Fatal("failed to create shared resources", zap.Error(err))
		}
		log.Fatal("transfer failed", zap.Error(err), zap.Stringer("phase", c.Phase()))
	}
	log.Info("transfer finished",
		zap.Int("records", st.Records),
		zap.Int("decode_errors", st.DecodeErrors),
		zap.Duration("elapsed", timebase.Now().Sub(t0)),
	)
}

func runCoordinator(configFile string, verbose bool) {
	cfg := loadConfig(configFile)
	startServices(cfg)

	read := latch.New("startRead")
	ch := signals.Listen(log, map[os.Signal]*latch.Latch{signals.StartRead: read})
	defer ch.Stop()

	var args []string
	if verbose {
		args = append(args, "-verbose")
	}
	c := &coordinator.Coordinator{
		Log:         log,
		Config:      cfg,
		Provisioner: coordinator.System{},
		Launcher: &proc.Launcher{
			Log:    log,
			Config: cfg,
			Args:   args,
			Stderr: os.Stderr,
		},
		Read: read,
		Sink: os.Stdout,
	}
	runTransfer(context.Background(), c)
}

func newSimulation(cfg config.Config, sink io.Writer) *coordinator.Coordinator {
	read := latch.New("startRead")
	return &coordinator.Coordinator{
		Log:         log,
		Config:      cfg,
		Provisioner: coordinator.Memory{},
		Launcher: &coordinator.GoroutineLauncher{
			Log:    log,
			Config: cfg,
			Clock:  timebase.Clock(),
			Read:   read,
		},
		Read: read,
		Sink: sink,
	}
}

func runSimulation(configFile string) {
	cfg := loadConfig(configFile)
	startServices(cfg)
	runTransfer(context.Background(), newSimulation(cfg, os.Stdout))
}

func runProducer(index, semID int) {
	cfg, err := config.Decode([]byte(os.Getenv(config.EnvKey)))
	if err != nil {
		log.Fatal("failed to decode configuration from environment", zap.Error(err))
	}
	l, err := turn.Roles(cfg.TurnMode, cfg.Producers)
	if err != nil {
		log.Fatal("invalid turn configuration", zap.Error(err))
	}
	if index < 0 || index >= len(l.Roles) {
		log.Fatal("producer index out of range", zap.Int("index", index))
	}
	log = log.With(zap.Int("producer", index), zap.Int("pid", os.Getpid()))

	start := latch.New("startWrite")
	ch := signals.Listen(log, map[os.Signal]*latch.Latch{signals.StartWrite: start})
	defer ch.Stop()

	seg, err := shm.Open(cfg.SegmentName, cfg.TotalRecords, cfg.RecordWidth)
	if err != nil {
		log.Fatal("failed to open shared segment", zap.Error(err))
	}
	defer seg.Close()
	set := proc.Attach(semID, l)

	err = proc.Ready()
	if err != nil {
		log.Fatal("failed to report readiness", zap.Error(err))
	}

	p := &producer.Producer{
		Log:     log,
		Config:  cfg,
		ID:      os.Getpid(),
		Segment: seg,
		Token:   turn.NewToken(set, l.Roles[index]),
		Cursor:  turn.NewCursor(set),
		Start:   start,
		Done:    signals.Parent(signals.StartRead),
		Clock:   timebase.Clock(),
	}
	_, err = p.Run(context.Background())
	if err != nil {
		log.Fatal("producer failed", zap.Error(err))
	}
}

func runCheck(w io.Writer, mode string, producers, rounds int) (turn.Report, error) {
	r, err := turn.Check(mode, producers, rounds)
	if err != nil {
		return r, err
	}
	fmt.Fprintf(w, "mode:            %s\n", r.Mode)
	fmt.Fprintf(w, "producers:       %d\n", r.Producers)
	fmt.Fprintf(w, "rounds:          %d\n", r.Rounds)
	fmt.Fprintf(w, "states:          %d\n", r.States)
	fmt.Fprintf(w, "token range:     [%d, %d]\n", r.Min, r.Max)
	fmt.Fprintf(w, "max inside:      %d\n", r.MaxInside)
	fmt.Fprintf(w, "deadlocks:       %d\n", r.Deadlocks)
	fmt.Fprintf(w, "token conserved: %t\n", r.Conserved)
	return r, nil
}

func exitWithUsage() {
	fmt.Println("usage:")
	fmt.Println("  shmturn run [-config file] [-verbose] [profiling flags]")
	fmt.Println("  shmturn simulate [-config file] [-verbose] [profiling flags]")
	fmt.Println("  shmturn check [-mode alternating|asymmetric] [-producers n] [-rounds r]")
	os.Exit(1)
}

func main() {
	var (
		verbose    bool
		configFile string
		index      int
		semID      int
		mode       string
		producers  int
		rounds     int
	)

	runFlags := flag.NewFlagSet("run", flag.ExitOnError)
	simulateFlags := flag.NewFlagSet("simulate", flag.ExitOnError)
	checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
	producerFlags := flag.NewFlagSet(proc.Subcommand, flag.ExitOnError)

	runFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	runFlags.StringVar(&configFile, "config", "", "Config file")
	runProfile := profile.New(profile.CPUProfile, profile.MemProfile)
	runProfile.SetFlags(runFlags)

	simulateFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	simulateFlags.StringVar(&configFile, "config", "", "Config file")
	simulateProfile := profile.New(profile.CPUProfile, profile.MemProfile)
	simulateProfile.SetFlags(simulateFlags)

	checkFlags.StringVar(&mode, "mode", config.TurnModeAlternating, "Turn mode")
	checkFlags.IntVar(&producers, "producers", 2, "Number of producers")
	checkFlags.IntVar(&rounds, "rounds", 3, "Turns per producer")

	producerFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	producerFlags.IntVar(&index, "index", -1, "Producer index")
	producerFlags.IntVar(&semID, "semid", -1, "Semaphore set identifier")

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case runFlags.Name():
		err := runFlags.Parse(os.Args[2:])
		if err != nil || runFlags.NArg() != 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		defer runProfile.Start().Stop()
		runCoordinator(configFile, verbose)
	case simulateFlags.Name():
		err := simulateFlags.Parse(os.Args[2:])
		if err != nil || simulateFlags.NArg() != 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		defer simulateProfile.Start().Stop()
		runSimulation(configFile)
	case checkFlags.Name():
		err := checkFlags.Parse(os.Args[2:])
		if err != nil || checkFlags.NArg() != 0 {
			exitWithUsage()
		}
		if rounds < 1 || rounds > 255 {
			exitWithUsage()
		}
		initLogger(false)
		r, err := runCheck(os.Stdout, mode, producers, rounds)
		if err != nil {
			log.Fatal("failed to check turn protocol", zap.Error(err))
		}
		if !r.MutualExclusion() || r.Deadlocks != 0 {
			os.Exit(1)
		}
	case producerFlags.Name():
		err := producerFlags.Parse(os.Args[2:])
		if err != nil || producerFlags.NArg() != 0 {
			exitWithUsage()
		}
		if index < 0 || semID < 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		runProducer(index, semID)
	default:
		exitWithUsage()
	}
}
