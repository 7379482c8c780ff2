package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	log "github.com/sirupsen/logrus"

	"github.com/czerwonk/ping_tracker/config"
	"github.com/czerwonk/ping_tracker/logstore"
	"github.com/czerwonk/ping_tracker/notify"
	"github.com/czerwonk/ping_tracker/probe"
	"github.com/czerwonk/ping_tracker/sink"
	"github.com/czerwonk/ping_tracker/tracker"
)

const version string = "0.1.0"

var (
	showVersion    = kingpin.Flag("version", "Print version information").Default().Bool()
	listenAddress  = kingpin.Flag("web.listen-address", "Address on which to expose the tracker and metrics").Default(":9428").String()
	metricsPath    = kingpin.Flag("web.telemetry-path", "Path under which to expose metrics").Default("/metrics").String()
	configFile     = kingpin.Flag("config.path", "Path to config file, reloaded on change").Default("").String()
	probeType      = kingpin.Flag("probe.type", "Probe used to measure latency. Valid types: [http, relay, icmp, dns]").Default("http").String()
	probeTarget    = kingpin.Flag("probe.target", "URL, host or name to probe. Defaults depend on probe.type; relay needs one").Default("").String()
	probeInterval  = kingpin.Flag("probe.interval", "Delay between two probes").Default("3s").Duration()
	probeTimeout   = kingpin.Flag("probe.timeout", "Timeout for a single probe").Default("3s").Duration()
	probeSize      = kingpin.Flag("probe.payload-size", "Payload size for ICMP echo requests").Default("56").Uint16()
	probeResolver  = kingpin.Flag("probe.resolver", "DNS server queried by the dns probe").Default(probe.DefaultResolver).String()
	alertThreshold = kingpin.Flag("alert.threshold", "Latency in millis above which an alert is raised").Default(strconv.Itoa(tracker.DefaultThreshold)).Int()
	alertNotifier  = kingpin.Flag("alert.notifier", "How alerts are raised. Valid choices: [bell, command, log, none]").Default("bell").String()
	alertCommand   = kingpin.Flag("alert.command", "Command and arguments played by the command notifier (repeatable)").Strings()
	recordFailures = kingpin.Flag("session.record-failures", "Record failed probes as samples without latency").Default("true").Bool()
	autoStart      = kingpin.Flag("session.autostart", "Start a session on startup").Default("false").Bool()
	storePath      = kingpin.Flag("store.path", "Directory holding stored sessions").Default("sessions").String()
	logLevel       = kingpin.Flag("log.level", "Only log messages with the given severity or above. Valid levels: [debug, info, warn, error, fatal]").Default("info").String()
)

var (
	rttMetricsScale = rttInMills
	rttMode         = kingpin.Flag("metrics.rttunit", "Export latency as either millis (default), or seconds (best practice), or both. Valid choices: [ms, s, both]").Default("ms").String()
)

func main() {
	kingpin.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	setLogLevel(*logLevel)

	if rttMetricsScale = rttUnitFromString(*rttMode); rttMetricsScale == rttInvalid {
		kingpin.FatalUsage("metrics.rttunit must be `ms` for millis, or `s` for seconds, or `both`")
	}

	if mpath := *metricsPath; mpath == "" {
		log.Warnln("web.telemetry-path is empty, correcting to `/metrics`")
		mpath = "/metrics"
		metricsPath = &mpath
	} else if mpath[0] != '/' {
		mpath = "/" + mpath
		metricsPath = &mpath
	}

	cfg, err := loadConfig()
	if err != nil {
		kingpin.FatalUsage("could not load config.path: %v", err)
	}

	if err := validateConfig(cfg); err != nil {
		kingpin.FatalUsage("%v", err)
	}

	t, err := newTracker(cfg)
	if err != nil {
		log.Errorln(err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *configFile != "" {
		startConfigWatch(ctx, *configFile, t)
	}

	if *autoStart {
		if err := t.Start(); err != nil {
			log.Errorf("could not start session: %v", err)
		}
	}

	err = startServer(ctx, t, cfg)

	if cerr := t.Close(); cerr != nil {
		log.Errorf("error on shutdown: %v", cerr)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func printVersion() {
	fmt.Println("ping-tracker")
	fmt.Printf("Version: %s\n", version)
	fmt.Println("Periodic latency sampler with session logs")
}

func newTracker(cfg *config.Config) (*tracker.Tracker, error) {
	p, err := probe.New(cfg.Probe.Type, probe.Options{
		Target:      cfg.Target.Addr,
		Timeout:     cfg.Probe.Timeout.Duration(),
		PayloadSize: cfg.Probe.Size,
		Resolver:    cfg.Probe.Resolver,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create probe: %w", err)
	}

	store, err := logstore.New(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	n, err := notify.New(cfg.Alert.Notifier, cfg.Alert.Command, os.Stdout)
	if err != nil {
		return nil, err
	}

	var sinks []sink.Sink
	if cfg.InfluxDB.URL != "" {
		log.Infof("exporting samples to InfluxDB at %s", cfg.InfluxDB.URL)
		sinks = append(sinks, sink.NewInflux(cfg.InfluxDB.URL, cfg.InfluxDB.Token,
			cfg.InfluxDB.Org, cfg.InfluxDB.Bucket, cfg.Target.Labels))
	}

	threshold, _ := cfg.AlertThreshold()
	log.Infof("Created %s probe for %s (interval=%s, timeout=%s, threshold=%dms)",
		cfg.Probe.Type,
		p.Target(),
		cfg.Probe.Interval.Duration(),
		cfg.Probe.Timeout.Duration(),
		threshold)

	return tracker.New(p, store, tracker.Options{
		Interval:       cfg.Probe.Interval.Duration(),
		Timeout:        cfg.Probe.Timeout.Duration(),
		Threshold:      threshold,
		RecordFailures: cfg.RecordsFailures(),
		Notifier:       n,
		Sinks:          sinks,
	}), nil
}

func startConfigWatch(ctx context.Context, path string, t *tracker.Tracker) {
	w, err := config.NewWatcher(path)
	if err != nil {
		log.Errorf("config changes will not be applied: %v", err)
		return
	}

	go w.Run(ctx, func(c *config.Config) {
		th, ok := c.AlertThreshold()
		switch {
		case !ok:
		case th < 0:
			log.Warnf("ignoring negative alert threshold %d", th)
		default:
			t.SetThreshold(th)
		}
	})
}

func startServer(ctx context.Context, t *tracker.Tracker, cfg *config.Config) error {
	log.Infof("Starting ping tracker (Version: %s)", version)

	h := newHub()
	unsubscribe := t.Subscribe(h.publish)
	defer unsubscribe()

	srv := &http.Server{
		Addr:              *listenAddress,
		Handler:           newServeMux(t, h, cfg, *metricsPath),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		h.close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("Listening on %s", *listenAddress)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func loadConfig() (*config.Config, error) {
	if *configFile == "" {
		cfg := config.Config{}
		addFlagToConfig(&cfg)

		return &cfg, nil
	}

	cfg, err := config.FromFile(*configFile)
	if err == nil {
		addFlagToConfig(cfg)
	}

	return cfg, err
}

// addFlagToConfig updates cfg with command line flag values, unless the
// config has non-zero values.
func addFlagToConfig(cfg *config.Config) {
	if cfg.Probe.Type == "" {
		cfg.Probe.Type = *probeType
	}
	if cfg.Target.Addr == "" {
		cfg.Target.Addr = *probeTarget
	}
	if cfg.Target.Addr == "" {
		cfg.Target.Addr = probe.DefaultTargetFor(cfg.Probe.Type)
	}
	if cfg.Probe.Interval == 0 {
		cfg.Probe.Interval.Set(*probeInterval)
	}
	if cfg.Probe.Timeout == 0 {
		cfg.Probe.Timeout.Set(*probeTimeout)
	}
	if cfg.Probe.Size == 0 {
		cfg.Probe.Size = *probeSize
	}
	if cfg.Probe.Resolver == "" {
		cfg.Probe.Resolver = *probeResolver
	}
	if cfg.Alert.Threshold == nil {
		cfg.Alert.Threshold = alertThreshold
	}
	if cfg.Alert.Notifier == "" {
		cfg.Alert.Notifier = *alertNotifier
	}
	if len(cfg.Alert.Command) == 0 {
		cfg.Alert.Command = *alertCommand
	}
	if cfg.Session.RecordFailures == nil {
		cfg.Session.RecordFailures = recordFailures
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = *storePath
	}
}

func validateConfig(cfg *config.Config) error {
	if cfg.Probe.Interval.Duration() <= 0 {
		return errors.New("probe.interval must be greater than 0")
	}
	if cfg.Probe.Timeout.Duration() <= 0 {
		return errors.New("probe.timeout must be greater than 0")
	}
	if cfg.Probe.Size > 65500 {
		return errors.New("probe.payload-size must be between 0 and 65500")
	}
	if th, _ := cfg.AlertThreshold(); th < 0 {
		return errors.New("alert.threshold must not be negative")
	}
	return nil
}
