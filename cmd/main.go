package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/sightline/codec"
	"github.com/aukilabs/sightline/engine"
	"github.com/aukilabs/sightline/featureflag"
	sightlinehttp "github.com/aukilabs/sightline/http"
	"github.com/aukilabs/sightline/lod"
	"github.com/aukilabs/sightline/pointset"
	swebsocket "github.com/aukilabs/sightline/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The Sightline version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "sightline_info",
		Help:        "Sightline information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"SIGHTLINE_ADDR"                  help:"Listening address for queries and inspection streams."`
	AdminAddr          string        `cli:""        env:"SIGHTLINE_ADMIN_ADDR"            help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"SIGHTLINE_PUBLIC_ENDPOINT"       help:"The public endpoint where this server is reachable."`
	DataFile           string        `cli:""        env:"SIGHTLINE_DATA_FILE"             help:"The normalized point set document to index."`
	LogLevel           string        `cli:""        env:"SIGHTLINE_LOG_LEVEL"             help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"SIGHTLINE_LOG_INDENT"            help:"Indent logs."`
	GridCellSize       float64       `cli:""        env:"SIGHTLINE_GRID_CELL_SIZE"        help:"The edge length of spatial grid cells, in meters."`
	ChunkCount         int           `cli:""        env:"SIGHTLINE_CHUNK_COUNT"           help:"The number of temporal chunks."`
	LODCellSizeMedium  float64       `cli:""        env:"SIGHTLINE_LOD_CELL_SIZE_MEDIUM"  help:"The aggregation cell size of the medium level of detail."`
	LODCellSizeCoarse  float64       `cli:""        env:"SIGHTLINE_LOD_CELL_SIZE_COARSE"  help:"The aggregation cell size of the coarse level of detail."`
	MaxInstances       int           `cli:""        env:"SIGHTLINE_MAX_INSTANCES"         help:"The default instance budget of level of detail selections."`
	ExportCompression  string        `cli:""        env:"SIGHTLINE_EXPORT_COMPRESSION"    help:"Compression of level exports (none|zstd|lz4)."`
	InspectRadius      float64       `cli:",hidden" env:"SIGHTLINE_INSPECT_RADIUS"        help:"The default radius of inspection queries."`
	InspectRate        float64       `cli:",hidden" env:"SIGHTLINE_INSPECT_RATE"          help:"The maximum number of inspection queries per second and connection."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"SIGHTLINE_CLIENT_IDLE_TIMEOUT"   help:"Time until an idle inspection client will be disconnected."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"SIGHTLINE_LOG_SUMMARY_INTERVAL"  help:"The duration between each log summary by connection."`
	ShutdownTimeout    time.Duration `cli:",hidden" env:"SIGHTLINE_SHUTDOWN_TIMEOUT"      help:"The maximum duration given to servers to drain their requests on shutdown."`
	Events             eventsConfig  `cli:",hidden" env:"-"                               help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"SIGHTLINE_FEATURE_FLAGS"         help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                               help:"Show version."`
	Help               bool          `cli:""        env:"-"                               help:"Show help."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"SIGHTLINE_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"SIGHTLINE_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"SIGHTLINE_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"SIGHTLINE_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func defaultConfig() config {
	opts := engine.DefaultOptions()

	return config{
		Addr:               ":4100",
		AdminAddr:          ":18191",
		PublicEndpoint:     "http://localhost:4100",
		LogLevel:           logs.InfoLevel.String(),
		GridCellSize:       opts.GridCellSize,
		ChunkCount:         opts.ChunkCount,
		LODCellSizeMedium:  opts.LODCellSizes[0],
		LODCellSizeCoarse:  opts.LODCellSizes[1],
		MaxInstances:       50000,
		ExportCompression:  codec.CompressionZSTD.String(),
		InspectRadius:      0.15,
		InspectRate:        10,
		ClientIdleTimeout:  time.Minute * 5,
		LogSummaryInterval: time.Minute,
		ShutdownTimeout:    time.Second * 10,
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}
}

func main() {
	conf := defaultConfig()

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts Sightline server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "sightline",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	featureFlags := featureflag.New(conf.FeatureFlags)

	// Validated by validateConfig.
	exportCompression, _ := codec.ParseCompression(conf.ExportCompression)

	store := &engine.Store{
		Loader:  engine.FileLoader(conf.DataFile),
		Options: buildOptions(conf, featureFlags),
	}
	if _, err := store.Reload(ctx); err != nil {
		logs.Fatal(errors.New("building initial snapshot failed").
			WithTag("data_file", conf.DataFile).
			Wrap(err))
	}

	var service http.ServeMux

	api := sightlinehttp.API{
		Store:             store,
		MaxInstances:      conf.MaxInstances,
		ExportCompression: exportCompression,
		FeatureFlags:      featureFlags,
	}
	api.Register(&service)

	service.HandleFunc("/health", sightlinehttp.HandleHealthCheck)
	service.HandleFunc("/ready", sightlinehttp.HandleReadyCheck(store))
	service.HandleFunc("/version", sightlinehttp.HandleVersion(version, store))

	featureFlags.IfNotSet(featureflag.FlagDisableInspectionStream, func() {
		service.Handle("/inspect", websocket.Server{
			Handshake: func(c *websocket.Config, r *http.Request) error {
				return nil
			},
			Handler: func(conn *websocket.Conn) {
				defer conn.Close()

				var h swebsocket.Handler = &swebsocket.InspectHandler{
					Store:             store,
					Radius:            conf.InspectRadius,
					Rate:              conf.InspectRate,
					ClientIdleTimeout: conf.ClientIdleTimeout,
				}
				h = swebsocket.HandlerWithLogs(h, conf.LogSummaryInterval)
				h = swebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
				defer h.Close()

				swebsocket.Handle(ctx, conn, h)
			},
		})
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", sightlinehttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", sightlinehttp.HandleReadyCheck(store))
	admin.HandleFunc("/reload", sightlinehttp.HandleReload(store))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("data_file", conf.DataFile).
		WithTag("feature_flags", conf.FeatureFlags).
		Info("starting sightline server")

	sightlinehttp.ListenAndServe(ctx, conf.ShutdownTimeout,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			sightlinehttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func buildOptions(conf config, featureFlags featureflag.FeatureFlag) engine.Options {
	opts := engine.Options{
		GridCellSize:  conf.GridCellSize,
		ChunkCount:    conf.ChunkCount,
		LODCellSizes:  lod.CellSizes{conf.LODCellSizeMedium, conf.LODCellSizeCoarse},
		SpeciesPolicy: pointset.RejectInvalidSpecies,
	}

	featureFlags.IfSet(featureflag.FlagClampInvalidSpecies, func() {
		opts.SpeciesPolicy = pointset.ClampSpecies
	})
	return opts
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if len(conf.DataFile) == 0 {
		return errors.New("data file is empty")
	}

	if !isPositive(conf.GridCellSize) {
		return errors.New("grid cell size must be positive").
			WithTag("grid_cell_size", conf.GridCellSize)
	}

	if conf.ChunkCount < 1 {
		return errors.New("chunk count must be at least 1").
			WithTag("chunk_count", conf.ChunkCount)
	}

	if !isPositive(conf.LODCellSizeMedium) ||
		!isPositive(conf.LODCellSizeCoarse) ||
		conf.LODCellSizeCoarse < conf.LODCellSizeMedium {
		return errors.New("level of detail cell sizes must be positive and non-decreasing").
			WithTag("medium", conf.LODCellSizeMedium).
			WithTag("coarse", conf.LODCellSizeCoarse)
	}

	if conf.MaxInstances < 0 {
		return errors.New("max instances must not be negative").
			WithTag("max_instances", conf.MaxInstances)
	}

	if _, err := codec.ParseCompression(conf.ExportCompression); err != nil {
		return err
	}

	if math.IsNaN(conf.InspectRadius) || conf.InspectRadius < 0 {
		return errors.New("inspect radius must not be negative").
			WithTag("inspect_radius", conf.InspectRadius)
	}

	if conf.ClientIdleTimeout <= 0 {
		return errors.New("client idle timeout must be positive").
			WithTag("client_idle_timeout", conf.ClientIdleTimeout)
	}

	if conf.LogSummaryInterval <= 0 {
		return errors.New("log summary interval must be positive").
			WithTag("log_summary_interval", conf.LogSummaryInterval)
	}

	if conf.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive").
			WithTag("shutdown_timeout", conf.ShutdownTimeout)
	}

	return nil
}

func isPositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
