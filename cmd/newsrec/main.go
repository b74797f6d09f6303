package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/goccy/go-json"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/umputun/newsrec/pkg/coldstart"
	"github.com/umputun/newsrec/pkg/config"
	"github.com/umputun/newsrec/pkg/domain"
	"github.com/umputun/newsrec/pkg/engine"
	"github.com/umputun/newsrec/pkg/feed"
	"github.com/umputun/newsrec/pkg/llm"
	"github.com/umputun/newsrec/pkg/scheduler"
	"github.com/umputun/newsrec/pkg/snapshot"
	"github.com/umputun/newsrec/pkg/source"
)

// Opts with all CLI options
type Opts struct {
	Config   string `short:"c" long:"config" env:"NEWSREC_CONFIG" default:"newsrec.yml" description:"configuration file"`
	Snapshot string `short:"s" long:"snapshot" env:"NEWSREC_SNAPSHOT" description:"snapshot path, overrides config"`
	Metrics  string `long:"metrics" env:"NEWSREC_METRICS" description:"write prometheus metrics to this textfile"`

	Train struct {
		NoUpload bool `long:"no-upload" description:"skip uploading snapshot to s3"`
	} `command:"train" description:"train the engine from source tables and save snapshot"`

	Recommend struct {
		User string `short:"u" long:"user" required:"true" description:"user id"`
		N    int    `short:"n" long:"num" default:"10" description:"number of recommendations"`
		RSS  bool   `long:"rss" description:"print as RSS feed"`
	} `command:"recommend" description:"recommendations for a user"`

	Popular struct {
		N   int  `short:"n" long:"num" default:"10" description:"number of articles"`
		RSS bool `long:"rss" description:"print as RSS feed"`
	} `command:"popular" description:"most popular articles"`

	Recent struct {
		N   int  `short:"n" long:"num" default:"10" description:"number of articles"`
		RSS bool `long:"rss" description:"print as RSS feed"`
	} `command:"recent" description:"articles inside the recency window"`

	Similar struct {
		Title string `short:"t" long:"title" required:"true" description:"title to match"`
		N     int    `short:"n" long:"num" default:"10" description:"number of articles"`
	} `command:"similar" description:"articles with similar titles, needs embedding provider"`

	ImportCSV struct {
		News  []string `long:"news" description:"news CSV patterns, config source.news by default"`
		Users []string `long:"users" description:"user CSV patterns, config source.users by default"`
	} `command:"import-csv" description:"load CSV parts into the sqlite store"`

	ImportFeed struct {
		Timeout time.Duration `long:"timeout" default:"30s" description:"feed fetch timeout"`
		Args    struct {
			Feeds []string `positional-arg-name:"feed" required:"1"`
		} `positional-args:"yes"`
	} `command:"import-feed" description:"add feed items to the engine as pending news"`

	Watch struct {
		Feeds []string `short:"f" long:"feed" description:"feed to import, config watch.feeds by default"`
	} `command:"watch" description:"import feeds and retrain periodically until interrupted"`

	Status struct{} `command:"status" description:"show engine state"`

	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	_ = godotenv.Load()

	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = true
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}
	if parser.Active == nil {
		parser.WriteHelp(os.Stderr)
		os.Exit(1)
	}

	color.NoColor = color.NoColor || opts.NoColor
	setupLog(opts.Debug)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, parser.Active.Name, os.Stdout); err != nil {
		if errors.Is(err, domain.ErrDataNotLoaded) {
			log.Printf("[ERROR] data not loaded, run train first: %v", err)
		} else {
			log.Printf("[ERROR] %v", err)
		}
		cancel()
		os.Exit(1) //nolint:gocritic // cancel called above
	}
}

// run executes cmd and writes its result to out
func run(ctx context.Context, opts Opts, cmd string, out io.Writer) error {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.Snapshot != "" {
		cfg.Snapshot.Path = opts.Snapshot
	}
	if cfg.Embedding.APIKey != "" {
		setupLog(opts.Debug, cfg.Embedding.APIKey) // mask api key from here on
	}

	reg := prometheus.NewRegistry()
	if opts.Metrics != "" {
		defer func() {
			if err := prometheus.WriteToTextfile(opts.Metrics, reg); err != nil {
				log.Printf("[WARN] failed to write metrics to %s: %v", opts.Metrics, err)
			}
		}()
	}

	a := &app{cfg: cfg, out: out, reg: reg}
	defer a.close()

	switch cmd {
	case "train":
		return a.train(ctx, !opts.Train.NoUpload)
	case "recommend":
		return a.query(ctx, func(e *engine.Engine) ([]domain.Recommendation, error) {
			return e.UserRecommendations(ctx, opts.Recommend.User, opts.Recommend.N)
		}, rssTitle(opts.Recommend.RSS, "user "+opts.Recommend.User))
	case "popular":
		return a.query(ctx, func(e *engine.Engine) ([]domain.Recommendation, error) {
			return e.PopularRecommendations(opts.Popular.N)
		}, rssTitle(opts.Popular.RSS, "popular"))
	case "recent":
		return a.query(ctx, func(e *engine.Engine) ([]domain.Recommendation, error) {
			return e.RecentNews(opts.Recent.N)
		}, rssTitle(opts.Recent.RSS, "recent"))
	case "similar":
		return a.query(ctx, func(e *engine.Engine) ([]domain.Recommendation, error) {
			return e.SimilarToTitle(ctx, opts.Similar.Title, opts.Similar.N)
		}, "")
	case "import-csv":
		return a.importCSV(ctx, opts.ImportCSV.News, opts.ImportCSV.Users)
	case "import-feed":
		return a.importFeed(ctx, feed.NewImporter(opts.ImportFeed.Timeout), opts.ImportFeed.Args.Feeds)
	case "watch":
		return a.watch(ctx, opts.Watch.Feeds)
	case "status":
		return a.status(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// loadConfig reads config file, a missing file gives defaults
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Printf("[INFO] config %s not found, using defaults", path)
		cfg := &config.Config{}
		cfg.SetDefaults()
		return cfg, nil
	}
	return config.Load(path)
}

func rssTitle(enabled bool, title string) string {
	if !enabled {
		return ""
	}
	return title
}

// app holds collaborators built from config for a single command
type app struct {
	cfg     *config.Config
	out     io.Writer
	reg     prometheus.Registerer
	closers []io.Closer
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Printf("[WARN] close failed: %v", err)
		}
	}
}

func (a *app) train(ctx context.Context, upload bool) error {
	src, err := a.source(ctx)
	if err != nil {
		return err
	}
	e := engine.New(a.cfg.Engine, src, a.engineOptions(ctx)...)
	if err := e.Train(ctx); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	if err := e.Save(a.cfg.Snapshot.Path); err != nil {
		return err
	}
	if upload && a.cfg.Snapshot.S3.Bucket != "" {
		if err := a.upload(ctx, e); err != nil {
			return err
		}
	}
	return a.print(e.Stats())
}

func (a *app) query(ctx context.Context, fn func(e *engine.Engine) ([]domain.Recommendation, error), rss string) error {
	e, err := a.engine(ctx)
	if err != nil {
		return err
	}
	recs, err := fn(e)
	if err != nil {
		return err
	}
	if rss != "" {
		out, err := feed.NewGenerator("http://localhost").GenerateRSS(rss, recs)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(a.out, out)
		return err
	}
	return a.print(recs)
}

func (a *app) importCSV(ctx context.Context, news, users []string) error {
	if len(news) == 0 {
		news = a.cfg.Source.News
	}
	if len(users) == 0 {
		users = a.cfg.Source.Users
	}
	tables, err := (&source.CSVSource{News: news, Users: users, MaxWorkers: a.cfg.Source.MaxWorkers}).Load(ctx)
	if err != nil {
		return err
	}
	store, err := a.store(ctx)
	if err != nil {
		return err
	}
	if err := store.SaveArticles(ctx, tables.Articles); err != nil {
		return err
	}
	if err := store.SaveUsers(ctx, tables.Users); err != nil {
		return err
	}
	return a.print(map[string]int{"articles": len(tables.Articles), "users": len(tables.Users)})
}

// importFeed adds feed items to the engine as pending articles and saves the snapshot.
// With sqlite source the items are stored too, so the next train vectorizes them.
func (a *app) importFeed(ctx context.Context, im *feed.Importer, feeds []string) error {
	e, err := a.engine(ctx)
	if err != nil {
		return err
	}
	var articles []domain.Article
	for _, f := range feeds {
		items, err := im.Import(ctx, f)
		if err != nil {
			return err
		}
		articles = append(articles, items...)
	}

	added, err := e.AddNews(articles...)
	if err != nil {
		return fmt.Errorf("add news: %w", err)
	}
	if a.cfg.Source.Type == config.SourceSQLite {
		store, err := a.store(ctx)
		if err != nil {
			return err
		}
		if _, err := store.AddArticles(ctx, articles); err != nil {
			return err
		}
	}
	if added > 0 {
		if err := e.Save(a.cfg.Snapshot.Path); err != nil {
			return err
		}
	}
	return a.print(map[string]int{"fetched": len(articles), "added": added, "pending": e.Stats().Pending})
}

// watch runs the scheduler until ctx is canceled. The engine is restored from the snapshot
// or trained from source when there is none yet.
func (a *app) watch(ctx context.Context, feeds []string) error {
	if len(feeds) == 0 {
		feeds = a.cfg.Watch.Feeds
	}
	if len(feeds) == 0 {
		return errors.New("no feeds to watch")
	}
	src, err := a.source(ctx)
	if err != nil {
		return err
	}

	var e *engine.Engine
	if _, statErr := os.Stat(a.cfg.Snapshot.Path); statErr == nil {
		if e, err = engine.Load(a.cfg.Snapshot.Path, a.cfg.Engine, src, a.engineOptions(ctx)...); err != nil {
			return err
		}
	} else {
		e = engine.New(a.cfg.Engine, src, a.engineOptions(ctx)...)
		if err := e.Train(ctx); err != nil {
			return fmt.Errorf("initial train: %w", err)
		}
		if err := e.Save(a.cfg.Snapshot.Path); err != nil {
			return err
		}
	}

	params := scheduler.Params{
		Engine:         e,
		Importer:       feed.NewImporter(a.cfg.Watch.Timeout),
		Feeds:          feeds,
		SnapshotPath:   a.cfg.Snapshot.Path,
		ImportInterval: a.cfg.Watch.ImportInterval,
		TrainInterval:  a.cfg.Watch.TrainInterval,
		MaxWorkers:     a.cfg.Watch.MaxWorkers,
	}
	if store, ok := src.(*source.Store); ok {
		params.Store = store
	}

	sched := scheduler.NewScheduler(params)
	sched.Start(ctx)
	<-ctx.Done()
	sched.Stop()
	return a.print(e.Stats())
}

func (a *app) status(ctx context.Context) error {
	e, err := a.engine(ctx)
	if err != nil && !errors.Is(err, domain.ErrDataNotLoaded) {
		return err
	}
	if e == nil {
		e = engine.New(a.cfg.Engine, nil)
	}

	var storeStatus string // empty unless source is sqlite
	if a.cfg.Source.Type == config.SourceSQLite {
		storeStatus = "ok"
		store, err := a.store(ctx)
		if err == nil {
			err = store.Ping(ctx)
		}
		if err != nil {
			storeStatus = err.Error()
		}
	}
	return a.print(struct {
		Version  string       `json:"version"`
		Snapshot string       `json:"snapshot"`
		Store    string       `json:"store,omitempty"`
		Stats    engine.Stats `json:"stats"`
	}{Version: revision, Snapshot: a.cfg.Snapshot.Path, Store: storeStatus, Stats: e.Stats()})
}

// engine restores the engine from the local snapshot, downloading it from s3 when the
// local file is missing and a bucket is configured
func (a *app) engine(ctx context.Context) (*engine.Engine, error) {
	opts := a.engineOptions(ctx)
	if _, err := os.Stat(a.cfg.Snapshot.Path); err == nil {
		return engine.Load(a.cfg.Snapshot.Path, a.cfg.Engine, nil, opts...)
	}
	if a.cfg.Snapshot.S3.Bucket == "" {
		return nil, fmt.Errorf("no snapshot at %s: %w", a.cfg.Snapshot.Path, domain.ErrDataNotLoaded)
	}

	store, err := snapshot.NewS3Store(ctx, a.cfg.Snapshot)
	if err != nil {
		return nil, err
	}
	b, err := store.Download(ctx)
	if err != nil {
		return nil, err
	}
	e := engine.New(a.cfg.Engine, nil, opts...)
	if err := e.Restore(b); err != nil {
		return nil, err
	}
	log.Printf("[INFO] engine restored from %s", store.Location())
	return e, nil
}

func (a *app) upload(ctx context.Context, e *engine.Engine) error {
	store, err := snapshot.NewS3Store(ctx, a.cfg.Snapshot)
	if err != nil {
		return err
	}
	b, err := e.Snapshot()
	if err != nil {
		return err
	}
	if err := store.Upload(ctx, b); err != nil {
		return err
	}
	log.Printf("[INFO] snapshot uploaded to %s", store.Location())
	return nil
}

func (a *app) engineOptions(ctx context.Context) []engine.Option {
	opts := []engine.Option{engine.WithRegisterer(a.reg)}
	if r := a.resolver(ctx); r != nil {
		opts = append(opts, engine.WithResolver(r))
	}
	return opts
}

// resolver builds cold-start resolver from embedding config, nil if disabled
func (a *app) resolver(ctx context.Context) *coldstart.Resolver {
	emb, err := llm.NewEmbedder(a.cfg.Embedding)
	if err != nil {
		log.Printf("[WARN] embedding provider disabled: %v", err)
		return nil
	}
	if emb == nil {
		return nil
	}

	var cache coldstart.Cache = coldstart.NewMemoryCache(a.cfg.Embedding.CacheSize)
	if a.cfg.Embedding.RedisAddr != "" {
		rc, err := coldstart.NewRedisCache(ctx, a.cfg.Embedding.RedisAddr, "newsrec:emb:", a.cfg.Embedding.CacheTTL)
		if err != nil {
			log.Printf("[WARN] redis cache unavailable, using memory cache: %v", err)
		} else {
			cache = rc
			a.closers = append(a.closers, rc)
		}
	}
	return coldstart.New(emb, coldstart.WithBatchSize(a.cfg.Embedding.BatchSize), coldstart.WithCache(cache),
		coldstart.WithKeyPrefix(embeddingKeyPrefix(a.cfg.Embedding)))
}

// embeddingKeyPrefix separates cached vectors of different providers and models
func embeddingKeyPrefix(cfg config.EmbeddingConfig) string {
	model := cfg.Model
	if model == "" {
		model = "default"
	}
	return cfg.Provider + ":" + model + ":"
}

func (a *app) source(ctx context.Context) (engine.Source, error) {
	if a.cfg.Source.Type == config.SourceSQLite {
		return a.store(ctx)
	}
	return &source.CSVSource{News: a.cfg.Source.News, Users: a.cfg.Source.Users, MaxWorkers: a.cfg.Source.MaxWorkers}, nil
}

func (a *app) store(ctx context.Context) (*source.Store, error) {
	store, err := source.NewStore(ctx, source.DBConfig{
		DSN:             a.cfg.Database.DSN,
		MaxOpenConns:    a.cfg.Database.MaxOpenConns,
		MaxIdleConns:    a.cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(a.cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, store)
	return store, nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func setupLog(dbg bool, secs ...string) {
	logOpts := logOptions(dbg, os.Stderr, secs...)
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}

// logOptions makes lgr options writing to out, secs are masked in every message
func logOptions(dbg bool, out io.Writer, secs ...string) []lgr.Option {
	logOpts := []lgr.Option{lgr.Out(io.Discard), lgr.Err(out)}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError, lgr.Out(out)}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	return logOpts
}
