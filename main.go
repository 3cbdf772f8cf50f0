package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/pebble"
	"github.com/deemkeen/pubgate/activitypub"
	"github.com/deemkeen/pubgate/db"
	"github.com/deemkeen/pubgate/events"
	"github.com/deemkeen/pubgate/feed"
	"github.com/deemkeen/pubgate/kv"
	"github.com/deemkeen/pubgate/util"
	"github.com/deemkeen/pubgate/web"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const (
	eventFlushInterval = 5 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	// a missing .env is fine; the environment and config.yaml still apply
	_ = godotenv.Load()

	app := cli.App{
		Name:    util.Name,
		Usage:   "multi-site ActivityPub gateway",
		Version: util.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Usage: "overrides logLevel from the config"},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "serve",
			Usage:  "serve federation, webhooks and the API",
			Action: runServe,
		},
		{
			Name:  "site",
			Usage: "manage sites",
			Subcommands: []*cli.Command{
				{
					Name:      "add",
					Usage:     "provision a site and print its webhook secret",
					ArgsUsage: "<host>",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "name", Usage: "display name of the site actor"},
					},
					Action: runSiteAdd,
				},
			},
		},
	}
	app.RunAndExitOnError()
}

// app holds the long-lived stores and services shared by the commands.
type app struct {
	conf       *util.AppConfig
	log        *log.Logger
	db         *db.DB
	kv         *kv.Store
	docs       *activitypub.DocumentStore
	bus        *events.Bus
	sites      *activitypub.Sites
	dispatcher *activitypub.Dispatcher
}

func setup(cctx *cli.Context) (*app, error) {
	conf, err := util.ReadConf()
	if err != nil {
		return nil, err
	}
	level := conf.Conf.LogLevel
	if l := cctx.String("log-level"); l != "" {
		level = l
	}
	logger := util.NewLogger(level, os.Stderr)
	logger.Debug("Configuration", "conf", util.PrettyPrint(conf))

	store, err := db.Open(util.ResolveFilePath(conf.Conf.DbPath), logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Running database migrations")
	if err := store.RunMigrations(cctx.Context); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	kvStore, err := kv.Open(util.ResolveFilePath(conf.Conf.KvPath), &pebble.Options{})
	if err != nil {
		store.Close()
		return nil, err
	}

	docs := activitypub.NewDocumentStore(kvStore, store)
	return &app{
		conf:  conf,
		log:   logger,
		db:    store,
		kv:    kvStore,
		docs:  docs,
		bus:   events.NewBus(store, logger),
		sites: activitypub.NewSites(store, docs, logger),
	}, nil
}

func (a *app) close() {
	if a.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		a.dispatcher.Close(ctx)
		cancel()
	}
	if err := a.kv.Close(); err != nil {
		a.log.Warn("Failed to close document store", "err", err)
	}
	if err := a.db.Close(); err != nil {
		a.log.Warn("Failed to close database", "err", err)
	}
}

func runSiteAdd(cctx *cli.Context) error {
	host := cctx.Args().First()
	if host == "" {
		return cli.Exit("need to provide the site host as an argument", 1)
	}
	a, err := setup(cctx)
	if err != nil {
		return err
	}
	defer a.close()

	site, acc, err := a.sites.Provision(cctx.Context, host, cctx.String("name"))
	if err != nil {
		return err
	}
	fmt.Printf("site:           %s\n", site.Host)
	fmt.Printf("actor:          %s\n", acc.ActorURI)
	fmt.Printf("webhook secret: %s\n", site.WebhookSecret)
	return nil
}

func runServe(cctx *cli.Context) error {
	a, err := setup(cctx)
	if err != nil {
		return err
	}
	defer a.close()
	conf, logger := a.conf, a.log

	resolver := activitypub.NewResolver(a.db, a.docs, activitypub.ResolverOptions{
		UserAgent: conf.Conf.UserAgent,
		CacheSize: conf.Conf.ActorCacheSize,
		ActorTTL:  conf.Conf.ActorCacheTTL,
		RetryMax:  2,
	}, logger)
	sender := activitypub.NewSender(a.db, activitypub.NewHTTPTransport(conf.Conf.UserAgent), conf.Conf.DeliveryConcurrency, logger)
	a.dispatcher = activitypub.NewDispatcher(sender, logger)

	feeds := feed.NewService(a.db, logger)
	feeds.Register(a.bus)
	notifications := feed.NewNotificationService(a.db, logger)
	notifications.Register(a.bus)

	if logger.GetLevel() > log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := web.Router(conf, web.Services{
		Store:         a.db,
		Sites:         a.sites,
		Docs:          a.docs,
		Verifier:      activitypub.NewVerifier(a.db, resolver, logger),
		Processor:     activitypub.NewProcessor(a.db, a.docs, resolver, a.dispatcher, a.bus, logger),
		Outbox:        activitypub.NewOutbox(a.db, a.docs, resolver, a.dispatcher, a.bus, logger),
		Views:         activitypub.NewViews(a.db, a.docs, resolver, activitypub.NewBuilder(a.db, a.docs, logger), logger),
		Collections:   activitypub.NewCollections(a.db, a.docs, logger),
		Feed:          feeds,
		Notifications: notifications,
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Conf.Host, conf.Conf.HttpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.bus.Run(ctx, eventFlushInterval)
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
