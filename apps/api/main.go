package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	echoapi "github.com/trezcool/masomo-live/apps/api/echo"
	"github.com/trezcool/masomo-live/assets"
	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/catalog"
	"github.com/trezcool/masomo-live/core/live"
	"github.com/trezcool/masomo-live/core/prefs"
	"github.com/trezcool/masomo-live/core/registration"
	emailsvc "github.com/trezcool/masomo-live/services/email"
	logsvc "github.com/trezcool/masomo-live/services/logger"
	"github.com/trezcool/masomo-live/storage/docstore"
	"github.com/trezcool/masomo-live/storage/prefs/sqliteprefs"
)

const sweepInterval = 10 * time.Minute

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewStdLogger("API : ", conf)
	defer logger.Close()
	liveLogger := logsvc.NewStdLogger("LIVE : ", conf)

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// set up the live backend
	store, closeStore, err := docstore.Open(ctx, conf, liveLogger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening %s store: %v", conf.Live.Backend, err), err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			liveLogger.Error(fmt.Sprintf("closing store: %v", err), err)
		}
	}()
	if conf.Live.Backend == core.BackendMemory {
		if err := catalog.Seed(ctx, store, time.Now().UTC()); err != nil {
			logger.Fatal(fmt.Sprintf("seeding memory store: %v", err), err)
		}
	}

	// set up preferences persistence
	prefsDB, err := sqliteprefs.Open(conf.Prefs.Path)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening preferences: %v", err), err)
	}
	defer prefsDB.Close()

	// set up services
	tmpls, err := core.ParseEmailTemplates(assets.EmailTemplates(), conf.FrontendBaseURL, !conf.Debug)
	if err != nil {
		logger.Fatal(fmt.Sprintf("parsing email templates: %v", err), err)
	}
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, tmpls, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, tmpls, logger)
	}

	// =========================================================================
	// Initialize App

	validate, translator := core.NewValidator()
	live.InitValidators(validate, translator)
	catalog.InitValidators(validate, translator)
	registration.InitValidators(validate, translator)

	regSvc := registration.NewService(store, mailSvc, validate, translator, logger)
	defer regSvc.Close()
	go regSvc.Run(ctx, sweepInterval)

	prefsRegistry := prefs.NewRegistry(prefsDB, validate, translator)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("liveBackend").Set(conf.Live.Backend)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			Store:         store,
			Registrations: regSvc,
			Prefs:         prefsRegistry,
			Validate:      validate,
			Translator:    translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancelShutdown()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(shutdownCtx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}
