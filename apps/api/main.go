package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/jmoiron/sqlx"

	echoapi "github.com/sayghamsari/daftarrabet/apps/api/echo"
	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/user"
	logsvc "github.com/sayghamsari/daftarrabet/services/logger"
	"github.com/sayghamsari/daftarrabet/services/metrics"
	"github.com/sayghamsari/daftarrabet/services/tracing"
)

func main() {
	c := newContainer()

	must(c.Invoke(func(
		conf *core.Config,
		apiLogger core.Logger,
		dbLoggerParam dbLoggerParam,
		db *sqlx.DB,
		m *metrics.Metrics,
		server echoapi.Server,
	) {
		// =========================================================================
		// Initialize App

		apiLogger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
		if l, ok := apiLogger.(*logsvc.RollbarLogger); ok {
			defer l.Close()
		}

		core.ParseTemplates(apiLogger)

		user.LoadCommonPasswords(apiLogger)

		m.SetBuildInfo(conf.AppName, conf.Env, conf.Build)

		shutdownTracing, err := tracing.Init(context.Background(), conf)
		if err != nil {
			apiLogger.Fatal(fmt.Sprintf("initializing tracing: %v", err), err)
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				apiLogger.Error(fmt.Sprintf("flushing traces: %v", err), err)
			}
		}()

		dbLogger := dbLoggerParam.Logger
		defer func() {
			if err := db.Close(); err != nil {
				dbLogger.Fatal("Failed to close", err)
			}
		}()
		defer apiLogger.Info("Application stopped")

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.
		// /metrics - Prometheus metrics.

		// Expose important info under /debug/vars.
		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)
		http.DefaultServeMux.Handle("/metrics", m.Handler())

		go func() {
			if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
				apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()

		// =========================================================================
		// Start API Service

		go func() {
			server.Start()
		}()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			apiLogger.Fatal(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			apiLogger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

			// give outstanding requests a deadline for completion
			ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()

			// asking listener to shut down and shed load
			if err := server.Shutdown(ctx); err != nil {
				apiLogger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

				if err = server.Close(); err != nil {
					apiLogger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
				}
			}
		}
	}))
}
