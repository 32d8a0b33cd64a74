package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/log"
	"twine.dev/app"
	"twine.dev/app/config"
	"twine.dev/pkg/version"
)

func main() {
	os.Exit(run())
}

// run holds the entire lifecycle of the process in one function so that
// every exit path returns through it rather than calling os.Exit directly
// -- os.Exit skips deferred functions, and the pprof defer below only
// flushes a profile if it runs.
func run() int {
	runtime.GOMAXPROCS(runtime.NumCPU())
	var err error
	var cfg *config.C
	if cfg, err = config.New(); chk.T(err) {
	}
	log.I.F("starting %s %s", cfg.AppName, version.V)

	switch cfg.Pprof {
	case "cpu":
		defer profile.Start(profile.CPUProfile).Stop()
	case "memory":
		defer profile.Start(profile.MemProfile).Stop()
	case "allocation":
		defer profile.Start(profile.MemProfileAllocs).Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(cfg)
	if chk.E(err) {
		return 1
	}

	var healthSrv *http.Server
	if cfg.HealthPort > 0 {
		mux := http.NewServeMux()
		mux.HandleFunc(
			"/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			},
		)
		healthSrv = &http.Server{
			Addr:    fmt.Sprintf("0.0.0.0:%d", cfg.HealthPort),
			Handler: mux,
		}
		go func() {
			log.I.F("health check server listening on %s", healthSrv.Addr)
			if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.E.F("health server error: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancelShutdown()
			_ = healthSrv.Shutdown(shutdownCtx)
		}()
	}

	quit := make(chan error, 1)
	go func() { quit <- a.Run(ctx) }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigs:
		fmt.Printf("\r")
		cancel()
		<-quit
		chk.E(a.Close())
		return 0
	case err = <-quit:
		cancel()
		chk.E(a.Close())
		if err != nil {
			log.E.F("fatal error: %v", err)
			return 1
		}
		return 0
	}
}
