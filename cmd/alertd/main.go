package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/app"
	rtsup "github.com/Qais-Hweidi/Burroughs-Alert-sub002/internal/runtime/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A .env in the working directory may carry the Telegram credentials;
	// missing is fine.
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to the config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "alertd:", err)
		return 1
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "alertd: start:", err)
		return 1
	}

	// Done closes on SIGINT/SIGTERM or on a fatal supervised error.
	<-a.Done()

	reason := app.StopSignal
	if a.Err() != nil {
		reason = app.StopFatalError
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	// Non-zero exit tells the process manager this was not a clean stop, so
	// its own restart policy takes over.
	if err := a.Err(); err != nil {
		var exhausted *rtsup.ExhaustedError
		if errors.As(err, &exhausted) {
			fmt.Fprintf(os.Stderr, "alertd: %s permanently failed after %d restarts: %v\n",
				exhausted.Name, exhausted.Restarts, exhausted.Err)
		} else {
			fmt.Fprintln(os.Stderr, "alertd:", err)
		}
		return 1
	}
	return 0
}
