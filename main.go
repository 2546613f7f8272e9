package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"yambot/internal/config"
	"yambot/internal/ui/console"
)

var BuildVersion = "dev"

func main() {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.ParseOptions(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if path, err := config.SettingsPath(opts); err == nil {
		if saved, loadErr := config.LoadSettings(path); loadErr == nil {
			opts = config.MergeOptionsWithSettings(opts, saved)
		}
	}

	lock, lockedByOther, lockErr := acquireInstanceLock(opts.Channel)
	if lockErr != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize single-instance lock:", lockErr)
		os.Exit(2)
	}
	if lockedByOther {
		fmt.Fprintf(os.Stderr, "yambot is already running for channel %q.\n", opts.Channel)
		os.Exit(1)
	}

	code := console.Run(rootCtx, BuildVersion, opts)
	_ = lock.Release()
	os.Exit(code)
}

// instanceKey reduces a channel login to characters safe in file and mutex
// names.
func instanceKey(channel string) string {
	channel = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(channel), "#")))
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return -1
		}
	}, channel)
	if key == "" {
		return "default"
	}
	return key
}
