// Package console is the line-oriented operator front end: chat events and
// client signals are printed as they arrive and stdin lines become chat
// messages or moderation commands.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"yambot/internal/chatclient"
	"yambot/internal/config"
	"yambot/internal/eventsub"
	"yambot/internal/logging"
	"yambot/internal/runstatus"
	"yambot/internal/runtime"
)

const (
	commandTimeout = 10 * time.Second
	stopTimeout    = 5 * time.Second

	exitOK      = 0
	exitRun     = 1
	exitOptions = 2
)

// Run starts the bot with opts already merged with the saved settings and
// serves the console until the run ends. It returns the process exit code.
func Run(rootCtx context.Context, buildVersion string, opts config.Options) int {
	settingsPath, pathErr := config.SettingsPath(opts)

	logger := logging.New(false)
	logger.SetDebugEnabled(opts.Debug)
	if err := logger.EnableFilePersistence(0); err != nil {
		logger.Warn("failed to enable file log persistence", logging.Field("error", err))
	}
	logger.SetTerminalOutputEnabled(opts.Debug)
	defer logger.Close()
	logger.Info("starting yambot console", logging.Field("version", buildVersion))

	if err := config.ValidateRequired(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitOptions
	}
	if pathErr == nil {
		if _, err := os.Stat(settingsPath); errors.Is(err, os.ErrNotExist) {
			if err := config.SaveSettings(settingsPath, config.SettingsFromOptions(opts)); err != nil {
				logger.Warn("failed to save settings", logging.Field("path", settingsPath), logging.Field("error", err))
			}
		}
	}

	return New(os.Stdin, os.Stdout).Run(rootCtx, opts, logger)
}

type Console struct {
	in  io.Reader
	out io.Writer
	now func() time.Time

	mu     sync.Mutex
	status string
}

func New(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out, now: time.Now, status: runstatus.Starting}
}

func (c *Console) Run(ctx context.Context, opts config.Options, logger *logging.Logger) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctrl := runtime.NewController(ctx)
	exited := make(chan error, 1)
	err := ctrl.Start(opts, logger, runtime.StartHooks{
		OnEvent: func(ev eventsub.Event) {
			c.println(FormatEvent(ev, c.now()))
		},
		OnSignal: func(sig chatclient.Signal) {
			c.println(FormatSignal(sig))
		},
		OnStatus: c.setStatus,
		OnExit: func(err error) {
			exited <- err
		},
	})
	if err != nil {
		c.println(ErrorStyle.Render(err.Error()))
		return exitRun
	}
	c.println(HelpStyle.Render("type /help for commands"))

	lines := make(chan string)
	go c.readLines(ctx, lines)

	for {
		select {
		case err := <-exited:
			return c.exitCode(err)
		case line, ok := <-lines:
			if !ok {
				// Keep running without input, e.g. under a service manager.
				lines = nil
				continue
			}
			var chat Chat
			if client := ctrl.Client(); client != nil {
				chat = client
			}
			if c.handleLine(ctx, chat, line) {
				if !ctrl.StopAndWait(stopTimeout) {
					logger.Warn("bot did not stop in time")
					return exitRun
				}
			}
		}
	}
}

// handleLine runs one input line and reports whether the operator asked to
// quit.
func (c *Console) handleLine(ctx context.Context, chat Chat, line string) bool {
	cmd, err := ParseCommand(line)
	if err != nil {
		c.println(ErrorStyle.Render(err.Error()))
		return false
	}
	switch cmd.Kind {
	case CommandQuit:
		c.println(HelpStyle.Render("disconnecting"))
		return true
	case CommandHelp:
		c.println(HelpStyle.Render(helpText))
		return false
	case CommandStatus:
		c.println(HelpStyle.Render("-- status: " + c.currentStatus()))
		return false
	}
	if chat == nil {
		c.println(ErrorStyle.Render(chatclient.ErrNotConnected.Error()))
		return false
	}

	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	result, err := Execute(cmdCtx, chat, cmd)
	if err != nil {
		c.println(ErrorStyle.Render(err.Error()))
		return false
	}
	if result != "" {
		c.println(OKStyle.Render(result))
	}
	return false
}

func (c *Console) readLines(ctx context.Context, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (c *Console) exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return exitOK
	}
	c.println(ErrorStyle.Render("stopped: " + err.Error()))
	return exitRun
}

func (c *Console) setStatus(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	c.println(HelpStyle.Render("-- status: " + status))
}

func (c *Console) currentStatus() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Console) println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}
