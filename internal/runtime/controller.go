package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"yambot/internal/chatclient"
	"yambot/internal/config"
	"yambot/internal/eventsub"
	"yambot/internal/logging"
)

// ErrAlreadyRunning is returned by Start while a run is in progress.
var ErrAlreadyRunning = errors.New("bot is already running")

type Controller struct {
	rootCtx context.Context
	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	client  *chatclient.Client
	wg      sync.WaitGroup
}

type StartHooks struct {
	OnEvent  func(eventsub.Event)
	OnSignal func(chatclient.Signal)
	OnStatus func(string)
	OnExit   func(error)
}

func NewController(rootCtx context.Context) *Controller {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Controller{rootCtx: rootCtx}
}

func (c *Controller) Start(opts config.Options, logger *logging.Logger, hooks StartHooks) error {
	if logger == nil {
		panic("runtime.Controller.Start: logger must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrAlreadyRunning
	}
	if err := config.ValidateRequired(opts); err != nil {
		return err
	}
	logger.Debug("runtime start requested",
		logging.Field("channel", opts.Channel),
		logging.Field("metrics_addr", opts.MetricsAddr),
		logging.Field("has_event_hook", hooks.OnEvent != nil),
	)

	service, err := NewServiceWithHooks(opts, logger, hooks)
	if err != nil {
		return fmt.Errorf("runtime setup failed: %w", err)
	}

	ctx, cancel := context.WithCancel(c.rootCtx)

	c.cancel = cancel
	c.running = true
	c.client = service.Client()
	c.wg.Go(func() {
		defer cancel()
		runErr := service.RunContext(ctx)
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			logger.Debug("runtime service exited due to context cancellation", logging.Field("error", runErr))
		} else if runErr != nil {
			logger.Warn("runtime service exited with error", logging.Field("error", runErr))
		} else {
			logger.Info("runtime service exited")
		}
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.client = nil
		c.mu.Unlock()

		if hooks.OnExit != nil {
			hooks.OnExit(runErr)
		}
	})

	return nil
}

// Client is the chat client of the current run, or nil when stopped.
func (c *Controller) Client() *chatclient.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Controller) Wait(timeout time.Duration) bool {
	waitDone := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waitDone)
	}()
	if timeout <= 0 {
		<-waitDone
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-waitDone:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Controller) StopAndWait(timeout time.Duration) bool {
	c.Stop()
	return c.Wait(timeout)
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
