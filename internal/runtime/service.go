package runtime

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"yambot/internal/auth"
	"yambot/internal/chatclient"
	"yambot/internal/config"
	"yambot/internal/eventsub"
	"yambot/internal/helix"
	"yambot/internal/logging"
	"yambot/internal/runstatus"
	"yambot/internal/telemetry"
)

const defaultHTTPTimeout = 10 * time.Second

// Service wires the token store, Helix client, EventSub handler and chat
// client for one run and dispatches their output to the hooks.
type Service struct {
	opts         config.Options
	endpoints    config.Endpoints
	settingsPath string
	logger       *logging.Logger
	hooks        StartHooks

	store       *auth.Store
	refresher   *auth.Refresher
	credentials *auth.Credentials
	client      *chatclient.Client

	status runtimeStatusState

	mu        sync.Mutex
	persisted auth.TokenPair
}

func NewService(opts config.Options, logger *logging.Logger) (*Service, error) {
	return NewServiceWithHooks(opts, logger, StartHooks{})
}

func NewServiceWithHooks(opts config.Options, logger *logging.Logger, hooks StartHooks) (*Service, error) {
	if logger == nil {
		panic("runtime.NewServiceWithHooks: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}
	endpoints, err := config.BuildEndpoints(opts)
	if err != nil {
		return nil, err
	}
	settingsPath, err := config.SettingsPath(opts)
	if err != nil {
		logger.Warn("settings path unavailable, refreshed tokens will not be saved", logging.Field("error", err))
		settingsPath = ""
	}

	logger = logger.With(logging.Field("run_id", uuid.NewString()))
	logger.Debug("constructed endpoints",
		logging.Field("eventsub_url", endpoints.EventSubURL),
		logging.Field("helix_url", endpoints.HelixURL),
		logging.Field("token_url", endpoints.TokenURL),
		logging.Field("validate_url", endpoints.ValidateURL),
		logging.Field("settings_path", settingsPath),
	)

	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	tokens := auth.TokenPair{
		AccessToken:  strings.TrimSpace(opts.AccessToken),
		RefreshToken: strings.TrimSpace(opts.RefreshToken),
	}
	store := auth.NewStore(tokens)
	refresher := &auth.Refresher{
		ClientID:     strings.TrimSpace(opts.ClientID),
		ClientSecret: strings.TrimSpace(opts.ClientSecret),
		TokenURL:     endpoints.TokenURL,
		ValidateURL:  endpoints.ValidateURL,
		HTTP:         httpClient,
		Logger:       logger,
	}
	credentials := auth.NewCredentials(store, refresher, logger)
	api := helix.New(httpClient, endpoints.HelixURL, strings.TrimSpace(opts.ClientID), credentials, logger)
	handler := eventsub.NewHandler(endpoints.EventSubURL, logger)
	subs := eventsub.NewSubscriptionManager(api, logger)

	client := chatclient.New(chatclient.Config{
		Channel:              opts.Channel,
		ConnectMessage:       opts.ConnectMessage,
		MaxReconnectAttempts: opts.ReconnectAttempts,
		ReconnectBaseDelay:   opts.ReconnectBaseDelay,
		ReconnectMaxDelay:    opts.ReconnectMaxDelay,
	}, api, subs, handler, store, logger)

	return &Service{
		opts:         opts,
		endpoints:    endpoints,
		settingsPath: settingsPath,
		logger:       logger,
		hooks:        hooks,
		store:        store,
		refresher:    refresher,
		credentials:  credentials,
		client:       client,
		persisted:    tokens,
	}, nil
}

func (s *Service) Client() *chatclient.Client {
	return s.client
}

func (s *Service) RunContext(ctx context.Context) error {
	s.setRuntimeStatus(runstatus.Starting)
	if s.opts.MetricsAddr != "" {
		telemetry.Init()
	}

	if err := s.checkToken(ctx); err != nil {
		s.setRuntimeStatus(runstatus.DisconnectedAuth)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return s.client.Run(gctx)
	})
	g.Go(func() error {
		s.dispatchEvents(gctx)
		return nil
	})
	g.Go(func() error {
		s.dispatchSignals(gctx)
		return nil
	})
	if s.settingsPath != "" && !s.opts.NoWatch {
		g.Go(func() error {
			if err := config.WatchSettings(gctx, s.settingsPath, s.logger, s.applySettings); err != nil {
				s.logger.Warn("settings watcher unavailable", logging.Field("error", err))
			}
			return nil
		})
	}
	if s.opts.MetricsAddr != "" {
		g.Go(func() error {
			if err := telemetry.Serve(gctx, s.opts.MetricsAddr, s.logger); err != nil {
				s.logger.Warn("metrics endpoint unavailable", logging.Field("error", err))
			}
			return nil
		})
	}

	err := g.Wait()
	if isAuthFailure(err) {
		s.setRuntimeStatus(runstatus.DisconnectedAuth)
	} else {
		s.setRuntimeStatus(runstatus.Disconnected)
	}
	return err
}

// checkToken validates the access token before connecting, renewing it
// once if it has already expired, and logs the scopes it lacks.
func (s *Service) checkToken(ctx context.Context) error {
	access := s.store.Read().AccessToken
	validation, err := s.refresher.Validate(ctx, access)
	if auth.IsReason(err, auth.ReasonRejected) && s.store.Read().RefreshToken != "" {
		s.logger.Info("access token rejected at startup, refreshing")
		pair, refreshErr := s.credentials.Refresh(ctx, access)
		if refreshErr != nil {
			return refreshErr
		}
		s.persistTokens(pair)
		validation, err = s.refresher.Validate(ctx, pair.AccessToken)
	}
	switch {
	case err == nil:
	case auth.IsReason(err, auth.ReasonUnreachable):
		s.logger.Warn("token validation skipped, identity provider unreachable", logging.Field("error", err))
		return nil
	default:
		return err
	}

	s.logger.Info("access token validated",
		logging.Field("login", validation.Login),
		logging.Field("user_id", validation.UserID),
		logging.Field("expires_in", validation.ExpiresIn),
		logging.Field("scopes", validation.Scopes),
	)
	for _, scope := range missingScopes(validation.Scopes) {
		s.logger.Warn("access token missing scope", logging.Field("scope", scope))
	}
	return nil
}

func missingScopes(granted []string) []string {
	var missing []string
	for _, topic := range eventsub.Topics {
		if topic.Scope == "" || slices.Contains(missing, topic.Scope) {
			continue
		}
		alternatives := strings.Split(topic.Scope, " or ")
		if !slices.ContainsFunc(alternatives, func(scope string) bool { return slices.Contains(granted, scope) }) {
			missing = append(missing, topic.Scope)
		}
	}
	return missing
}

func (s *Service) dispatchEvents(ctx context.Context) {
	events := s.client.Events()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-events:
					s.notifyEvent(ev)
				default:
					return
				}
			}
		case ev := <-events:
			s.notifyEvent(ev)
		}
	}
}

func (s *Service) dispatchSignals(ctx context.Context) {
	signals := s.client.Signals()
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case sig := <-signals:
					s.handleSignal(sig)
				default:
					return
				}
			}
		case sig := <-signals:
			s.handleSignal(sig)
		}
	}
}

func (s *Service) handleSignal(sig chatclient.Signal) {
	switch sig.Kind {
	case chatclient.SignalConnected:
		s.setRuntimeStatus(runstatus.Connected)
	case chatclient.SignalDisconnected:
		s.setRuntimeStatus(runstatus.Reconnecting)
	case chatclient.SignalError:
		if errors.Is(sig.Err, chatclient.ErrKeepaliveTimeout) {
			s.setRuntimeStatus(runstatus.Stale)
		}
	case chatclient.SignalTokensRefreshed:
		s.persistTokens(sig.Tokens)
	}
	if s.hooks.OnSignal != nil {
		s.hooks.OnSignal(sig)
	}
}

func (s *Service) persistTokens(tokens auth.TokenPair) {
	if s.settingsPath == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tokens == s.persisted {
		return
	}
	if err := config.SaveTokens(s.settingsPath, tokens); err != nil {
		s.logger.Warn("failed to save refreshed tokens", logging.Field("path", s.settingsPath), logging.Field("error", err))
		return
	}
	s.persisted = tokens
	s.logger.Debug("refreshed tokens saved", logging.Field("path", s.settingsPath))
}

// applySettings picks up tokens written to the settings file by another
// tool, such as a re-authorization flow.
func (s *Service) applySettings(settings config.Settings) {
	tokens := settings.Tokens()
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return
	}
	s.mu.Lock()
	if tokens == s.persisted {
		s.mu.Unlock()
		return
	}
	s.persisted = tokens
	s.mu.Unlock()

	if tokens == s.store.Read() {
		return
	}
	s.logger.Info("tokens reloaded from settings file")
	s.store.Replace(tokens)
}

func (s *Service) notifyEvent(ev eventsub.Event) {
	if s.hooks.OnEvent == nil {
		return
	}
	s.hooks.OnEvent(ev)
}

func (s *Service) notifyStatus(status string) {
	if s.hooks.OnStatus == nil {
		return
	}
	s.hooks.OnStatus(status)
}

func (s *Service) setRuntimeStatus(status string) {
	previous, next, changed := s.status.update(status)
	if !changed {
		return
	}
	s.logger.Debug("runtime status transition",
		logging.Field("from", previous),
		logging.Field("to", next),
	)
	s.notifyStatus(status)
}

type runtimeStatusState struct {
	mu      sync.Mutex
	current string
}

func (s *runtimeStatusState) update(status string) (string, string, bool) {
	trimmed := strings.TrimSpace(status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == trimmed {
		return s.current, trimmed, false
	}
	previous := s.current
	s.current = trimmed
	return previous, trimmed, true
}

func isAuthFailure(err error) bool {
	return auth.IsReason(err, auth.ReasonRejected) || auth.IsReason(err, auth.ReasonUnauthorized)
}
