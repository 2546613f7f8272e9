package auth

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"yambot/internal/logging"
	"yambot/internal/telemetry"
)

const refreshTimeout = 15 * time.Second

// TokenRefresher performs the refresh-token grant.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}

// Credentials pairs the Store with a TokenRefresher and makes sure
// concurrent callers that hit an expired token share a single refresh.
type Credentials struct {
	store     *Store
	refresher TokenRefresher
	logger    *logging.Logger
	flight    singleflight.Group
}

func NewCredentials(store *Store, refresher TokenRefresher, logger *logging.Logger) *Credentials {
	if store == nil {
		panic("auth.NewCredentials: store must not be nil")
	}
	if refresher == nil {
		panic("auth.NewCredentials: refresher must not be nil")
	}
	if logger == nil {
		panic("auth.NewCredentials: logger must not be nil")
	}
	return &Credentials{store: store, refresher: refresher, logger: logger}
}

func (c *Credentials) Store() *Store {
	return c.store
}

func (c *Credentials) AccessToken() string {
	return c.store.Read().AccessToken
}

// Refresh renews the token pair after rejected was refused by the API. If
// another caller already replaced rejected, the current pair is returned
// without a new grant. The grant runs detached from ctx so one caller giving
// up does not fail the others waiting on it.
func (c *Credentials) Refresh(ctx context.Context, rejected string) (TokenPair, error) {
	ch := c.flight.DoChan("refresh", func() (any, error) {
		current := c.store.Read()
		if rejected != "" && current.AccessToken != rejected {
			c.logger.Debug("token already refreshed by another caller")
			return current, nil
		}

		grantCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		pair, err := c.refresher.Refresh(grantCtx, current.RefreshToken)
		if err != nil {
			reason := "error"
			if authErr, ok := err.(*AuthError); ok {
				reason = authErr.Reason.String()
			}
			telemetry.TokenRefreshes.WithLabelValues(reason).Inc()
			return TokenPair{}, err
		}
		telemetry.TokenRefreshes.WithLabelValues("ok").Inc()
		c.store.Write(pair)
		return pair, nil
	})

	select {
	case <-ctx.Done():
		return TokenPair{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return TokenPair{}, res.Err
		}
		return res.Val.(TokenPair), nil
	}
}
