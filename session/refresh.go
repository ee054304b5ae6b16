package session

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/pkg/errors"
)

var (
	errNoRefreshCredential = errors.New("no refresh credential")
	errSessionEnded        = errors.New("session ended during refresh")
)

// Refresh returns an access credential to use in place of rejected.
//
// When rejected is no longer the current credential a settled refresh has
// already replaced it, and the current one is returned without a network
// call. Otherwise the caller joins the refresh in flight for this session,
// starting one if there is none. Every caller joined to one refresh receives
// the same credential or the same *autherrors.SessionExpiredError.
//
// The exchange itself is detached from ctx so one caller giving up does not
// fail the others; ctx only bounds how long this caller waits.
func (c *Controller) Refresh(ctx context.Context, rejected string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.RLock()
	current, epoch := c.session.AccessToken, c.epoch
	c.mu.RUnlock()

	if current == "" {
		return "", autherrors.SessionExpired(autherrors.ErrNotAuthenticated)
	}
	if rejected != "" && rejected != current {
		c.metrics.Refresh(metrics.RefreshSkipped)
		return current, nil
	}

	leader := false
	detached := context.WithoutCancel(ctx)
	results := c.flights.DoChan(flightKey(epoch), func() (any, error) {
		leader = true
		return c.runRefresh(detached, epoch, rejected)
	})

	select {
	case res := <-results:
		if !leader {
			c.metrics.JoinedRefresh()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// flightKey scopes single-flight to one session, so a refresh still running
// for a signed-out session is never joined by the next one.
func flightKey(epoch uint64) string {
	return "refresh:" + strconv.FormatUint(epoch, 10)
}

// runRefresh performs one refresh exchange. It re-reads the session first:
// by the time it runs, an earlier refresh may already have replaced rejected.
func (c *Controller) runRefresh(ctx context.Context, epoch uint64, rejected string) (string, error) {
	c.mu.RLock()
	sameEpoch := c.epoch == epoch
	current, refreshToken := c.session.AccessToken, c.session.RefreshToken
	c.mu.RUnlock()

	switch {
	case !sameEpoch || current == "":
		return "", autherrors.SessionExpired(errSessionEnded)
	case rejected != "" && rejected != current:
		c.metrics.Refresh(metrics.RefreshSkipped)
		return current, nil
	case refreshToken == "":
		return "", c.failRefresh(ctx, epoch, errNoRefreshCredential)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	c.logger.Debug().Msg("refreshing access credential")
	result, err := c.backend.Refresh(callCtx, refreshToken)
	if err == nil && (result == nil || result.AccessToken == "") {
		err = fmt.Errorf("%w: refresh response missing access token", autherrors.ErrUpstream)
	}
	if err != nil {
		return "", c.failRefresh(ctx, epoch, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		c.metrics.Refresh(metrics.RefreshDiscarded)
		c.logger.Info().Msg("refresh finished after session ended, discarding result")
		return "", autherrors.SessionExpired(errSessionEnded)
	}

	update := credentials.Update{
		AccessToken:  &result.AccessToken,
		RefreshToken: utils.PtrIfSet(result.RefreshToken),
	}
	if err := c.store.Save(ctx, update); err != nil {
		cause := errors.Wrap(err, "persist refreshed credential")
		c.expireLocked(ctx, cause)
		return "", autherrors.SessionExpired(cause)
	}
	c.session = update.Apply(c.session)

	c.metrics.Refresh(metrics.RefreshSucceeded)
	c.logger.Info().Bool("rotated", update.RefreshToken != nil).Msg("access credential refreshed")
	return result.AccessToken, nil
}

// failRefresh ends the session the refresh was started for, unless it has
// already ended.
func (c *Controller) failRefresh(ctx context.Context, epoch uint64, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != epoch {
		c.metrics.Refresh(metrics.RefreshDiscarded)
		return autherrors.SessionExpired(errSessionEnded)
	}
	c.expireLocked(ctx, cause)
	return autherrors.SessionExpired(cause)
}

// expireLocked signs out after an unrecoverable refresh. c.mu must be held
// for writing.
func (c *Controller) expireLocked(ctx context.Context, cause error) {
	c.metrics.Refresh(metrics.RefreshFailed)
	c.metrics.SignOut(metrics.SignOutRefreshFailed)
	c.logger.Warn().Err(cause).Msg("refresh failed, signing out")
	if err := c.endSessionLocked(ctx); err != nil {
		c.logger.Error().Err(err).Msg("failed to clear credential store after refresh failure")
	}
}
