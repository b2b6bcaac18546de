// Package query is the data-fetch layer in front of the canister: it
// deduplicates concurrent requests, caches results and translates failures
// into user-facing errors.
package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Klingon-tech/icwallet/internal/canister"
	klog "github.com/Klingon-tech/icwallet/internal/log"
	"github.com/Klingon-tech/icwallet/internal/metrics"
	"github.com/Klingon-tech/icwallet/pkg/btc"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// Query kinds, used in cache keys and metrics.
const (
	KindAddress = "address"
	KindBalance = "balance"
)

// Metric sources.
const (
	sourceCache  = "cache"
	sourceShared = "shared"
	sourceRemote = "remote"
)

// Config tunes caching.
type Config struct {
	// BalanceStaleTime is how long a fetched balance is served from cache.
	// Zero refetches on every call; concurrent callers still share one fetch.
	BalanceStaleTime time.Duration
}

type balanceEntry struct {
	satoshi uint64
	fetched time.Time
}

// Client fetches wallet data for principals through one canister backend.
type Client struct {
	backend   canister.Backend
	handler   *ErrorHandler
	staleTime time.Duration
	now       func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	addresses map[string]string
	balances  map[string]balanceEntry
	// balanceGen is bumped by InvalidateBalance; a fetch only stores its
	// result when the generation it started under is still current.
	balanceGen map[string]uint64
}

// New creates a Client. A nil handler gets a private ErrorHandler.
func New(backend canister.Backend, handler *ErrorHandler, cfg Config) *Client {
	if handler == nil {
		handler = NewErrorHandler()
	}
	return &Client{
		backend:   backend,
		handler:   handler,
		staleTime: cfg.BalanceStaleTime,
		now:       time.Now,
		addresses: make(map[string]string),
		balances:  make(map[string]balanceEntry),

		balanceGen: make(map[string]uint64),
	}
}

func key(kind string, p principal.Principal) string {
	return kind + "/" + p.Text()
}

// do runs fetch once per key across concurrent callers. The shared fetch is
// detached from any single caller's cancellation; each caller still stops
// waiting when its own ctx ends.
func (c *Client) do(ctx context.Context, kind string, p principal.Principal, fetch func(context.Context) (any, error)) (any, error) {
	ch := c.group.DoChan(key(kind, p), func() (any, error) {
		return fetch(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Shared {
			metrics.RecordFetch(kind, sourceShared)
		} else {
			metrics.RecordFetch(kind, sourceRemote)
		}
		return r.Val, r.Err
	}
}

// Address returns p's BTC address. Addresses never change for a principal,
// so a successful result is cached for the life of the client.
func (c *Client) Address(ctx context.Context, p *principal.Principal) (string, error) {
	if p == nil {
		return "", ErrPrincipalRequired
	}
	owner := *p
	k := owner.Text()

	c.mu.RLock()
	addr, ok := c.addresses[k]
	c.mu.RUnlock()
	if ok {
		metrics.RecordFetch(KindAddress, sourceCache)
		return addr, nil
	}

	v, err := c.do(ctx, KindAddress, owner, func(ctx context.Context) (any, error) {
		res, err := c.backend.GetAddress(ctx, &owner)
		if err != nil {
			c.handler.Handle(owner, err)
			return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
		}
		addr, ok := res.Value()
		if !ok {
			msg, _ := res.ErrMessage()
			return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, msg)
		}
		c.mu.Lock()
		c.addresses[k] = addr
		c.mu.Unlock()
		return addr, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Balance returns p's balance in satoshi, from cache when younger than the
// configured stale time.
func (c *Client) Balance(ctx context.Context, p *principal.Principal) (uint64, error) {
	if p == nil {
		return 0, ErrPrincipalRequired
	}
	owner := *p
	k := owner.Text()

	if c.staleTime > 0 {
		c.mu.RLock()
		e, ok := c.balances[k]
		c.mu.RUnlock()
		if ok && c.now().Sub(e.fetched) < c.staleTime {
			metrics.RecordFetch(KindBalance, sourceCache)
			return e.satoshi, nil
		}
	}

	v, err := c.do(ctx, KindBalance, owner, func(ctx context.Context) (any, error) {
		c.mu.RLock()
		gen := c.balanceGen[k]
		c.mu.RUnlock()
		started := c.now()

		res, err := c.backend.GetBalance(ctx, &owner)
		if err != nil {
			c.handler.Handle(owner, err)
			return nil, fmt.Errorf("%w: %w", ErrInvalidBalance, err)
		}
		sats, ok := res.Value()
		if !ok {
			msg, _ := res.ErrMessage()
			return nil, fmt.Errorf("%w: %s", ErrInvalidBalance, msg)
		}
		c.mu.Lock()
		if c.balanceGen[k] == gen {
			c.balances[k] = balanceEntry{satoshi: sats, fetched: started}
		}
		c.mu.Unlock()
		return sats, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// InvalidateBalance drops p's cached balance and detaches any in-flight
// fetch so the next Balance call asks the canister again. A fetch already
// in flight still answers its own callers but no longer fills the cache.
func (c *Client) InvalidateBalance(p principal.Principal) {
	k := p.Text()
	c.mu.Lock()
	delete(c.balances, k)
	c.balanceGen[k]++
	c.mu.Unlock()
	c.group.Forget(key(KindBalance, p))
}

// SendOutcome is the result of a send that reached the canister: either a
// transaction id or the canister's reason for refusing.
type SendOutcome struct {
	TxID   string
	Reason string
}

// Succeeded reports whether the canister accepted the transfer.
func (o SendOutcome) Succeeded() bool { return o.TxID != "" }

// Send transfers amountText satoshi from p to the address to. It calls the
// canister exactly once. Validation errors and transport failures are
// returned as errors; a refusal by the canister is a SendOutcome with a
// Reason.
func (c *Client) Send(ctx context.Context, p *principal.Principal, to, amountText string) (SendOutcome, error) {
	if p == nil {
		return SendOutcome{}, ErrPrincipalRequired
	}
	if to == "" {
		return SendOutcome{}, ErrDestinationRequired
	}
	sats, err := btc.ParseSatoshi(amountText)
	if err != nil {
		return SendOutcome{}, err
	}
	owner := *p
	logger := klog.WithPrincipal(klog.Query, owner.Text())

	res, err := c.backend.SendBTC(ctx, to, sats)
	c.InvalidateBalance(owner)
	if err != nil {
		c.handler.Handle(owner, err)
		return SendOutcome{}, fmt.Errorf("send_btc: %w", err)
	}
	if txid, ok := res.Value(); ok {
		logger.Info().Str("to", to).Uint64("satoshi", sats).Str("txid", txid).Msg("BTC sent")
		return SendOutcome{TxID: txid}, nil
	}
	reason, _ := res.ErrMessage()
	logger.Warn().Str("to", to).Uint64("satoshi", sats).Str("reason", reason).Msg("Send refused by canister")
	return SendOutcome{Reason: reason}, nil
}

// Status is the state of one part of an overview.
type Status string

const (
	StatusPending Status = "pending"
	StatusError   Status = "error"
	StatusSuccess Status = "success"
)

// Part is one independently fetched value.
type Part[T any] struct {
	Status Status
	Value  T
	Err    error
}

// Overview is the wallet's address and balance, each with its own status.
type Overview struct {
	Principal principal.Principal
	Address   Part[string]
	Balance   Part[uint64]
}

func part[T any](ctx context.Context, v T, err error) Part[T] {
	switch {
	case err == nil:
		return Part[T]{Status: StatusSuccess, Value: v}
	case ctx.Err() != nil:
		// Still fetching in the background; a later call picks it up.
		return Part[T]{Status: StatusPending}
	}
	return Part[T]{Status: StatusError, Err: err}
}

// Overview fetches address and balance concurrently. A part whose fetch
// outlives ctx is reported as pending.
func (c *Client) Overview(ctx context.Context, p *principal.Principal) (Overview, error) {
	if p == nil {
		return Overview{}, ErrPrincipalRequired
	}
	ov := Overview{Principal: *p}

	var g errgroup.Group
	g.Go(func() error {
		addr, err := c.Address(ctx, p)
		ov.Address = part(ctx, addr, err)
		return nil
	})
	g.Go(func() error {
		bal, err := c.Balance(ctx, p)
		ov.Balance = part(ctx, bal, err)
		return nil
	})
	g.Wait()
	return ov, nil
}
