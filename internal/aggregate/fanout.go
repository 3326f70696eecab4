// Package aggregate answers "give me X across all my linked accounts" as a
// single call: one page per account, fetched through a bounded worker pool,
// merged in account order with per-account failures dropped rather than
// failing the whole response.
package aggregate

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"sellerhub/internal/auth/token"
	"sellerhub/internal/db/models"
	"sellerhub/internal/marketplace"
)

// DefaultWidth is the fan-out worker pool size. Wide enough that one slow
// account does not head-of-line block the rest.
const DefaultWidth = 4

// CredentialSource produces validated credentials for accounts. Satisfied
// by token.Manager.
type CredentialSource interface {
	EnsureFresh(ctx context.Context, acc *models.LinkedAccount) (*token.Credential, error)
	Refresh(ctx context.Context, accountID string) (*token.Credential, error)
}

// AccountLister supplies a user's active accounts, primary first.
// Satisfied by store.Accounts.
type AccountLister interface {
	FindActiveByUser(userID string) ([]models.LinkedAccount, error)
}

// FetchFunc fetches one page of a resource for one validated account.
type FetchFunc[T any] func(ctx context.Context, cred *token.Credential, params marketplace.PageParams) ([]T, error)

// Tagged wraps a fetched item with the account it came from.
type Tagged[T any] struct {
	SourceAccountID    string `json:"source_account_id"`
	SourceAccountLabel string `json:"source_account_label"`
	Item               T      `json:"item"`
}

// AccountFailure records one account whose contribution was dropped.
type AccountFailure struct {
	AccountID         string `json:"account_id"`
	Label             string `json:"label"`
	Reason            string `json:"reason"`
	ReconnectRequired bool   `json:"reconnect_required"`
}

// Result is the merged outcome of one fan-out. Items are concatenated in
// account-iteration order (primary first, then insertion order); pages from
// different accounts are not mutually ordered, so callers wanting a sorted
// view sort after the merge.
type Result[T any] struct {
	Items    []Tagged[T]      `json:"items"`
	Failures []AccountFailure `json:"failures"`
	Accounts int              `json:"accounts"`
}

// Aggregator fans a resource fetch out over a user's linked accounts.
type Aggregator struct {
	accounts AccountLister
	creds    CredentialSource
	width    int
}

// New creates an aggregator. width <= 0 selects DefaultWidth.
func New(accounts AccountLister, creds CredentialSource, width int) *Aggregator {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Aggregator{accounts: accounts, creds: creds, width: width}
}

// Fanout runs fetch once per active account. A user with zero linked
// accounts gets an explicit empty result, not an error; per-account
// failures are logged once and dropped. The only error returned is a store
// failure, where no account-level answer exists at all.
func Fanout[T any](ctx context.Context, a *Aggregator, userID string, params marketplace.PageParams, fetch FetchFunc[T]) (*Result[T], error) {
	accounts, err := a.accounts.FindActiveByUser(userID)
	if err != nil {
		return nil, err
	}

	result := &Result[T]{
		Items:    []Tagged[T]{},
		Failures: []AccountFailure{},
		Accounts: len(accounts),
	}
	if len(accounts) == 0 {
		return result, nil
	}

	// The page cap is applied once here so every account gets the same
	// clamped request.
	params = params.Clamp()

	perAccount := make([][]Tagged[T], len(accounts))
	failures := make([]*AccountFailure, len(accounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.width)
	for i := range accounts {
		idx := i
		g.Go(func() error {
			acc := accounts[idx]
			items, err := fetchOne(gctx, a.creds, &acc, params, fetch)
			if err != nil {
				// Per-account failures are recorded in the indexed slot,
				// never returned: one bad account must not cancel the group.
				log.Printf("⚠️ Dropping %s from aggregate: %v", acc.Nickname, err)
				failures[idx] = &AccountFailure{
					AccountID:         acc.ID,
					Label:             acc.Nickname,
					Reason:            err.Error(),
					ReconnectRequired: errors.Is(err, token.ErrReconnectRequired),
				}
				return nil
			}
			tagged := make([]Tagged[T], 0, len(items))
			for _, item := range items {
				tagged = append(tagged, Tagged[T]{
					SourceAccountID:    acc.ID,
					SourceAccountLabel: acc.Nickname,
					Item:               item,
				})
			}
			perAccount[idx] = tagged
			return nil
		})
	}
	_ = g.Wait()

	for i := range accounts {
		result.Items = append(result.Items, perAccount[i]...)
		if failures[i] != nil {
			result.Failures = append(result.Failures, *failures[i])
		}
	}
	return result, nil
}

// fetchOne validates the account's credential, fetches, and retries exactly
// once behind a forced refresh when the marketplace rejects the token. A
// rejected retry or any other fetch failure drops the account's
// contribution.
func fetchOne[T any](ctx context.Context, creds CredentialSource, acc *models.LinkedAccount, params marketplace.PageParams, fetch FetchFunc[T]) ([]T, error) {
	cred, err := creds.EnsureFresh(ctx, acc)
	if err != nil {
		return nil, err
	}

	items, err := fetch(ctx, cred, params)
	if err == nil {
		return items, nil
	}
	if !marketplace.IsAuthError(err) || !acc.Refreshable() {
		return nil, err
	}

	// The stored token passed the expiry check but the marketplace
	// rejected it (revoked early, or rotated by another process). One
	// forced refresh, one retry.
	cred, rerr := creds.Refresh(ctx, acc.ID)
	if rerr != nil {
		return nil, rerr
	}
	return fetch(ctx, cred, params)
}

// SortByTimeDesc orders merged items newest first by the given timestamp.
// Used after the fan-out completes, since per-account pages carry no mutual
// order.
func SortByTimeDesc[T any](items []Tagged[T], ts func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return ts(items[i].Item).After(ts(items[j].Item))
	})
}
