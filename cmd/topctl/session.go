package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/birbparty/taobao-top/internal/session"
	"github.com/birbparty/taobao-top/sdk"
)

func (a *app) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the access token stored in Redis for TOP_APP_KEY",
	}
	cmd.AddCommand(a.sessionSetCmd(), a.sessionShowCmd(), a.sessionClearCmd())
	return cmd
}

func (a *app) withStore(cmd *cobra.Command, fn func(store session.Store) error) error {
	if a.cfg.AppKey == "" {
		return fmt.Errorf("%w: TOP_APP_KEY is required", sdk.ErrInvalidConfig)
	}
	store, closer, err := a.openStore(cmd.Context(), &a.cfg.Redis)
	if err != nil {
		return err
	}
	defer closer.Close()
	return fn(store)
}

func (a *app) sessionSetCmd() *cobra.Command {
	var expires string

	cmd := &cobra.Command{
		Use:   "set <token>",
		Short: "Store an access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expiresAt, err := parseExpiry(expires, time.Now())
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(store session.Store) error {
				if err := store.Save(cmd.Context(), a.cfg.AppKey, session.Token{Value: args[0], ExpiresAt: expiresAt}); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "session stored")
				return err
			})
		},
	}

	cmd.Flags().StringVar(&expires, "expires", "", "lifetime (e.g. 24h) or RFC 3339 time; empty means no expiry")
	return cmd
}

func (a *app) sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(store session.Store) error {
				token, err := store.Load(cmd.Context(), a.cfg.AppKey)
				if errors.Is(err, session.ErrNotFound) {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "no session stored")
					return err
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), token)
			})
		},
	}
}

func (a *app) sessionClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(store session.Store) error {
				err := store.Delete(cmd.Context(), a.cfg.AppKey)
				if err != nil && !errors.Is(err, session.ErrNotFound) {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "session cleared")
				return err
			})
		},
	}
}

// parseExpiry accepts a duration relative to now or an absolute RFC 3339
// time. Empty means the default expiry.
func parseExpiry(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry %q: want a duration or RFC 3339 time", s)
	}
	return t, nil
}
