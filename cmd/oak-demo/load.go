package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/on-the-ground/oak/effects/log"
	"github.com/on-the-ground/oak/internal/demo"
	"github.com/on-the-ground/oak/store"
	"github.com/spf13/cobra"
)

func newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Wait, then fetch a post title",
		Long: `Starts the loader, prints every published state until the post title
arrives, and gives up after --timeout. A failed fetch is only logged, so a
timeout usually means the request failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			postURL, _ := cmd.Flags().GetString("post-url")
			wait, _ := cmd.Flags().GetBool("wait")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer log.Sync(e.logger)
			if postURL != "" {
				e.cfg.Demo.PostURL = postURL
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if _, err := serveMetrics(ctx, e); err != nil {
				return err
			}

			l := demo.Loader{
				PostURL: e.cfg.Demo.PostURL,
				Delay:   e.cfg.Demo.Delay,
				HTTP:    httpOptions(e.cfg.Demo),
			}
			s := store.New(l.Update, store.InitFunc(l.Init), storeOptions[demo.LoaderState, demo.LoaderMsg](e)...)
			defer s.Teardown()
			log.Emit(e.logger, log.LogInfo, "started loader", map[string]interface{}{
				"postUrl": e.cfg.Demo.PostURL,
				"delay":   e.cfg.Demo.Delay.String(),
			})

			followCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				followCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			fetched := follow(followCtx, s, cmd.OutOrStdout(), nil, func(st demo.LoaderState) bool {
				return st.Value.Fetched()
			})
			if err := e.panicked(); err != nil {
				return err
			}
			if !fetched && errors.Is(followCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("no post after %s: the fetch of %s probably failed, check the error log", timeout, e.cfg.Demo.PostURL)
			}
			return finish(ctx, wait)
		},
	}

	cmd.Flags().String("post-url", "", "Post endpoint, overrides the config file")
	cmd.Flags().Bool("wait", false, "Keep serving metrics until interrupted")
	cmd.Flags().Duration("timeout", 30*time.Second, "Give up when no post arrived in time, 0 waits forever")
	return cmd
}
