package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/on-the-ground/oak/effects/log"
	"github.com/on-the-ground/oak/internal/demo"
	"github.com/on-the-ground/oak/store"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Add two numbers, wait, then fetch a todo",
		Long: `Starts the counter application, dispatches Add{x, y} and prints every
published state until the todo has been fetched or the fetch failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			x, _ := cmd.Flags().GetInt("x")
			y, _ := cmd.Flags().GetInt("y")
			todoURL, _ := cmd.Flags().GetString("todo-url")
			wait, _ := cmd.Flags().GetBool("wait")

			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer log.Sync(e.logger)
			if todoURL != "" {
				e.cfg.Demo.TodoURL = todoURL
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if _, err := serveMetrics(ctx, e); err != nil {
				return err
			}

			app := demo.App{
				TodoURL: e.cfg.Demo.TodoURL,
				Timeout: e.cfg.Demo.Timeout,
				HTTP:    httpOptions(e.cfg.Demo),
			}
			s := store.New(app.Update, store.InitFunc(app.Init), storeOptions[demo.State, demo.Msg](e)...)
			defer s.Teardown()
			log.Emit(e.logger, log.LogInfo, "started counter", map[string]interface{}{
				"x":       x,
				"y":       y,
				"todoUrl": e.cfg.Demo.TodoURL,
				"timeout": e.cfg.Demo.Timeout.String(),
			})

			start := func() { s.Dispatch(demo.Add{X: x, Y: y}) }
			follow(ctx, s, cmd.OutOrStdout(), start, func(st demo.State) bool {
				return st.HTTPResult.Fetched() || st.FetchError != ""
			})
			if err := e.panicked(); err != nil {
				return err
			}
			return finish(ctx, wait)
		},
	}

	cmd.Flags().Int("x", 10, "First operand")
	cmd.Flags().Int("y", 20, "Second operand")
	cmd.Flags().String("todo-url", "", "Todo endpoint, overrides the config file")
	cmd.Flags().Bool("wait", false, "Keep serving metrics until interrupted")
	return cmd
}

// finish reports an interrupt as an error and, when asked, blocks until one.
func finish(ctx context.Context, wait bool) error {
	if wait {
		<-ctx.Done()
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	return nil
}
