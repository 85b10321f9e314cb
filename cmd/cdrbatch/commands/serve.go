package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cdrtools/cdrbatch/web"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the maintenance scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := openContainer(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if c.Config.SecretKey == "" {
		return errors.New("secret_key must be set to serve session-protected pages")
	}

	handler := web.NewRouteHandler(c.BatchJobs, web.NewSignedTokenResolver(c.Config.SecretKey), c.Config.HTTPAddr, c.Log.Named("web"))

	// Mail left pending by a previous run goes out before new work arrives.
	c.Scheduler.RunDrain(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return handler.Serve(gctx)
	})
	g.Go(func() error {
		c.Scheduler.Start(gctx)
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
