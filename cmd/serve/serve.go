// Package serve handles the serve command
package serve

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fjacquet/bankfetch/cmd/root"
	"fjacquet/bankfetch/internal/api"
	"fjacquet/bankfetch/internal/container"
	"fjacquet/bankfetch/internal/logging"

	"github.com/spf13/cobra"
)

var addr string

const shutdownTimeout = 10 * time.Second

// Cmd represents the serve command
var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve fetching and the stored transactions over HTTP",
	Long: `Serve starts an HTTP server exposing:

  POST /fetch/{backend}          fetch a month range with the given credentials
  GET  /transactions[/{account}] list stored transactions
  GET  /accounts                 list configured accounts
  GET  /categories               list categories`,
	RunE: run,
}

func init() {
	Cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr)")
}

// Handler builds the HTTP handler over a wired container.
func Handler(c *container.Container) http.Handler {
	var transactions api.TransactionLister
	if store := c.GetTransactions(); store != nil {
		transactions = store
	}
	h := api.NewHandler(api.Deps{
		Fetcher:      c.GetService(),
		Transactions: transactions,
		Catalog:      c.GetCatalog(),
		Logger:       c.GetLogger(),
	})
	return api.NewRouter(h, c.GetConfig().Server.RequestsPerMinute)
}

func run(cmd *cobra.Command, args []string) error {
	c, err := root.NewContainer(container.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			root.Log.WithError(err).Warn("Failed to close container")
		}
	}()

	listen := addr
	if listen == "" {
		listen = c.GetConfig().Server.Addr
	}
	srv := api.NewServer(listen, Handler(c))

	errCh := make(chan error, 1)
	go func() {
		root.Log.Info("Server listening", logging.F("addr", listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-cmd.Context().Done():
		root.Log.Info("Shutting down server")
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
