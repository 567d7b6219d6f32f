package cli

import (
	"github.com/BTreeMap/RuleNotify/internal/api"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	var origins []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the parse and evaluate endpoints over HTTP",
		Long: `Start an HTTP server exposing:

  GET  /healthz
  POST /api/parse     {"rule": "..."}
  POST /api/evaluate  {"rule": "...", "limit": 10}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			_, eng, err := rootOpts.newEngine(cmd.Context())
			if err != nil {
				return f.Error(GetExitCodeOr(err, ExitCommandError), ErrCodeDataset, err.Error(), nil)
			}
			opts := []api.Option{api.WithAddr(addr)}
			if len(origins) > 0 {
				opts = append(opts, api.WithAllowedOrigins(origins...))
			}
			if err := api.NewServer(eng, opts...).Run(cmd.Context()); err != nil {
				return WrapExitError(ExitCommandError, "API server failed", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", rootOpts.APIAddr, "listen address (overrides $RULENOTIFY_API_ADDR)")
	cmd.Flags().StringSliceVar(&origins, "cors-origin", nil, "allowed CORS origin (repeatable; default any)")
	return cmd
}
