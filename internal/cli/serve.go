package cli

import (
	"github.com/ppiankov/axiom/internal/server"
	"github.com/spf13/cobra"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the verification API",
	Long: `Serve exposes the engine over HTTP:

  POST /api/verify           verify a response and store the session
  POST /api/extract-claims   extract claims only
  GET  /api/sessions[/:id]   stored sessions
  GET  /api/agents           registered verifiers
  GET  /ws/verify            websocket event stream
  GET  /metrics              prometheus metrics

Stop with Ctrl-C; in-flight requests are given time to finish.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		eng, err := buildEngine(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}

		srv := server.New(cfg, eng.pipeline,
			server.WithMetrics(eng.metrics),
			server.WithLogger(logger.Named("server")),
			server.WithVersion(Version),
		)
		return srv.ListenAndServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :8000)")
}
