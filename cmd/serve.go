package cmd

import (
	"fmt"
	"net"
	"time"

	"carlot/config"
	"carlot/database"
	"carlot/handlers"
	"carlot/logging"
	"carlot/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	configFile    string
	port          string
	cataloguePath string
	uploadDir     string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the catalogue HTTP server",
		Example: `  # Start server on default port 3000
  carlot serve

  # Custom port and data locations
  carlot serve --port 8080 --catalogue /srv/cars.json --uploads /srv/uploads`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd, opts)
			if err != nil {
				return err
			}
			logging.Init(cfg.LogLevel, cfg.LogPretty)

			app, err := buildApp(cfg)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", ":"+cfg.Port)
			if err != nil {
				return fmt.Errorf("failed to listen on port %s: %w", cfg.Port, err)
			}
			ln = netutil.LimitListener(ln, cfg.MaxConnections)

			serverErr := make(chan error, 1)
			go func() {
				log.Info().Str("addr", ln.Addr().String()).Msg("carlot listening")
				serverErr <- app.Listener(ln)
			}()

			select {
			case <-cmd.Context().Done():
				log.Info().Msg("shutting down server")
				if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
					log.Error().Err(err).Msg("server shutdown failed")
					return err
				}
				log.Info().Msg("server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVarP(&opts.port, "port", "p", "", "Port to listen on (default 3000)")
	cmd.Flags().StringVar(&opts.cataloguePath, "catalogue", "", "Path of the catalogue JSON file")
	cmd.Flags().StringVar(&opts.uploadDir, "uploads", "", "Directory uploaded images are stored in")

	return cmd
}

// loadServeConfig layers explicitly set flags over the file and environment.
func loadServeConfig(cmd *cobra.Command, opts serveOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = opts.port
	}
	if flags.Changed("catalogue") {
		cfg.CataloguePath = opts.cataloguePath
	}
	if flags.Changed("uploads") {
		cfg.UploadDir = opts.uploadDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildApp(cfg *config.Config) (*fiber.App, error) {
	store, err := database.Open(cfg.CataloguePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalogue: %w", err)
	}
	assets, err := storage.NewAssets(cfg.UploadDir, cfg.PublicPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upload directory: %w", err)
	}
	log.Info().
		Str("catalogue", store.Path()).
		Int("cars", store.Count()).
		Str("uploads", assets.Dir()).
		Msg("catalogue ready")

	h := handlers.New(cfg, store, storage.NewIngestor(assets, store))
	return handlers.NewApp(cfg, h), nil
}
