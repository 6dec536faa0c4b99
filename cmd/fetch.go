package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/satview/internal/clock/system"
	"github.com/JakeFAU/satview/internal/fetcher/gibs"
	"github.com/JakeFAU/satview/internal/imagery"
	"github.com/JakeFAU/satview/internal/logging"
	localstorage "github.com/JakeFAU/satview/internal/storage/local"
)

func newFetchCmd(cfgFile *string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetches the current image once and writes it to a file",
		Long: `Performs a single GetMap request with the configured layer and bounding
box and writes the JPEG to --out. Exits non-zero when the provider does not
answer with a usable image.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, *cfgFile, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", filepath.Join("data", "satellite_image.jpg"), "output file")
	return cmd
}

func runFetch(cmd *cobra.Command, cfgFile, out string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	fetcher := gibs.New(gibs.Config{
		WMS:          cfg.WMS(),
		UserAgent:    cfg.Imagery.UserAgent,
		Timeout:      cfg.Imagery.Timeout,
		MaxBodyBytes: cfg.Imagery.MaxBodyBytes,
	}, system.New(), logger.Named("fetcher"))

	outcome := fetcher.Fetch(cmd.Context())
	if !outcome.OK() {
		return fmt.Errorf("fetch %s: %s", outcome.URL, outcome.Reason)
	}

	blobs, err := localstorage.New(localstorage.Config{BaseDir: filepath.Dir(out)})
	if err != nil {
		return fmt.Errorf("prepare output directory: %w", err)
	}
	uri, err := blobs.PutObject(cmd.Context(), filepath.Base(out), imagery.ContentTypeJPEG, outcome.Body)
	if err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	logger.Info("image written",
		zap.String("uri", uri),
		zap.Int("bytes", len(outcome.Body)),
		zap.Duration("duration", outcome.Duration),
	)
	fmt.Fprintln(cmd.OutOrStdout(), uri)
	return nil
}
