package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/usecase"
)

var (
	previewSite string
	previewKind string
	previewFile string
)

func init() {
	previewCmd.Flags().StringVar(&previewSite, "site", "", "site the configuration is written for")
	previewCmd.Flags().StringVar(&previewKind, "kind", string(entity.KindPurchaseHistory), "resource kind: purchase_history, product or search")
	previewCmd.Flags().StringVarP(&previewFile, "file", "f", "-", "configuration file, - for stdin")
	_ = previewCmd.MarkFlagRequired("site")
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Dry-runs an extraction configuration and prints the records it yields.",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := entity.ParseResourceKind(previewKind)
		if err != nil {
			return err
		}
		text, err := readConfigText(cmd.InOrStdin(), previewFile)
		if err != nil {
			return err
		}
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		c, err := newCore(cfg, logger)
		if err != nil {
			return err
		}
		defer c.Close()

		// Previews never read stored configurations, so no database is needed.
		previewer := usecase.NewPreviewer(c.sessions, c.crawlers(nil), logger)
		records, err := previewer.Preview(cmd.Context(), previewSite, kind, text)
		if err != nil {
			return err
		}
		logger.Info("preview done", zap.Int("records", len(records)))

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

func readConfigText(stdin io.Reader, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read configuration: %w", err)
	}
	return string(b), nil
}
