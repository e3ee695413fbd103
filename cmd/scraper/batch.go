package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ecscrape/scraper-service/internal/entity"
	"github.com/ecscrape/scraper-service/internal/usecase"
)

var (
	batchKind  string
	batchSites []string
	batchMode  string
)

func init() {
	batchCmd.Flags().StringVar(&batchKind, "kind", string(entity.KindPurchaseHistory), "resource kind: purchase_history, product or search")
	batchCmd.Flags().StringSliceVar(&batchSites, "site", nil, "sites to crawl (default: every configured site)")
	batchCmd.Flags().StringVar(&batchMode, "mode", string(entity.ModeLive), "live, init (snapshot only) or check (compare only)")
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Runs one crawl batch and prints a summary of every unit.",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := entity.ParseResourceKind(batchKind)
		if err != nil {
			return err
		}
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.orchestrator.RunBatch(cmd.Context(), usecase.BatchRequest{
			Kind:  kind,
			Sites: batchSites,
			Mode:  entity.Mode(batchMode),
		})
		if sum != nil {
			renderSummary(os.Stdout, sum)
		}
		if err != nil {
			return err
		}
		if n := len(sum.Failed()); n > 0 {
			return fmt.Errorf("%d of %d units failed", n, len(sum.Outcomes))
		}
		return nil
	},
}

func renderSummary(w io.Writer, sum *entity.BatchSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("batch %s  %s/%s", sum.ID, sum.Kind, sum.Mode))
	t.AppendHeader(table.Row{"Site", "Unit", "State", "Failed at", "Cause", "Fetched", "Changed", "Requests", "Error"})

	for _, o := range sum.Outcomes {
		unit := o.Key
		if o.AccountID != 0 {
			unit = "account " + strconv.FormatInt(o.AccountID, 10)
		}
		t.AppendRow(table.Row{o.Site, unit, o.State, o.FailedAt, o.Cause, o.Fetched, o.Changed, o.Traffic.Requests, o.Err})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "ok / failed",
		fmt.Sprintf("%d / %d", len(sum.Succeeded()), len(sum.Failed()))})

	t.SetStyle(table.StyleRounded)
	t.Render()
}
