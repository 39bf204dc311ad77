package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tkingovr/quotaguard/internal/audit"
)

var summaryDate string

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize a day of the decision log",
	Example: `  quotaguard summary -c quotaguard.yaml
  quotaguard summary --date 2026-01-02`,
	RunE: runSummary,
}

func init() {
	summaryCmd.Flags().StringVar(&summaryDate, "date", "", "day to summarize (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	day := time.Now()
	if summaryDate != "" {
		day, err = time.ParseInLocation("2006-01-02", summaryDate, time.Local)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
	}

	store, err := audit.NewJSONLStore(cfg.LogDir)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Open(store.Path(day))
	if err != nil {
		return fmt.Errorf("opening decision log: %w", err)
	}
	defer f.Close()

	s, err := audit.Summarize(f)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
