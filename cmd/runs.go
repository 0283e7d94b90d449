package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/johndpope/pix2latent/internal/store"
	"github.com/spf13/cobra"
)

var (
	runsDataDir string
	forceDelete bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage stored inversion runs",
	Long:  `List, inspect and delete stored runs and their artifacts.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored runs",
	RunE:  runListRuns,
}

var showRunCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's settings, costs and trace",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var deleteRunCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and all its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteRun,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(listRunsCmd)
	runsCmd.AddCommand(showRunCmd)
	runsCmd.AddCommand(deleteRunCmd)

	runsCmd.PersistentFlags().StringVar(&runsDataDir, "data-dir", "./results", "Base directory for run storage")
	deleteRunCmd.Flags().BoolVarP(&forceDelete, "force", "f", false, "Skip confirmation prompt")
}

func runListRuns(cmd *cobra.Command, args []string) error {
	runStore, err := store.NewFSStore(runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}

	infos, err := runStore.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tTIMESTAMP\tSEEDS\tBEST COST\tIMAGE\tSIZE")
	fmt.Fprintln(w, "------\t---------\t-----\t---------\t-----\t----")

	for _, info := range infos {
		size, err := getDirSize(runStore.RunDir(info.RunID))
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		displayID := info.RunID
		if len(displayID) > 12 {
			displayID = displayID[:12] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%.6f\t%s\t%s\n",
			displayID,
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.NumSeeds,
			info.BestCost,
			filepath.Base(info.ImagePath),
			sizeStr,
		)
	}
	w.Flush()

	fmt.Printf("\nTotal runs: %d\n", len(infos))
	return nil
}

func runShowRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	runStore, err := store.NewFSStore(runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}

	result, err := runStore.LoadResult(runID)
	if err != nil {
		return err
	}

	s := result.Settings
	fmt.Printf("Run %s (%s)\n", result.RunID, result.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Printf("  image:          %s\n", s.ImagePath)
	if s.MaskPath != "" {
		fmt.Printf("  mask:           %s\n", s.MaskPath)
	}
	fmt.Printf("  seeds:          %d (pop %d)\n", s.NumSeeds, s.PopPerSeed)
	fmt.Printf("  steps:          %d meta x %d grad + %d finetune\n", s.MetaSteps, s.GradSteps, s.FinetuneGradSteps)
	fmt.Printf("  learning rate:  %g, truncate %g, seed %d\n", s.LearningRate, s.Truncate, s.Seed)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEED\tINITIAL COST\tFINAL COST")
	for i, c := range result.BestCosts {
		initial := "-"
		if i < len(result.InitialCosts) {
			initial = fmt.Sprintf("%.6f", result.InitialCosts[i])
		}
		fmt.Fprintf(w, "%d\t%s\t%.6f\n", i, initial, c)
	}
	w.Flush()

	entries, err := store.ReadTrace(runsDataDir, runID)
	if err == nil {
		fmt.Printf("\nTrace: %d entries", len(entries))
		if n := len(entries); n > 0 {
			last := entries[n-1]
			fmt.Printf(" (last: meta %d, phase %s)", last.MetaStep, last.Phase)
		}
		fmt.Println()
	}
	return nil
}

func runDeleteRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	runStore, err := store.NewFSStore(runsDataDir)
	if err != nil {
		return fmt.Errorf("failed to open run store: %w", err)
	}

	if !forceDelete {
		fmt.Printf("Delete run %s and all its artifacts? [y/N]: ", runID)
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := runStore.DeleteRun(runID); err != nil {
		return err
	}
	fmt.Printf("Deleted run %s\n", runID)
	return nil
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
