package cmd

import (
	"github.com/emrgen/docsearch/internal/config"
	"github.com/emrgen/docsearch/internal/job"
	"github.com/emrgen/docsearch/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// gcCmd runs two consecutive orphan-blob sweeps and exits. The sweeper only
// deletes prefixes seen orphaned on two consecutive passes, so the first
// pass records orphans and the second deletes them.
var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Sweep orphaned object-store prefixes",
	Run: func(cmd *cobra.Command, args []string) {
		cnf := config.LoadConfig()

		gormStore := store.NewGormStore(config.GetDb(cnf))
		blobs, err := newBlobStore(cmd.Context(), cnf)
		if err != nil {
			logrus.Fatalf("failed to open blob store: %v", err)
		}

		sweeper := job.NewOrphanSweeper(gormStore, blobs)
		if err := sweeper.Sweep(cmd.Context()); err != nil {
			logrus.Fatalf("sweep failed: %v", err)
		}
		if err := sweeper.Sweep(cmd.Context()); err != nil {
			logrus.Fatalf("sweep failed: %v", err)
		}
	},
}
