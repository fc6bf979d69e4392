package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/spf13/cobra"
)

const (
	flagAccount = "account"
	flagDelta   = "delta"
	flagReason  = "reason"
	flagLimit   = "limit"
)

func newMigrateCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, driver, err := openDatabase(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = closeDB() }()
			if err := gormstore.AutoMigrate(db); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", driver)
			return nil
		},
	}
}

func newAdjustCommand(cfg *runtimeConfig) *cobra.Command {
	var (
		rawAccountID string
		rawDelta     int64
		reason       string
	)
	cmd := &cobra.Command{
		Use:   "adjust",
		Short: "Apply a manual balance correction",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := ledger.NewAccountID(rawAccountID)
			if err != nil {
				return err
			}
			delta, err := ledger.NewDelta(rawDelta)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			runtime, err := openRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer runtime.Close()

			entry, err := runtime.service.AdjustBalance(cmd.Context(), accountID, delta, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "entry %d applied, balance %d\n", entry.EntryID.Int64(), entry.BalanceAfter.Int64())
			return nil
		},
	}
	cmd.Flags().StringVar(&rawAccountID, flagAccount, "", "account id")
	cmd.Flags().Int64Var(&rawDelta, flagDelta, 0, "signed points to add (negative to deduct)")
	cmd.Flags().StringVar(&reason, flagReason, "", "reason recorded in the entry metadata")
	_ = cmd.MarkFlagRequired(flagAccount)
	_ = cmd.MarkFlagRequired(flagDelta)
	return cmd
}

func newEntriesCommand(cfg *runtimeConfig) *cobra.Command {
	var (
		rawAccountID string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Print the newest ledger entries of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := ledger.NewAccountID(rawAccountID)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			runtime, err := openRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer runtime.Close()

			entries, err := runtime.service.ListEntries(cmd.Context(), accountID, 0, limit)
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "ENTRY\tTYPE\tDELTA\tBALANCE\tCREATED\tMETADATA")
			for _, entry := range entries {
				fmt.Fprintf(writer, "%d\t%s\t%d\t%d\t%s\t%s\n",
					entry.EntryID.Int64(),
					entry.Type,
					entry.Delta.Int64(),
					entry.BalanceAfter.Int64(),
					time.Unix(entry.CreatedUnixUTC, 0).UTC().Format(time.RFC3339),
					entry.Metadata.String(),
				)
			}
			return writer.Flush()
		},
	}
	cmd.Flags().StringVar(&rawAccountID, flagAccount, "", "account id")
	cmd.Flags().IntVar(&limit, flagLimit, ledger.DefaultListLimit, "number of entries to print")
	_ = cmd.MarkFlagRequired(flagAccount)
	return cmd
}
