package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tanujdargan/html.ai/internal/config"
	"github.com/tanujdargan/html.ai/internal/model"
	"github.com/tanujdargan/html.ai/internal/storage"
)

func runInspectVariant(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.Open(cfg.StorageURI)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	key := storage.VariantKey{BusinessID: inspectBusinessID, UserID: inspectUserID, ComponentID: inspectComponent}
	rec, err := store.GetVariant(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("get variant: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "variant %s/%s/%s\n", rec.BusinessID, rec.UserID, rec.ComponentID)
	printSlot(cmd, "A", rec.A.CurrentScore, rec.A.NumberOfTrials, rec.A.State, len(rec.A.History))
	printSlot(cmd, "B", rec.B.CurrentScore, rec.B.NumberOfTrials, rec.B.State, len(rec.B.History))
	return nil
}

func printSlot(cmd *cobra.Command, label string, score float64, trials int64, state model.SlotState, historyLen int) {
	fmt.Fprintf(cmd.OutOrStdout(), "  slot %s: score=%.3f trials=%d state=%v history=%d\n", label, score, trials, state, historyLen)
}

func runInspectBusiness(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.Open(cfg.StorageURI)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	biz, err := store.GetBusiness(cmd.Context(), inspectBusinessID)
	if err != nil {
		return fmt.Errorf("get business: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(biz)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "business %s (tier=%s)\n", biz.BusinessID, biz.Tier)
	fmt.Fprintf(cmd.OutOrStdout(), "  events: %d/%d this month\n", biz.MonthlyEventsUsed, biz.MonthlyEventLimit)
	fmt.Fprintf(cmd.OutOrStdout(), "  allowed domains: %v\n", biz.AllowedDomains)
	return nil
}
