package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/recall/internal/memory"
	"github.com/haasonsaas/recall/pkg/models"
)

func buildMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage the agent's memory",
		Long: `Store, search, and list memory items directly.

Every item carries a category (conversation, document, web, important,
user_defined) and an importance level from 1 to 5 that weights retrieval.`,
	}
	cmd.AddCommand(
		buildMemoryAddCmd(),
		buildMemorySearchCmd(),
		buildMemoryListCmd(),
	)
	return cmd
}

func buildMemoryAddCmd() *cobra.Command {
	var (
		configPath string
		category   string
		importance int
	)
	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Store a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryAdd(cmd, configPath, args[0], category, importance)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&category, "category", string(models.CategoryUserDefined), "Memory category")
	cmd.Flags().IntVar(&importance, "importance", 1, "Importance level (1-5)")
	return cmd
}

func runMemoryAdd(cmd *cobra.Command, configPath, content, category string, importance int) error {
	c, err := openCore(configPath)
	if err != nil {
		return err
	}
	defer c.Close()

	item, err := c.StoreMemory(cmd.Context(), memory.StoreInput{
		Content:    content,
		Category:   models.Category(category),
		Importance: importance,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%s, importance %d)\n", item.ID, item.Category, item.Importance)
	return nil
}

func buildMemorySearchCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by semantic similarity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemorySearch(cmd, configPath, args[0], limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	return cmd
}

func runMemorySearch(cmd *cobra.Command, configPath, query string, limit int) error {
	c, err := openCore(configPath)
	if err != nil {
		return err
	}
	defer c.Close()

	results, err := c.SearchMemories(cmd.Context(), query, limit, nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "no matches")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(out, "%.3f  [%s]  %s\n", r.Similarity, r.Item.Category, r.Item.Content)
	}
	return nil
}

func buildMemoryListCmd() *cobra.Command {
	var (
		configPath string
		category   string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemoryList(cmd, configPath, category, limit)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&category, "category", "", "Filter by category")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of items")
	return cmd
}

func runMemoryList(cmd *cobra.Command, configPath, category string, limit int) error {
	c, err := openCore(configPath)
	if err != nil {
		return err
	}
	defer c.Close()

	var items []*models.MemoryItem
	if category != "" {
		items, err = c.MemoriesByCategory(cmd.Context(), models.Category(category), limit)
	} else {
		items, err = c.RecentMemories(cmd.Context(), limit)
	}
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, item := range items {
		fmt.Fprintf(out, "%s  %s  [%s/%d]  %s\n",
			item.CreatedAt.Format("2006-01-02 15:04"), item.ID, item.Category, item.Importance, item.Content)
	}
	fmt.Fprintf(out, "%d items\n", len(items))
	return nil
}
