package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func buildChatCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
	)
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the agent",
		Long: `Send one message to the agent, or start an interactive session when no
message is given. Context is retrieved from memory for every turn and the
exchange is persisted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runChatOnce(cmd, configPath, args[0], conversationID)
			}
			return runChatInteractive(cmd, configPath, conversationID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Continue an existing conversation")
	return cmd
}

func runChatOnce(cmd *cobra.Command, configPath, message, conversationID string) error {
	c, err := openCore(configPath)
	if err != nil {
		return err
	}
	defer c.Close()

	reply, err := c.Chat(cmd.Context(), message, conversationID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply.Response)
	return nil
}

func runChatInteractive(cmd *cobra.Command, configPath, conversationID string) error {
	c, err := openCore(configPath)
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Interactive session. Type /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}
		reply, err := c.Chat(cmd.Context(), line, conversationID)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
			continue
		}
		conversationID = reply.ConversationID
		fmt.Fprintln(out, reply.Response)
	}
	return scanner.Err()
}
