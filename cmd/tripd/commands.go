package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/tripd/internal/api"
	"github.com/kalambet/tripd/internal/config"
	"github.com/kalambet/tripd/internal/conversation"
	"github.com/kalambet/tripd/internal/jobs"
)

const (
	replyPollInterval = 500 * time.Millisecond
	replyWait         = jobs.DefaultCeiling + 30*time.Second
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <thread-id> <message>",
	Short: "Send a message to a trip planning conversation",
	Long: `Send a message to a trip planning conversation and print the reply.

Examples:
  tripd chat my-trip "Paris to Tokyo, April 10 for 4 days"
  tripd chat my-trip --continue "Change my origin to London"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cont, _ := cmd.Flags().GetBool("continue")
		threadID, message := args[0], strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), replyWait)
		defer cancel()

		taskID, err := client.submit(ctx, "/chat", api.ChatRequest{
			Message:        message,
			ThreadID:       threadID,
			IsContinuation: cont,
		})
		if err != nil {
			return err
		}
		return awaitAndPrint(ctx, os.Stdout, client, threadID, taskID)
	},
}

func init() {
	chatCmd.Flags().BoolP("continue", "c", false, "refine the current trip instead of starting a new one")
}

// --- resume ---

var resumeCmd = &cobra.Command{
	Use:   "resume <thread-id>",
	Short: "Provide contact details to a conversation waiting for them",
	Long: `Provide contact details and budget to a conversation waiting for them.

Example:
  tripd resume my-trip --name Ada --email ada@example.com --budget '$3,000'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var input conversation.HumanInput
		input.Name, _ = cmd.Flags().GetString("name")
		input.Email, _ = cmd.Flags().GetString("email")
		input.Phone, _ = cmd.Flags().GetString("phone")
		input.Budget, _ = cmd.Flags().GetString("budget")
		if input == (conversation.HumanInput{}) {
			return fmt.Errorf("at least one of --name, --email, --phone or --budget is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), replyWait)
		defer cancel()

		taskID, err := client.submit(ctx, "/chat/customer-info", api.CustomerInfoRequest{
			ThreadID:     args[0],
			CustomerInfo: input,
		})
		if err != nil {
			return err
		}
		return awaitAndPrint(ctx, os.Stdout, client, args[0], taskID)
	},
}

func init() {
	resumeCmd.Flags().String("name", "", "traveller name")
	resumeCmd.Flags().String("email", "", "email address")
	resumeCmd.Flags().String("phone", "", "phone number")
	resumeCmd.Flags().String("budget", "", "trip budget, e.g. '$3,000' or 'CNY 20000'")
}

// --- reset ---

var resetCmd = &cobra.Command{
	Use:   "reset <thread-id>",
	Short: "Forget everything stored for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/chat/thread/"+args[0])
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Conversation %s reset", args[0])
		return nil
	},
}

func awaitAndPrint(ctx context.Context, w io.Writer, client *apiClient, threadID, taskID string) error {
	st, err := client.waitForReply(ctx, taskID, replyPollInterval)
	if err != nil {
		return err
	}
	return printReply(w, threadID, st)
}

func printReply(w io.Writer, threadID string, st api.StatusResponse) error {
	if st.Status == jobs.StateFailed {
		msg := jobs.FailedReply
		if st.Result != nil && st.Result.Error != "" {
			msg = st.Result.Error
		}
		return fmt.Errorf("%s", msg)
	}
	if st.Result != nil {
		fmt.Fprintln(w, st.Result.Reply)
	}
	if st.FormToDisplay == conversation.FormCustomerInfo {
		printStep("Contact details needed: tripd resume %s --email <email> --budget <budget>", threadID)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if key == "providers.api_key" {
			printSuccess("Stored %s in the secret store", key)
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
