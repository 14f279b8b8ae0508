package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ffusco/chatline/internal/rest"
)

func client() (*rest.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return rest.NewClient(cfg.APIBaseURL, cfg.Token), nil
}

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Print unread counts per conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		counts, err := c.FetchUnreadCounts(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("total: %d\n", counts.Total)
		for _, entry := range counts.ByConversation {
			fmt.Printf("%s: %d\n", entry.ConversationID, entry.UnreadCount)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <content>",
	Short: "Send a message to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		recipient, _ := cmd.Flags().GetString("to")
		sent, err := c.SendMessage(ctx, args[0], args[1], recipient)
		if err != nil {
			return err
		}
		fmt.Printf("sent %s at %s\n", sent.ID, sent.CreatedAt.Format(time.RFC3339))
		return nil
	},
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		convos, err := c.ListConversations(ctx)
		if err != nil {
			return err
		}
		for _, convo := range convos {
			line := string(convo.ID)
			if convo.LastMessage != nil {
				m := convo.LastMessage.Normalize(string(convo.ID))
				line += "  " + m.Content
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().String("to", "", "recipient user id for first-message delivery")
}
