package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cedromirror/talkcart-web-sub008/internal/app/dto"
	"github.com/cedromirror/talkcart-web-sub008/internal/client/api"
	"github.com/cedromirror/talkcart-web-sub008/internal/client/cache"
	"github.com/cedromirror/talkcart-web-sub008/internal/domain/auth"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/security"
)

func newTokenCommand() *cobra.Command {
	var (
		user   string
		role   string
		secret string
		issuer string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token signed with the server secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			if secret == "" {
				return fmt.Errorf("--secret or JWT_SECRET is required")
			}
			token, expires, err := security.NewJWT(secret, issuer).Issue(user, parsed)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleCustomer), "customer, vendor or admin")
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HMAC secret shared with the server")
	cmd.Flags().StringVar(&issuer, "issuer", envOr("JWT_ISSUER", "talkcart-chat"), "token issuer")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newConversationsCommand(opts *options) *cobra.Command {
	var cachedOnly, retry bool
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"ls"},
		Short:   "List conversations, cached first and then refreshed from the server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			if cachedOnly {
				cached, err := s.cache.OpenCached(ctx, s.user)
				if err != nil {
					return err
				}
				printEntries(s.out, cached)
				return nil
			}
			// a retry skips the background refresh so the one attempt is its own
			load, refresh := s.cache.Open, s.cache.Refresh
			if retry {
				load, refresh = s.cache.OpenCached, s.cache.Retry
			}
			cached, err := load(ctx, s.user)
			if err != nil {
				return err
			}
			if len(cached) > 0 {
				fmt.Fprintln(s.out, "# cached")
				printEntries(s.out, cached)
				fmt.Fprintln(s.out, "# refreshed")
			}
			fresh, err := refresh(ctx)
			if err != nil {
				return explain(err)
			}
			printEntries(s.out, fresh)
			return nil
		},
	}
	cmd.Flags().BoolVar(&cachedOnly, "cached", false, "print the local cache without contacting the server")
	cmd.Flags().BoolVar(&retry, "retry", false, "clear a failed load and make one fresh attempt")
	return cmd
}

func newOpenCommand(opts *options) *cobra.Command {
	var markRead, retry bool
	cmd := &cobra.Command{
		Use:   "open <conversation-id>",
		Short: "Show the latest messages of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			selectFn := s.cache.Select
			if retry {
				selectFn = s.cache.SelectRetry
			}
			if _, err := s.cache.Open(ctx, s.user); err != nil {
				return err
			}
			list, err := selectFn(ctx, args[0])
			if err != nil {
				return explain(err)
			}
			printMessages(s.out, list.Messages)
			if markRead {
				if _, err := s.client.MarkRead(ctx, args[0]); err != nil {
					return explain(err)
				}
				if c, err := s.client.GetConversation(ctx, args[0]); err == nil {
					_ = s.cache.Record(ctx, c)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&markRead, "read", true, "mark the conversation read")
	cmd.Flags().BoolVar(&retry, "retry", false, "clear a failed load and make one fresh attempt")
	return cmd
}

func newStartCommand(opts *options) *cobra.Command {
	var req api.StartRequest
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Open (or fetch) the conversation about a product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.ProductID) == "" {
				return fmt.Errorf("--product is required")
			}
			return startAndRecord(cmd, opts, req)
		},
	}
	cmd.Flags().StringVar(&req.VendorID, "vendor", "", "vendor id (when signed in as a customer)")
	cmd.Flags().StringVar(&req.CustomerID, "customer", "", "customer id (when signed in as a vendor)")
	cmd.Flags().StringVar(&req.ProductID, "product", "", "product id")
	return cmd
}

func newSupportCommand(opts *options) *cobra.Command {
	var req api.StartRequest
	cmd := &cobra.Command{
		Use:   "support",
		Short: "Open the support channel between a vendor and an admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return startAndRecord(cmd, opts, req)
		},
	}
	cmd.Flags().StringVar(&req.AdminID, "admin", "", "admin id (vendors; defaults to the service support admin)")
	cmd.Flags().StringVar(&req.VendorID, "vendor", "", "vendor id (admins)")
	return cmd
}

func startAndRecord(cmd *cobra.Command, opts *options, req api.StartRequest) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.close()
	ctx, cancel := withTimeout(cmd, opts)
	defer cancel()

	if _, err := s.cache.Open(ctx, s.user); err != nil {
		return err
	}
	res, err := s.client.StartConversation(ctx, req)
	if err != nil {
		return explain(err)
	}
	if err := s.cache.Record(ctx, res.Conversation); err != nil {
		return err
	}
	state := "existing"
	if res.IsNew {
		state = "new"
	}
	fmt.Fprintf(s.out, "%s\t%s\t%s\n", res.Conversation.ID, state, res.Conversation.Status)
	return nil
}

func newSendCommand(opts *options) *cobra.Command {
	var (
		replyTo string
		key     string
	)
	cmd := &cobra.Command{
		Use:   "send <conversation-id> <text>...",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			if _, err := s.cache.Open(ctx, s.user); err != nil {
				return err
			}
			if key == "" {
				key = uuid.NewString()
			}
			msg, err := s.client.SendMessage(ctx, args[0], api.SendRequest{
				Content:        strings.Join(args[1:], " "),
				ReplyTo:        replyTo,
				IdempotencyKey: key,
			})
			if err != nil {
				return explain(err)
			}
			if c, err := s.client.GetConversation(ctx, args[0]); err == nil {
				_ = s.cache.Record(ctx, c)
			}
			fmt.Fprintf(s.out, "%s\t%s\n", msg.ID, msg.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "id of the message being answered")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "reuse to retry a send without duplicating it")
	return cmd
}

func newForgetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <conversation-id>",
		Short: "Remove a conversation from this device's list (the server keeps it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer s.close()
			ctx, cancel := withTimeout(cmd, opts)
			defer cancel()

			if _, err := s.cache.OpenCached(ctx, s.user); err != nil {
				return err
			}
			if err := s.cache.Forget(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "forgot %s\n", args[0])
			return nil
		},
	}
}

func printEntries(w io.Writer, entries []cache.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			e.ConversationID, e.DisplayTitle(), e.LastActivityAt.Format(time.RFC3339), e.UnreadCount, e.LastMessagePreview)
	}
	_ = tw.Flush()
}

func printMessages(w io.Writer, messages []dto.Message) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, m := range messages {
		marks := ""
		if m.IsEdited {
			marks += " (edited)"
		}
		if m.IsForwarded {
			marks += " (forwarded)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s%s\n", m.CreatedAt.Format(time.RFC3339), m.SenderID, m.Content, marks)
	}
	_ = tw.Flush()
}
