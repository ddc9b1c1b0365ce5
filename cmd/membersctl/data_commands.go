package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pwaburton/members/internal/client"
	"github.com/pwaburton/members/internal/credentials"
	"github.com/pwaburton/members/internal/session"
	"github.com/spf13/cobra"
)

// guarded wraps a command body so it only runs once the route guard allows it.
func guarded(route session.Route, body func(ctx context.Context, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := cmd.Context()
		if err := rt.enter(ctx, route); err != nil {
			return err
		}
		return body(ctx, rt, args)
	}
}

func newMembersCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "members", Short: "Browse members"}

	var query client.MemberQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: guarded(routeMembers, func(ctx context.Context, rt *runtime, _ []string) error {
			page, err := rt.data.ListMembers(ctx, query)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rt.out, page)
			}
			rows := make([][]string, 0, len(page.Members))
			for _, member := range page.Members {
				rows = append(rows, []string{member.MemberNumber, member.FullName, member.Email, member.Phone, member.Status, yesNo(member.Verified)})
			}
			if err := printTable(rt.out, []string{"NUMBER", "NAME", "EMAIL", "PHONE", "STATUS", "VERIFIED"}, rows); err != nil {
				return err
			}
			fmt.Fprintf(rt.out, "page %d, %d of %d members\n", page.Page, len(page.Members), page.Total)
			return nil
		}),
	}
	list.Flags().StringVar(&query.Search, "search", "", "Match name, member number, email or phone")
	list.Flags().StringVar(&query.CollectorID, "collector", "", "Only members of this collector")
	list.Flags().IntVar(&query.Page, "page", 0, "Page number")
	list.Flags().IntVar(&query.PageSize, "page-size", 0, "Members per page")

	show := &cobra.Command{
		Use:   "show <member-id>",
		Short: "Show one member with family and notes",
		Args:  cobra.ExactArgs(1),
		RunE: guarded(routeMembers, func(ctx context.Context, rt *runtime, args []string) error {
			detail, err := rt.data.GetMember(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rt.out, detail)
			}
			fmt.Fprintf(rt.out, "%s  %s\n", detail.MemberNumber, detail.FullName)
			fmt.Fprintf(rt.out, "collector: %s (%s)\n", detail.Collector.Name, detail.Collector.Number)
			fmt.Fprintf(rt.out, "email: %s  phone: %s\n", detail.Email, detail.Phone)
			fmt.Fprintf(rt.out, "address: %s, %s %s\n", detail.Address, detail.Town, detail.Postcode)
			fmt.Fprintf(rt.out, "status: %s  verified: %s\n", detail.Status, yesNo(detail.Verified))
			for _, relative := range detail.FamilyMembers {
				fmt.Fprintf(rt.out, "family: %s (%s)\n", relative.Name, relative.Relationship)
			}
			for _, note := range detail.AdminNotes {
				fmt.Fprintf(rt.out, "note %s: %s\n", note.CreatedAt.Format(time.DateOnly), note.Note)
			}
			return nil
		}),
	}

	cmd.AddCommand(list, show)
	return cmd
}

func newCollectorsCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "collectors", Short: "Browse and create collectors"}

	var search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List collectors with their member counts",
		RunE: guarded(routeCollectors, func(ctx context.Context, rt *runtime, _ []string) error {
			found, err := rt.data.ListCollectors(ctx, search)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rt.out, found)
			}
			rows := make([][]string, 0, len(found))
			for _, collector := range found {
				rows = append(rows, []string{collector.Number, collector.Prefix, collector.Name, strconv.FormatInt(collector.MemberCount, 10), yesNo(collector.Active)})
			}
			return printTable(rt.out, []string{"NUMBER", "PREFIX", "NAME", "MEMBERS", "ACTIVE"}, rows)
		}),
	}
	list.Flags().StringVar(&search, "search", "", "Match name or number")

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a collector",
		Args:  cobra.ExactArgs(1),
		RunE: guarded(routeAdmin, func(ctx context.Context, rt *runtime, args []string) error {
			created, err := rt.data.CreateCollector(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rt.out, created)
			}
			fmt.Fprintf(rt.out, "Collector %s created with prefix %s.\n", created.Number, created.Prefix)
			return nil
		}),
	}

	cmd.AddCommand(list, create)
	return cmd
}

func newPaymentsCommand() *cobra.Command {
	var date, amount string
	cmd := &cobra.Command{
		Use:   "payments <member-id>",
		Short: "List a member's payments",
		Args:  cobra.ExactArgs(1),
		RunE: guarded(routeDashboard, func(ctx context.Context, rt *runtime, args []string) error {
			found, err := rt.data.ListPayments(ctx, args[0], date, amount)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rt.out, found)
			}
			rows := make([][]string, 0, len(found))
			for _, payment := range found {
				rows = append(rows, []string{payment.PaymentDate.Format(time.DateOnly), formatPence(payment.AmountPence), payment.PaymentType, payment.Direction, payment.Status, payment.Reference})
			}
			return printTable(rt.out, []string{"DATE", "AMOUNT", "TYPE", "DIRECTION", "STATUS", "REFERENCE"}, rows)
		}),
	}
	cmd.Flags().StringVar(&date, "date", "", "Only payments on this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&amount, "amount", "", "Only payments of this amount in pounds")
	return cmd
}

func newFinanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "finance",
		Short: "Show this month's income and expenses",
		RunE: guarded(routeFinance, func(ctx context.Context, rt *runtime, _ []string) error {
			stats, err := rt.data.FinanceStats(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rt.out, stats)
			}
			fmt.Fprintf(rt.out, "balance:  %s\n", formatPence(stats.TotalBalance))
			fmt.Fprintf(rt.out, "income:   %s (%+.1f%%)\n", formatPence(stats.MonthlyIncome), stats.IncomeChangePercent)
			fmt.Fprintf(rt.out, "expenses: %s (%+.1f%%)\n", formatPence(stats.MonthlyExpenses), stats.ExpensesChangePercent)
			return nil
		}),
	}
}

func newTicketsCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "tickets", Short: "Support tickets"}

	var query client.TicketQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List support tickets",
		RunE: guarded(routeDashboard, func(ctx context.Context, rt *runtime, _ []string) error {
			found, err := rt.data.ListTickets(ctx, query)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rt.out, found)
			}
			rows := make([][]string, 0, len(found))
			for _, ticket := range found {
				rows = append(rows, []string{ticket.Reference, ticket.Status, ticket.Priority, ticket.RequesterName, ticket.Subject, strconv.Itoa(len(ticket.Responses))})
			}
			return printTable(rt.out, []string{"REF", "STATUS", "PRIORITY", "FROM", "SUBJECT", "REPLIES"}, rows)
		}),
	}
	list.Flags().StringVar(&query.Search, "search", "", "Match subject, message or requester")
	list.Flags().StringVar(&query.Status, "status", "all", "Open, In Progress, Resolved, Closed or all")
	list.Flags().StringVar(&query.Priority, "priority", "all", "Low, Medium, High or all")

	var subject, message, priority string
	create := &cobra.Command{
		Use:   "create",
		Short: "Open a support ticket",
		RunE: guarded(routeDashboard, func(ctx context.Context, rt *runtime, _ []string) error {
			created, err := rt.data.CreateTicket(ctx, subject, message, priority)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rt.out, created)
			}
			fmt.Fprintf(rt.out, "Ticket %s opened.\n", created.Reference)
			return nil
		}),
	}
	create.Flags().StringVar(&subject, "subject", "", "Ticket subject")
	create.Flags().StringVar(&message, "message", "", "Ticket message")
	create.Flags().StringVar(&priority, "priority", "Medium", "Low, Medium or High")
	_ = create.MarkFlagRequired("subject")
	_ = create.MarkFlagRequired("message")

	var reply string
	respond := &cobra.Command{
		Use:   "respond <ticket-id>",
		Short: "Reply to a support ticket",
		Args:  cobra.ExactArgs(1),
		RunE: guarded(routeDashboard, func(ctx context.Context, rt *runtime, args []string) error {
			created, err := rt.data.RespondTicket(ctx, args[0], reply)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rt.out, created)
			}
			fmt.Fprintln(rt.out, "Reply sent.")
			return nil
		}),
	}
	respond.Flags().StringVar(&reply, "message", "", "Reply text")
	_ = respond.MarkFlagRequired("message")

	cmd.AddCommand(list, create, respond)
	return cmd
}

func newNoticesCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "notices", Short: "Member notices"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sent notices",
		RunE: guarded(routeNotices, func(ctx context.Context, rt *runtime, _ []string) error {
			found, err := rt.data.ListNotices(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rt.out, found)
			}
			rows := make([][]string, 0, len(found))
			for _, notice := range found {
				audience := "all"
				if notice.CollectorID != nil {
					audience = *notice.CollectorID
				}
				rows = append(rows, []string{notice.SentAt.Format(time.RFC3339), audience, strconv.FormatInt(notice.Recipients, 10), notice.Message})
			}
			return printTable(rt.out, []string{"SENT", "AUDIENCE", "RECIPIENTS", "MESSAGE"}, rows)
		}),
	}

	var message, collectorID string
	send := &cobra.Command{
		Use:   "send",
		Short: "Send a notice to every member or to one collector's members",
		RunE: guarded(routeNotices, func(ctx context.Context, rt *runtime, _ []string) error {
			sent, err := rt.data.SendNotice(ctx, message, collectorID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rt.out, sent)
			}
			fmt.Fprintf(rt.out, "Notice sent to %d members.\n", sent.Recipients)
			return nil
		}),
	}
	send.Flags().StringVar(&message, "message", "", "Notice text")
	send.Flags().StringVar(&collectorID, "collector", "all", "Collector id, or all")
	_ = send.MarkFlagRequired("message")

	cmd.AddCommand(list, send)
	return cmd
}

func newRegisterCommand() *cobra.Command {
	var email, fullName string
	var showPassword bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a login for a member and email them a temporary password",
		RunE: guarded(routeRegister, func(ctx context.Context, rt *runtime, _ []string) error {
			email = strings.TrimSpace(email)
			if email == "" || strings.TrimSpace(fullName) == "" {
				return errors.New("--email and --full-name are required")
			}
			tempPassword, err := credentials.GenerateTemporaryPassword()
			if err != nil {
				return err
			}
			message, err := rt.data.SendWelcomeEmail(ctx, client.WelcomeRequest{
				Email:        email,
				TempPassword: tempPassword,
				FullName:     fullName,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(rt.out, message)
			if showPassword {
				fmt.Fprintf(rt.out, "temporary password: %s\n", tempPassword)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&email, "email", "", "Member email address")
	cmd.Flags().StringVar(&fullName, "full-name", "", "Member full name")
	cmd.Flags().BoolVar(&showPassword, "show-password", false, "Also print the temporary password")
	return cmd
}
