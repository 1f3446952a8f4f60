package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/remindful/internal/notices"
	"github.com/MarcoPoloResearchLab/remindful/internal/reminders"
	"github.com/MarcoPoloResearchLab/remindful/internal/session"
	"github.com/spf13/cobra"
)

const closeTimeout = 10 * time.Second

var errRemoteWriteFailed = errors.New("change kept locally but not saved remotely")

type app struct {
	open func(ctx context.Context) (*session.Session, func(), error)
}

type sessionAction func(ctx context.Context, out io.Writer, s *session.Session) (*session.PendingWrite, error)

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "remindctl",
		Short:        "Manage reminders from the command line",
		SilenceUsage: true,
	}
	root.AddCommand(a.groupsCommand(), a.itemsCommand(), a.prefsCommand())
	return root
}

// run opens a session, refreshes it, performs action and reports any
// background write failure before closing.
func (a *app) run(cmd *cobra.Command, action sessionAction) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	s, cleanup, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	stream, unsubscribe := s.Notices(ctx)
	defer unsubscribe()

	s.Open(ctx)
	if err := s.MigrationErr(); err != nil {
		fmt.Fprintf(errOut, "warning: data migration incomplete: %v\n", err)
	}
	if err := s.Refresh(ctx); err != nil {
		fmt.Fprintf(errOut, "warning: showing cached data: %v\n", err)
	}

	pending, actionErr := action(ctx, out, s)
	var writeErr error
	if actionErr == nil && pending != nil {
		writeErr = pending.Wait(ctx)
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	closeErr := s.Close(closeCtx)
	printNotices(errOut, stream)

	switch {
	case actionErr != nil:
		return actionErr
	case writeErr != nil:
		return fmt.Errorf("%w: %v", errRemoteWriteFailed, writeErr)
	default:
		return closeErr
	}
}

func printNotices(out io.Writer, stream <-chan notices.Notice) {
	for {
		select {
		case notice, ok := <-stream:
			if !ok {
				return
			}
			fmt.Fprintf(out, "notice: %s\n", notice.Message())
		default:
			return
		}
	}
}

func (a *app) groupsCommand() *cobra.Command {
	groups := &cobra.Command{
		Use:   "groups",
		Short: "List groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(_ context.Context, out io.Writer, s *session.Session) (*session.PendingWrite, error) {
				writeGroups(out, s.Groups().List())
				return nil, nil
			})
		},
	}

	var color string
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a group at the end of the list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, out io.Writer, s *session.Session) (*session.PendingWrite, error) {
				group, pending, err := s.Groups().Create(ctx, args[0], color)
				if err != nil {
					return nil, err
				}
				fmt.Fprintf(out, "created group %s\n", group.ID)
				return pending, nil
			})
		},
	}
	add.Flags().StringVar(&color, "color", "", "Group color")

	var renameColor string
	rename := &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, out io.Writer, s *session.Session) (*session.PendingWrite, error) {
				color := renameColor
				if !cmd.Flags().Changed("color") {
					for _, group := range s.Groups().List() {
						if group.ID == args[0] {
							color = group.Color
						}
					}
				}
				return s.Groups().Update(ctx, args[0], args[1], color)
			})
		},
	}
	rename.Flags().StringVar(&renameColor, "color", "", "New group color")

	move := &cobra.Command{
		Use:   "move ID INDEX",
		Short: "Move a group to a zero-based index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[1])
			}
			return a.run(cmd, func(ctx context.Context, out io.Writer, s *session.Session) (*session.PendingWrite, error) {
				group, pending, err := s.Groups().Move(ctx, args[0], index)
				if err != nil {
					return nil, err
				}
				fmt.Fprintf(out, "moved group %s to position %s\n", group.ID, formatPosition(group.Position))
				return pending, nil
			})
		},
	}

	remove := &cobra.Command{
		Use:   "rm ID",
		Short: "Delete a group and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, out io.Writer, s *session.Session) (*session.PendingWrite, error) {
				return s.Groups().Delete(ctx, args[0])
			})
		},
	}

	groups.AddCommand(add, rename, move, remove)
	return groups
}

func (a *app) itemsCommand() *cobra.Command {
	var groupFilter string
	items := &cobra.Command{
		Use:   "items",
		Short: "List items in the preferred order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(_ context.Context, out io.Writer, s *session.Session) (*session.PendingWrite, error) {
				list := s.Items().Sorted()
				if groupFilter != "" {
					list = s.Items().ByGroup(groupFilter)
				}
				writeItems(out, list)
				return nil, nil
			})
		},
	}
	items.Flags().StringVar(&groupFilter, "group", "", "Only list items of this group")

	var draft itemFlags
	add := &cobra.Command{
		Use:   "add TITLE",
		Short: "Create an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remindAt, err := parseRemindAt(draft.at)
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, out io.Writer, s *session.Session) (*session.PendingWrite, error) {
				item, pending, err := s.Items().Create(ctx, session.ItemDraft{
					Title:         args[0],
					Content:       optional(draft.content),
					GroupID:       optional(draft.group),
					RemindAt:      remindAt,
					NotifyEnabled: draft.notify != "",
					NotifyTiming:  reminders.NotifyTiming(draft.notify),
				})
				if err != nil {
					return nil, err
				}
				fmt.Fprintf(out, "created item %s\n", item.ID)
				return pending, nil
			})
		},
	}
	draft.register(add)

	var edit itemFlags
	update := &cobra.Command{
		Use:   "edit ID",
		Short: "Change an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, out io.Writer, s *session.Session) (*session.PendingWrite, error) {
				item, found := findItem(s.Items().List(), args[0])
				if !found {
					return nil, fmt.Errorf("%w: %s", session.ErrItemNotFound, args[0])
				}
				if err := edit.apply(cmd, &item); err != nil {
					return nil, err
				}
				return s.Items().Update(ctx, item)
			})
		},
	}
	edit.register(update)
	update.Flags().String("title", "", "New title")

	remove := &cobra.Command{
		Use:   "rm ID...",
		Short: "Delete items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, out io.Writer, s *session.Session) (*session.PendingWrite, error) {
				if len(args) == 1 {
					return s.Items().Delete(ctx, args[0])
				}
				return s.Items().DeleteMany(ctx, args)
			})
		},
	}

	items.AddCommand(add, update, remove)
	return items
}

func (a *app) prefsCommand() *cobra.Command {
	prefs := &cobra.Command{
		Use:   "prefs",
		Short: "Show preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(_ context.Context, out io.Writer, s *session.Session) (*session.PendingWrite, error) {
				fmt.Fprintf(out, "item sort: %s\n", s.Preferences().Get().ItemSortOption)
				return nil, nil
			})
		},
	}
	sort := &cobra.Command{
		Use:   "sort OPTION",
		Short: "Set the item sort order (title-asc, title-desc, date-asc, date-desc)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, out io.Writer, s *session.Session) (*session.PendingWrite, error) {
				pending, err := s.Preferences().SetSortOption(ctx, args[0])
				if err != nil {
					return nil, err
				}
				fmt.Fprintf(out, "item sort: %s\n", s.Preferences().Get().ItemSortOption)
				return pending, nil
			})
		},
	}
	prefs.AddCommand(sort)
	return prefs
}

type itemFlags struct {
	at      string
	content string
	group   string
	notify  string
}

func (f *itemFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.at, "at", "", "Reminder time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.content, "content", "", "Item content")
	cmd.Flags().StringVar(&f.group, "group", "", "Group identifier")
	cmd.Flags().StringVar(&f.notify, "notify", "", "Notification timing (on-day, day-before, week-before)")
}

func (f *itemFlags) apply(cmd *cobra.Command, item *reminders.Item) error {
	flags := cmd.Flags()
	if flags.Changed("title") {
		title, _ := flags.GetString("title")
		item.Title = title
	}
	if flags.Changed("at") {
		remindAt, err := parseRemindAt(f.at)
		if err != nil {
			return err
		}
		item.RemindAt = remindAt
	}
	if flags.Changed("content") {
		item.Content = optional(f.content)
	}
	if flags.Changed("group") {
		item.GroupID = optional(f.group)
	}
	if flags.Changed("notify") {
		item.NotifyEnabled = f.notify != ""
		item.NotifyTiming = reminders.NotifyTiming(f.notify)
	}
	return nil
}

func parseRemindAt(raw string) (reminders.Timestamp, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return reminders.Timestamp{}, errors.New("--at is required")
	}
	if value, err := time.Parse(time.RFC3339, raw); err == nil {
		return reminders.NewTimestamp(value), nil
	}
	value, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return reminders.Timestamp{}, fmt.Errorf("invalid reminder time %q", raw)
	}
	return reminders.NewTimestamp(value), nil
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return reminders.StringPointer(value)
}

func findItem(items []reminders.Item, id string) (reminders.Item, bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	return reminders.Item{}, false
}

func formatPosition(position float64) string {
	return strconv.FormatFloat(position, 'f', -1, 64)
}

func writeGroups(out io.Writer, groups []reminders.Group) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tNAME\tCOLOR\tPOSITION")
	for _, group := range groups {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", group.ID, group.Name, group.Color, formatPosition(group.Position))
	}
	_ = writer.Flush()
}

func writeItems(out io.Writer, items []reminders.Item) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tTITLE\tREMIND AT\tGROUP\tNEXT NOTIFICATION")
	for _, item := range items {
		group := "-"
		if item.GroupID != nil {
			group = *item.GroupID
		}
		next := "-"
		if item.NextNotifyAt != nil {
			next = item.NextNotifyAt.Time().Format(time.RFC3339)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", item.ID, item.Title, item.RemindAt.Time().Format(time.RFC3339), group, next)
	}
	_ = writer.Flush()
}
