package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knoldeck/internal/collection"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/sched"
	"github.com/conorfennell/knoldeck/internal/storage"
)

var (
	addTags    []string
	addReverse bool
	addDeck    int64
	queueLimit int
)

var addCmd = &cobra.Command{
	Use:   "add <front> [back] [context]",
	Short: "Add a note",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCollection(cmd, func(ctx context.Context, col *collection.Collection) error {
			note, cards, err := col.AddNote(ctx, collection.NewNote{
				Fields:  args,
				Tags:    addTags,
				Deck:    domain.DeckID(addDeck),
				Reverse: addReverse,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Note %d added with %d cards\n", note.ID, len(cards))
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <note-id>",
	Short: "Delete a note and its cards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid note ID %q", args[0])
		}
		return withCollection(cmd, func(ctx context.Context, col *collection.Collection) error {
			return col.DeleteNote(ctx, domain.NoteID(id))
		})
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the cards due now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCollection(cmd, func(ctx context.Context, col *collection.Collection) error {
			sc, err := col.Scheduler()
			if err != nil {
				return err
			}
			q, err := sc.Queue(ctx)
			if err != nil {
				return err
			}
			counts := q.Counts()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "New: %d  Learning: %d  Review: %d\n", counts.New, counts.Learning, counts.Review)

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CARD\tSTATE\tQUESTION")
			shown := 0
			for id := range q.All() {
				if queueLimit > 0 && shown == queueLimit {
					break
				}
				card, note, err := cardWithNote(ctx, col, sc, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%s\t%s\n", card.ID, card.Queue, question(card, note))
				shown++
			}
			return w.Flush()
		})
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview <card-id>",
	Short: "Show what each grade would do to a card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCardID(args[0])
		if err != nil {
			return err
		}
		return withCollection(cmd, func(ctx context.Context, col *collection.Collection) error {
			sc, err := col.Scheduler()
			if err != nil {
				return err
			}
			card, note, err := cardWithNote(ctx, col, sc, id)
			if err != nil {
				return err
			}
			options, err := sc.Preview(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Q: %s\n", question(card, note))
			writePreview(out, options)
			return nil
		})
	},
}

var answerCmd = &cobra.Command{
	Use:   "answer <card-id> <again|hard|good|easy>",
	Short: "Record an answer for a card",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseCardID(args[0])
		if err != nil {
			return err
		}
		grade, err := domain.ParseGrade(args[1])
		if err != nil {
			return err
		}
		return withCollection(cmd, func(ctx context.Context, col *collection.Collection) error {
			sc, err := col.Scheduler()
			if err != nil {
				return err
			}
			card, err := sc.Answer(ctx, id, grade)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Card %d is now %s, interval %d days, ease %.2f\n",
				card.ID, card.Queue, card.Interval, float64(card.Ease)/1000)
			return nil
		})
	},
}

// transitionCmd builds a command that moves one card between queues.
func transitionCmd(use, short string, op func(*sched.Scheduler) func(context.Context, domain.CardID) (domain.Card, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <card-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseCardID(args[0])
			if err != nil {
				return err
			}
			return withCollection(cmd, func(ctx context.Context, col *collection.Collection) error {
				sc, err := col.Scheduler()
				if err != nil {
					return err
				}
				card, err := op(sc)(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Card %d is now %s\n", card.ID, card.Queue)
				return nil
			})
		},
	}
}

func parseCardID(s string) (domain.CardID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid card ID %q", s)
	}
	return domain.CardID(id), nil
}

func cardWithNote(ctx context.Context, col *collection.Collection, sc *sched.Scheduler, id domain.CardID) (domain.Card, domain.Note, error) {
	card, err := sc.Card(ctx, id)
	if err != nil {
		return domain.Card{}, domain.Note{}, err
	}
	var note domain.Note
	err = col.View(ctx, func(tx *storage.Tx) error {
		note, err = tx.GetNote(ctx, card.NoteID)
		return err
	})
	return card, note, err
}

// question is the prompt side of a card: the first field, or the second
// for reverse cards.
func question(card domain.Card, note domain.Note) string {
	i := 0
	if card.Ord == 1 && len(note.Fields) > 1 {
		i = 1
	}
	if i >= len(note.Fields) {
		return ""
	}
	q := strings.Join(strings.Fields(note.Fields[i]), " ")
	if len(q) > 60 {
		q = q[:57] + "..."
	}
	return q
}

func writePreview(out io.Writer, options []sched.PreviewOption) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GRADE\tNEXT\tINTERVAL")
	for _, o := range options {
		fmt.Fprintf(w, "%s\t%s\t%dd\n", o.Grade, formatDelay(o.Delay), o.Card.Interval)
	}
	w.Flush()
}

func formatDelay(d time.Duration) string {
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Round(time.Minute).Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Round(time.Hour).Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Round(24*time.Hour).Hours())/24)
	}
}

func init() {
	addCmd.Flags().StringSliceVarP(&addTags, "tag", "t", nil, "Tag the note (repeatable)")
	addCmd.Flags().BoolVar(&addReverse, "reverse", false, "Also create a card asking for the front")
	addCmd.Flags().Int64Var(&addDeck, "deck", int64(domain.DefaultDeck), "Deck of the new cards")
	queueCmd.Flags().IntVarP(&queueLimit, "limit", "n", 20, "Show at most this many cards (0 for all)")

	rootCmd.AddCommand(addCmd, deleteCmd, queueCmd, previewCmd, answerCmd,
		transitionCmd("suspend", "Suspend a card", func(s *sched.Scheduler) func(context.Context, domain.CardID) (domain.Card, error) { return s.Suspend }),
		transitionCmd("unsuspend", "Return a suspended card to its queue", func(s *sched.Scheduler) func(context.Context, domain.CardID) (domain.Card, error) { return s.Unsuspend }),
		transitionCmd("bury", "Hide a card until tomorrow", func(s *sched.Scheduler) func(context.Context, domain.CardID) (domain.Card, error) { return s.Bury }),
		transitionCmd("unbury", "Return a buried card to its queue", func(s *sched.Scheduler) func(context.Context, domain.CardID) (domain.Card, error) { return s.Unbury }),
		transitionCmd("forget", "Reset a card to new", func(s *sched.Scheduler) func(context.Context, domain.CardID) (domain.Card, error) { return s.Forget }),
	)
}
