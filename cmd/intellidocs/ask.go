package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/types"
	"github.com/reanm09/intellidocs/pkg/rag"
)

var (
	askUser       int64
	askCollection string
	askMode       string
	askTopK       int
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about an indexed PDF",
	Long: `Answers a single question, or starts an interactive session when no
question is given. An interactive session is stored as one chat.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().Int64VarP(&askUser, "user", "u", 1, "user id")
	askCmd.Flags().StringVarP(&askCollection, "collection", "d", "", "document filename or collection name")
	askCmd.Flags().StringVarP(&askMode, "mode", "m", string(models.ModeDiscrete), "discrete or hybrid")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of chunks to retrieve")
	_ = askCmd.MarkFlagRequired("collection")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	mode, err := models.ParseMode(askMode)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	collection := models.ResolveCollectionName(askUser, askCollection)
	filename := strings.TrimPrefix(collection, fmt.Sprintf("user_%d__", askUser))

	q := rag.Question{
		UserID:     askUser,
		Collection: collection,
		Mode:       mode,
		TopK:       askTopK,
	}

	if len(args) == 1 {
		q.Query = args[0]
		return answer(cmd, a, q)
	}

	// Interactive sessions keep history in their own chat.
	var collectionID *int64
	if c, err := a.registry.FindCollection(ctx, askUser, filename); err == nil {
		collectionID = &c.ID
	} else if !errors.Is(err, types.ErrNotFound) {
		return err
	}
	chat, err := a.registry.CreateChat(ctx, askUser, filename, collectionID, mode)
	if err != nil {
		return err
	}
	q.ChatID = &chat.ID

	color.Cyan("\nAsking %s in %s mode (type 'exit' to quit)", filename, mode)

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.EqualFold(query, "exit") {
			break
		}

		q.Query = query
		if err := answer(cmd, a, q); err != nil {
			color.Red("Error: %v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// answer runs one question and prints sources, then the streamed answer.
func answer(cmd *cobra.Command, a *app, q rag.Question) error {
	out := cmd.OutOrStdout()
	assistantPrompt := color.New(color.FgCyan).FprintfFunc()
	spinner := getSpinner(" Searching...")
	spinning := true
	stopSpinner := func() {
		if spinning {
			_ = spinner.Finish()
			fmt.Fprintln(out)
			spinning = false
		}
	}

	var failure string
	res := a.pipeline.Run(cmd.Context(), q, func(e rag.Event) error {
		switch e.Type {
		case rag.EventSources:
			stopSpinner()
			printSources(cmd, e.Data)
			assistantPrompt(out, "\nAssistant: ")
		case rag.EventToken:
			fmt.Fprint(out, e.Data)
		case rag.EventError:
			stopSpinner()
			failure = fmt.Sprint(e.Data)
		}
		return nil
	})
	stopSpinner()
	fmt.Fprintln(out)

	if res.State == rag.StateFailed {
		return errors.New(failure)
	}
	return nil
}

func printSources(cmd *cobra.Command, data any) {
	bundle, ok := data.(models.SourceBundle)
	if !ok {
		return
	}
	out := cmd.OutOrStdout()
	if len(bundle.PDF) == 0 && len(bundle.Web) == 0 {
		color.New(color.FgYellow).Fprintln(out, "No sources found.")
		return
	}
	for _, s := range bundle.PDF {
		color.New(color.FgBlue).Fprintf(out, "[Page %d] ", s.Page)
		fmt.Fprintln(out, s.Snippet)
	}
	for i, w := range bundle.Web {
		color.New(color.FgMagenta).Fprintf(out, "[Web %d] ", i+1)
		fmt.Fprintf(out, "%s (%s)\n", w.Title, w.URL)
	}
}
