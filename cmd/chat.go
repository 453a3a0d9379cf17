package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/xhad/chatweb/internal/models"
	"github.com/xhad/chatweb/pkg/rag"
	"github.com/xhad/chatweb/pkg/ragerr"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [url]",
		Short: "Chat with a website in the terminal",
		Long: `Start an interactive chat. Paste a URL at any time to load a new site;
the previous conversation is discarded when the new site is ready.
Type 'exit' to quit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pages atomic.Int32
			a, err := setup(cmd.Context(), opts, func(string) { pages.Add(1) })
			if err != nil {
				return err
			}
			defer a.Close()

			r := &repl{
				session: a.session,
				in:      cmd.InOrStdin(),
				out:     cmd.OutOrStdout(),
				status:  cmd.ErrOrStderr(),
				pages:   &pages,
			}
			if len(args) == 1 {
				r.load(cmd.Context(), args[0])
			}
			return r.run(cmd.Context())
		},
	}
}

type repl struct {
	session *rag.Session
	in      io.Reader
	out     io.Writer
	status  io.Writer
	pages   *atomic.Int32
}

func (r *repl) run(ctx context.Context) error {
	color.New(color.FgCyan).Fprintln(r.out, "\nChat with a website (paste a URL to load it, type 'exit' to quit)")

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	userPrompt := color.New(color.FgGreen)

	for {
		userPrompt.Fprint(r.out, "\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.EqualFold(query, "exit") || strings.EqualFold(query, "quit") {
			break
		}

		// Check if input contains a URL
		if url := urlRegex.FindString(query); url != "" {
			if !r.load(ctx, url) {
				continue
			}
			query = strings.TrimSpace(strings.Replace(query, url, "", 1))
			if query == "" {
				continue
			}
		}

		r.ask(ctx, query)
	}

	return scanner.Err()
}

func (r *repl) load(ctx context.Context, url string) bool {
	color.New(color.FgBlue).Fprintf(r.out, "\nLoading %s\n", url)
	r.pages.Store(0)

	var handle models.Handle
	err := r.spin(" Reading website...", func(bar *progressbar.ProgressBar) {
		bar.Describe(color.BlueString(" Reading website (%d pages)", r.pages.Load()))
	}, func() (err error) {
		handle, err = r.session.Load(ctx, url)
		return err
	})
	if err != nil {
		color.New(color.FgRed).Fprintf(r.out, "Failed to load URL: %v\n", err)
		if _, ok := r.session.Current(); ok {
			color.New(color.FgYellow).Fprintln(r.out, "Still answering from the previously loaded site.")
		}
		return false
	}

	color.New(color.FgGreen).Fprintf(r.out, "✓ Indexed %d chunks from %d pages\n", handle.Chunks, handle.Documents)
	return true
}

func (r *repl) ask(ctx context.Context, question string) {
	handle, ok := r.session.Current()
	if !ok {
		color.New(color.FgYellow).Fprintln(r.out, "Paste a website URL first.")
		return
	}

	var answer models.Answer
	err := r.spin(" Thinking...", nil, func() (err error) {
		answer, err = r.session.Ask(ctx, handle, question)
		return err
	})
	if err != nil {
		color.New(color.FgRed).Fprintf(r.out, "Error: %v\n", describe(err))
		return
	}

	color.New(color.FgCyan).Fprintf(r.out, "\nAssistant: %s\n", answer.Text)
	if sources := formatSources(answer.Sources); sources != "" {
		fmt.Fprintln(r.out, sources)
	}
}

// describe adds a hint for failures the user can act on.
func describe(err error) string {
	switch {
	case errors.Is(err, ragerr.ErrUnauthorized):
		return fmt.Sprintf("%v (check the API key)", err)
	case errors.Is(err, ragerr.ErrRateLimited):
		return fmt.Sprintf("%v (wait a moment and try again)", err)
	default:
		return err.Error()
	}
}

// spin shows a spinner on the status writer while fn runs.
func (r *repl) spin(description string, tick func(*progressbar.ProgressBar), fn func() error) error {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(r.status),
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if tick != nil {
					tick(bar)
				}
				bar.Add(1)
			}
		}
	}()

	err := fn()
	close(done)
	<-stopped
	bar.Finish()
	fmt.Fprint(r.status, "\r")
	return err
}

// formatSources lists the distinct pages an answer drew from.
func formatSources(sources []models.ScoredEntry) string {
	var urls []string
	seen := make(map[string]bool)

	for _, s := range sources {
		url, _ := s.Metadata["source"].(string)
		if url != "" && !seen[url] {
			urls = append(urls, url)
			seen[url] = true
		}
	}

	if len(urls) == 0 {
		return ""
	}

	return fmt.Sprintf("\nSources:\n%s", strings.Join(urls, "\n"))
}
