package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	v1 "cassandra/api/v1"
	"cassandra/internal/chat"
	"cassandra/internal/gateway/handlers"
	"cassandra/internal/server"
)

// turnRunner sends one message and returns the session it landed in.
type turnRunner func(ctx context.Context, sessionID, message string, out io.Writer) (string, error)

// NewChatCmd creates the chat command.
func NewChatCmd() *cobra.Command {
	var (
		sessionID string
		serverURL string
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to Cassandra in the terminal",
		Long: `Talk to Cassandra in the terminal.

By default the conversation runs in this process against the configured
model and is stored in the local database. With --url the message is sent
to a running 'cassandra serve' instead.

If no message is given, an interactive session starts.`,
		Example: `  # Ask once
  cassandra chat "Something like Kind of Blue, but newer?"

  # Continue a conversation
  cassandra chat --session 5f0c... "And from the 90s?"

  # Interactive, through a running server
  cassandra chat --url http://127.0.0.1:18790`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var run turnRunner
			if serverURL != "" {
				run = remoteTurn(&http.Client{Timeout: 5 * time.Minute}, strings.TrimRight(serverURL, "/"))
			} else {
				local, closeFn, err := localTurn(cmd)
				if err != nil {
					return err
				}
				defer closeFn()
				run = local
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return runInteractiveChat(cmd.Context(), cmd.InOrStdin(), out, sessionID, run)
			}

			sid, err := run(cmd.Context(), sessionID, strings.Join(args, " "), out)
			if err != nil {
				return err
			}
			if sessionID == "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n(Session ID: %s)\n", sid)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session ID to continue conversation")
	cmd.Flags().StringVar(&serverURL, "url", "", "send messages to a running Cassandra server")

	return cmd
}

// localTurn builds the chat services on the local database.
func localTurn(cmd *cobra.Command) (turnRunner, func(), error) {
	cliCtx, err := requireCLIContext(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := cliCtx.Config.Validate(); err != nil {
		return nil, nil, err
	}
	db, err := cliCtx.GetStorage()
	if err != nil {
		return nil, nil, err
	}
	svc, err := server.NewServices(cliCtx.Config, db)
	if err != nil {
		return nil, nil, err
	}

	run := func(ctx context.Context, sessionID, message string, out io.Writer) (string, error) {
		res, err := svc.Dispatcher.Run(ctx, sessionID, message, newTerminalDisplay(out))
		if err != nil {
			return sessionID, err
		}
		return res.SessionID, nil
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	}
	return run, closeFn, nil
}

// remoteTurn posts to /api/v1/chat/stream and prints the SSE content events.
func remoteTurn(client *http.Client, baseURL string) turnRunner {
	return func(ctx context.Context, sessionID, message string, out io.Writer) (string, error) {
		body, err := json.Marshal(v1.ChatRequest{SessionID: sessionID, Message: message})
		if err != nil {
			return sessionID, fmt.Errorf("failed to marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/chat/stream", bytes.NewReader(body))
		if err != nil {
			return sessionID, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := client.Do(req)
		if err != nil {
			return sessionID, fmt.Errorf("failed to send request: %w\nIs the server running? Start it with: cassandra serve", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return sessionID, decodeAPIError(resp)
		}

		disp := newTerminalDisplay(out)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			data, ok := strings.CutPrefix(scanner.Text(), "data: ")
			if !ok {
				continue
			}
			var ev v1.ChatStreamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			switch ev.Type {
			case v1.EventContent:
				disp.ShowPartial(ev.Text)
			case v1.EventDone:
				disp.ShowAssistant(ev.Message)
				return ev.SessionID, nil
			case v1.EventError:
				return sessionID, fmt.Errorf("server error: %s", ev.Error)
			}
		}
		if err := scanner.Err(); err != nil {
			return sessionID, fmt.Errorf("error reading stream: %w", err)
		}
		return sessionID, errors.New("stream ended before the reply was complete")
	}
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var apiErr handlers.ErrorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error.Message)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}

func runInteractiveChat(ctx context.Context, in io.Reader, out io.Writer, sessionID string, run turnRunner) error {
	interactive := isTerminal(in)
	if interactive {
		fmt.Fprintln(out, "Cassandra - your personal music editor & curator.")
		fmt.Fprintln(out, "Type 'exit' or 'quit' to leave, 'new' to start a new conversation.")
		fmt.Fprintln(out)
	}

	reader := bufio.NewReader(in)
	for {
		if interactive {
			fmt.Fprint(out, "You: ")
		}
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				if interactive {
					fmt.Fprintln(out)
				}
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		message := strings.TrimRight(line, "\r\n")
		switch strings.ToLower(strings.TrimSpace(message)) {
		case "exit", "quit":
			return nil
		case "new":
			sessionID = ""
			fmt.Fprintln(out, "Starting a new conversation.")
			continue
		case "":
			continue
		}

		if interactive {
			fmt.Fprint(out, "Cassandra: ")
		}
		sid, err := run(ctx, sessionID, message, out)
		if err != nil {
			if errors.Is(err, chat.ErrInputTooLong) || errors.Is(err, chat.ErrEmptyInput) {
				fmt.Fprintf(out, "%v\n", err)
				continue
			}
			fmt.Fprintf(out, "\nError: %v\n", err)
			continue
		}
		sessionID = sid
		fmt.Fprintln(out)
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalDisplay prints a streamed reply as it grows. Partial texts are
// cumulative, so only the unseen suffix is written.
type terminalDisplay struct {
	out     io.Writer
	printed string
}

func newTerminalDisplay(out io.Writer) *terminalDisplay {
	return &terminalDisplay{out: out}
}

func (d *terminalDisplay) ShowUser(string) {}

func (d *terminalDisplay) ShowPartial(text string) {
	if rest, ok := strings.CutPrefix(text, d.printed); ok {
		fmt.Fprint(d.out, rest)
	} else {
		fmt.Fprint(d.out, "\n"+text)
	}
	d.printed = text
}

func (d *terminalDisplay) ShowAssistant(text string) {
	switch {
	case d.printed == "":
		fmt.Fprint(d.out, text)
	case text != d.printed:
		// the stream failed part way and the apology replaces it
		fmt.Fprint(d.out, "\n"+text)
	}
	fmt.Fprintln(d.out)
	d.printed = ""
}
