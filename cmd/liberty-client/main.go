// Command liberty-client is a terminal front end for the conversation
// pipeline: it streams answers, speaks completed sentences through the
// playback queue and keeps the session handle across restarts.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/liberty/conversation-pipeline/internal/client"
	"github.com/liberty/conversation-pipeline/internal/license"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		serverURL   string
		locale      string
		licensePath string
		sessionPath string
		mute        bool
	)

	cmd := &cobra.Command{
		Use:           "liberty-client",
		Short:         "Interactive conversation client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			lic, err := loadLicense(licensePath)
			if err != nil {
				return err
			}
			logger, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer logger.Sync()

			var player player = discardPlayer{}
			if !mute {
				player = announcingPlayer{out: cmd.OutOrStdout()}
			}
			engine := client.New(client.Config{BaseURL: serverURL, Locale: locale}, lic, player, logger)
			defer engine.Close()

			if sessionPath != "" {
				if ref, err := os.ReadFile(sessionPath); err == nil {
					engine.RestoreSessionRef(strings.TrimSpace(string(ref)))
				}
			}
			return repl(cmd.Context(), cmd, engine, sessionPath)
		},
	}
	cmd.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:8787", "pipeline server URL")
	cmd.Flags().StringVarP(&locale, "locale", "l", "ja", "conversation locale")
	cmd.Flags().StringVar(&licensePath, "license", "license.json", "path to the license payload")
	cmd.Flags().StringVar(&sessionPath, "session-file", "", "file persisting the session handle")
	cmd.Flags().BoolVar(&mute, "mute", false, "skip speech playback")
	return cmd
}

type player interface {
	Play(ctx context.Context, audio io.Reader) error
}

// discardPlayer drains audio without playing it.
type discardPlayer struct{}

func (discardPlayer) Play(_ context.Context, audio io.Reader) error {
	_, err := io.Copy(io.Discard, audio)
	return err
}

// announcingPlayer drains audio and reports the bytes; actual audio output
// belongs to the kiosk shell, not this terminal client.
type announcingPlayer struct {
	out io.Writer
}

func (p announcingPlayer) Play(_ context.Context, audio io.Reader) error {
	n, err := io.Copy(io.Discard, audio)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "  [audio %d bytes]\n", n)
	return nil
}

func loadLicense(path string) (license.Payload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return license.Payload{}, fmt.Errorf("read license: %w", err)
	}
	var lic license.Payload
	if err := json.Unmarshal(raw, &lic); err != nil {
		return license.Payload{}, fmt.Errorf("parse license: %w", err)
	}
	return lic, nil
}

func repl(ctx context.Context, cmd *cobra.Command, engine *client.Engine, sessionPath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "ready. /reset starts a new conversation, /quit exits.")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			engine.WaitForSpeech()
			return nil
		case line == "/reset":
			engine.ClearSession()
			fmt.Fprintln(out, "conversation cleared.")
			continue
		}

		turn, err := engine.Ask(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, turn.Text)
		for _, c := range turn.Citations {
			fmt.Fprintf(out, "  source: %s\n", c.Title)
		}
		if !turn.Complete {
			fmt.Fprintln(out, "  (answer may be incomplete)")
		}
		if sessionPath != "" && engine.SessionRef() != "" {
			if err := os.WriteFile(sessionPath, []byte(engine.SessionRef()), 0o600); err != nil {
				fmt.Fprintf(out, "warn: persist session: %v\n", err)
			}
		}
		engine.WaitForSpeech()
	}
}
