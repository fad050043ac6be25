// Command gemcarry-client is an interactive client for poking at a running
// gemcarryd.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/gemcarry/codec"
	"github.com/cyberinferno/gemcarry/framing"
	"github.com/cyberinferno/gemcarry/gameclient"
	"github.com/cyberinferno/gemcarry/message"
)

const help = `Commands:
  login <user> <password>
  create <user> <password>
  chat <text>
  join
  ping
  quit`

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		addr      string
		framer    string
		level     int
		reconnect bool
	)

	cmd := &cobra.Command{
		Use:           "gemcarry-client",
		Short:         "Interactive GemCarry protocol client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := framing.New(framer, 1<<20)
			if err != nil {
				return err
			}
			cd, err := codec.New(f, level)
			if err != nil {
				return err
			}

			cfg := gameclient.DefaultConfig(addr)
			cfg.AutoReconnect = reconnect
			return repl(gameclient.New(cfg, cd))
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:1025", "Server address")
	cmd.Flags().StringVar(&framer, "framing", framing.KindDelimiter, "Framing: delimiter or length")
	cmd.Flags().IntVar(&level, "compression-level", -1, "Flate compression level")
	cmd.Flags().BoolVar(&reconnect, "reconnect", false, "Reconnect automatically when the connection drops")

	return cmd
}

func repl(c *gameclient.Client) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gemcarry> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("login"),
			readline.PcItem("create"),
			readline.PcItem("chat"),
			readline.PcItem("join"),
			readline.PcItem("ping"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	out := rl.Stdout()
	c.OnMessage(func(e gameclient.MessageEvent) {
		fmt.Fprintf(out, "< %s\n", describe(e.Message))
	})
	c.OnConnectionState(func(e gameclient.ConnectionStateEvent) {
		fmt.Fprintf(out, "* %s %s\n", e.State, e.Address)
	})
	c.OnError(func(e gameclient.ErrorEvent) {
		fmt.Fprintf(out, "! %v\n", e.Error)
	})

	if err := c.Connect(); err != nil {
		return err
	}
	defer c.Close()

	fmt.Fprintln(out, help)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		m, quit, err := parseCommand(line)
		switch {
		case quit:
			return nil
		case err != nil:
			fmt.Fprintln(out, err)
		case m != nil:
			if err := c.Send(m); err != nil {
				fmt.Fprintf(out, "! send: %v\n", err)
			}
		}
	}
}

// parseCommand turns one REPL line into the message to send.
//
// Returns:
//   - The message, or nil for an empty line
//   - true for quit
//   - A usage error
func parseCommand(line string) (message.Message, bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false, nil
	}

	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return nil, true, nil
	case "login", "create":
		if len(fields) != 3 {
			return nil, false, fmt.Errorf("usage: %s <user> <password>", fields[0])
		}
		if strings.EqualFold(fields[0], "login") {
			return &message.LoginRequest{Username: fields[1], Password: fields[2]}, false, nil
		}
		return &message.CreateUserRequest{Username: fields[1], Password: fields[2]}, false, nil
	case "chat":
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		if text == "" {
			return nil, false, errors.New("usage: chat <text>")
		}
		return &message.Chat{Sender: os.Getenv("USER"), Text: text}, false, nil
	case "join":
		return &message.JoinSession{}, false, nil
	case "ping":
		return &message.Heartbeat{}, false, nil
	case "help", "?":
		return nil, false, errors.New(help)
	default:
		return nil, false, fmt.Errorf("unknown command %q", fields[0])
	}
}

// describe renders a server message for the terminal.
func describe(m message.Message) string {
	switch v := m.(type) {
	case *message.SessionJoined:
		return fmt.Sprintf("joined session %d (%d players)", v.SessionID, v.Players)
	case *message.LoginResponse:
		return fmt.Sprintf("login success=%t status=%d", v.Success, v.Status)
	case *message.CreateUserResponse:
		return fmt.Sprintf("create success=%t status=%d", v.Success, v.Status)
	case *message.Chat:
		return fmt.Sprintf("[%s] %s: %s", time.Now().Format("15:04:05"), v.Sender, v.Text)
	default:
		return m.Type().String()
	}
}
