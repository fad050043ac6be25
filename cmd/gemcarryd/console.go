package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/cyberinferno/gemcarry/auth"
	"github.com/cyberinferno/gemcarry/logger"
	"github.com/cyberinferno/gemcarry/mail"
)

const consoleHelp = `Commands:
  status          connection and pool usage
  sessions        game sessions as JSON
  verify <code>   confirm an account from its verification code
  quit            shut the server down`

// runConsole reads operator commands until quit, stdin EOF or ctx ends.
// EOF only stops the console; the server keeps running until a signal.
func runConsole(ctx context.Context, cancel context.CancelFunc, a *app) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gemcarryd> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("status"),
			readline.PcItem("sessions"),
			readline.PcItem("verify"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		a.log.Warn("console unavailable", logger.Err(err))
		return
	}
	var closeOnce sync.Once
	closeConsole := func() { closeOnce.Do(func() { _ = rl.Close() }) }
	defer closeConsole()

	go func() {
		<-ctx.Done()
		closeConsole()
	}()

	fmt.Fprintln(rl.Stdout(), "Type 'quit' to shut down")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				a.log.Warn("console read failed", logger.Err(err))
			}
			return
		}

		if a.execute(ctx, line, rl.Stdout()) {
			cancel()
			return
		}
	}
}

// execute runs one console command and writes its output to out.
//
// Returns:
//   - true if the command asks the server to shut down
func (a *app) execute(ctx context.Context, line string, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		fmt.Fprintln(out, "shutting down")
		return true

	case "status":
		st := a.server.Stats()
		fmt.Fprintf(out, "connected=%d pool=%d/%d sessions=%d uptime=%s\n",
			st.Connected, st.PoolInUse, st.PoolCapacity, a.sessions.Len(), st.Uptime.Round(time.Second))

	case "sessions":
		data, err := json.MarshalIndent(a.sessions.Snapshot(), "", "  ")
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return false
		}
		fmt.Fprintln(out, string(data))

	case "verify":
		if len(fields) != 2 {
			fmt.Fprintln(out, "usage: verify <code>")
			return false
		}
		email, token, err := mail.ParseVerificationCode(fields[1])
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return false
		}
		status := a.accounts.VerifyEmail(ctx, email, token)
		fmt.Fprintf(out, "%s: %s\n", email, status)
		if status == auth.Success {
			a.log.Info("account verified from console", logger.Field{Key: "email", Value: email})
		}

	case "help", "?":
		fmt.Fprintln(out, consoleHelp)

	default:
		fmt.Fprintf(out, "unknown command %q, type 'help'\n", fields[0])
	}

	return false
}
