package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"chatroute/client"
)

const commandHelp = `commands:
  msg <contact> <text>   send text, opening the conversation if needed
  nudge <contact>        send a nudge
  accept <invitation>    accept an offered transfer
  reject <invitation>    reject an offered transfer
  cancel <invitation>    abort an accepted transfer
  close <invitation>     release a finished transfer
  hangup <conversation>  close a conversation
  list                   show conversations and transfers`

var errUnknownCommand = errors.New("unknown command")

// runCommands reads one command per line from in until EOF or ctx is done.
func runCommands(ctx context.Context, in io.Reader, cl *client.Client, logger *slog.Logger) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("reading commands failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := execCommand(ctx, cl, line, os.Stdout); err != nil {
				fmt.Fprintf(os.Stdout, "error: %v\n", err)
			}
		}
	}
}

func execCommand(ctx context.Context, cl *client.Client, line string, out io.Writer) error {
	name, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	arg := func() (string, error) {
		if rest == "" {
			return "", fmt.Errorf("%s needs an argument", name)
		}
		return rest, nil
	}

	switch name {
	case "":
		return nil
	case "help":
		fmt.Fprintln(out, commandHelp)
		return nil
	case "list":
		listState(cl, out)
		return nil
	case "msg", "nudge":
		remote, text, _ := strings.Cut(rest, " ")
		if remote == "" {
			return fmt.Errorf("%s needs a contact", name)
		}
		conv, err := cl.OpenConversation(remote, "")
		if err != nil {
			return err
		}
		if name == "nudge" {
			return cl.SendNudge(ctx, conv.ID())
		}
		return cl.SendText(ctx, conv.ID(), strings.TrimSpace(text))
	case "hangup":
		id, err := arg()
		if err != nil {
			return err
		}
		if !cl.CloseConversation(id) {
			return fmt.Errorf("no open conversation %q", id)
		}
		return nil
	}

	transfers := map[string]func(context.Context, string) error{
		"accept": cl.AcceptTransfer,
		"reject": cl.RejectTransfer,
		"cancel": cl.CancelTransfer,
		"close":  cl.CloseTransfer,
	}
	apply, ok := transfers[name]
	if !ok {
		return fmt.Errorf("%w %q, try help", errUnknownCommand, name)
	}
	id, err := arg()
	if err != nil {
		return err
	}
	return apply(ctx, id)
}

func listState(cl *client.Client, out io.Writer) {
	for _, conv := range cl.Conversations() {
		fmt.Fprintf(out, "conversation %s with %s (%s)\n", conv.ID(), strings.Join(conv.Remote(), ", "), conv.Network())
	}
	for _, inv := range cl.Transfers() {
		record := inv.Record()
		fmt.Fprintf(out, "transfer %s %q from %s: %s %d/%d\n", record.InvitationID, record.Filename, record.RemoteParty, record.State, record.Transferred, record.Total)
	}
}
