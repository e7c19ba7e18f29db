package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/client"
)

const (
	dialTimeout    = 10 * time.Second
	historyTimeout = 30 * time.Second
)

type prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// ask prints label and returns the next input line. io.EOF means stdin ended.
func (p *prompter) ask(label string) (string, error) {
	fmt.Fprint(p.out, label)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.in.Text()), nil
}

func main() {
	addr := flag.String("addr", "localhost:5050", "chat server TCP address")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	c, err := client.Dial(ctx, *addr)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("addr", *addr).Msg("unable to connect")
	}
	defer func() { _ = c.Close() }()

	p := &prompter{in: bufio.NewScanner(os.Stdin), out: os.Stdout}
	if err := run(c, p); err != nil && !errors.Is(err, io.EOF) {
		log.Error().Err(err).Msg("client stopped")
		os.Exit(1)
	}
}

func run(c *client.Client, p *prompter) error {
	if err := login(c, p); err != nil {
		return err
	}

	go func() {
		for msg := range c.Messages() {
			fmt.Fprintln(p.out, msg)
		}
		fmt.Fprintln(p.out, "Disconnected from server.")
		os.Exit(0)
	}()

	if err := selectRoom(c, p); err != nil {
		return err
	}
	for {
		text, err := p.ask("")
		if err != nil {
			return err
		}
		if text == "" {
			fmt.Fprintln(p.out, "Empty messages are not sent.")
			continue
		}
		if err := c.Send(text); err != nil {
			return err
		}
		if strings.EqualFold(text, chat.SwitchCommand) {
			if err := selectRoom(c, p); err != nil {
				return err
			}
		}
	}
}

func login(c *client.Client, p *prompter) error {
	for {
		name, err := p.ask("Username: ")
		if err != nil {
			return err
		}
		err = c.Login(name)
		if errors.Is(err, chat.InvalidInput) {
			fmt.Fprintln(p.out, "Usernames may only contain letters, numbers, dots and underscores.")
			continue
		}
		return err
	}
}

// selectRoom joins a room and blocks until its history has been shown.
func selectRoom(c *client.Client, p *prompter) error {
	kinds := make([]string, len(chat.RoomKinds))
	for i, k := range chat.RoomKinds {
		kinds[i] = k.String()
	}
	label := fmt.Sprintf("Choose a room (%s): ", strings.Join(kinds, " / "))

	for {
		token, err := p.ask(label)
		if err != nil {
			return err
		}
		kind, err := chat.ParseRoomKind(token)
		if err != nil {
			fmt.Fprintf(p.out, "Unknown room type %q.\n", token)
			continue
		}

		var group string
		if kind == chat.Private {
			if group, err = askGroup(p); err != nil {
				return err
			}
		}
		if err := c.Join(kind, group, time.Now()); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		err = c.WaitHistory(ctx)
		cancel()
		switch {
		case err == nil:
			fmt.Fprintf(p.out, "Joined. Type %s to change rooms.\n", chat.SwitchCommand)
			return nil
		case errors.Is(err, client.ErrJoinRejected):
			// The message loop prints the server's notice.
		case errors.Is(err, context.DeadlineExceeded):
			fmt.Fprintln(p.out, "The server did not complete the join.")
		default:
			return err
		}
	}
}

func askGroup(p *prompter) (string, error) {
	for {
		raw, err := p.ask("Group name: ")
		if err != nil {
			return "", err
		}
		group, err := chat.ValidateGroupName(raw)
		if err == nil {
			return group, nil
		}
		fmt.Fprintln(p.out, "Group names must be non-empty and must not be GLOBAL or PRIVATE.")
	}
}
