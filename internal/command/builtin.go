package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// RegisterBuiltins installs the bot's stock commands: /start, /mychatid, /help.
func RegisterBuiltins(reg *Registry) error {
	cmds := []Command{
		{
			Name:        "start",
			Description: "greeting and short usage hint",
			Handle: func(ctx context.Context, req *Request) error {
				name := req.FromName
				if name == "" {
					name = "there"
				}
				text := fmt.Sprintf(
					"Hi %s! I'm your notification bot. Send /mychatid to get your unique Telegram Chat ID.",
					name,
				)
				return req.Reply(ctx, text)
			},
		},
		{
			Name:        "mychatid",
			Description: "show the chat id used to address notifications",
			Handle: func(ctx context.Context, req *Request) error {
				name := req.FromName
				if name == "" {
					name = "User"
				}
				text := fmt.Sprintf(
					"Hello %s!\n\nYour Telegram Chat ID is: %s\n\nPlease copy this ID and use it for your notifications.",
					name, strconv.FormatInt(req.ChatID, 10),
				)
				return req.Reply(ctx, text)
			},
		},
		{
			Name:        "help",
			Description: "list available commands",
			Handle: func(ctx context.Context, req *Request) error {
				var b strings.Builder
				b.WriteString("Available commands:\n")
				for _, c := range reg.List() {
					b.WriteString("/")
					b.WriteString(c.Name)
					if c.Description != "" {
						b.WriteString(" - ")
						b.WriteString(c.Description)
					}
					b.WriteString("\n")
				}
				return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
			},
		},
	}

	for _, c := range cmds {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
