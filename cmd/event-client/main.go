// Command event-client is an interactive front end for the event api. Every
// event broadcast to the connection is printed, whoever caused it.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"event-api/client"
	"event-api/domain"
	"event-api/internal/env"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if env.Bool("DEBUG", false) {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(
		env.String("EVENT_API_URL", "ws://localhost:8080/ws"),
		client.WithConnectTimeout(env.Duration("CONNECT_TIMEOUT", client.DefaultConnectTimeout)),
		client.WithLogger(log.StandardLogger()),
	)
	c.OnEvent(func(ev domain.Event) {
		if e, ok := ev.(domain.ErrorEvent); ok {
			log.Error(client.Render(e))
			return
		}
		log.Info(client.Render(ev))
	})

	if err := c.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer c.Disconnect()

	if err := c.GetAll(); err != nil {
		log.WithError(err).Error("list users")
	}
	fmt.Println(client.HelpText)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
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
			if !run(c, line) {
				return
			}
		}
	}
}

// run executes one line and reports whether the loop should continue.
func run(c *client.Client, line string) bool {
	action, err := client.ParseLine(line)
	if err != nil {
		log.Warn(err.Error())
		return true
	}
	switch action.Kind {
	case client.ActionExit:
		return false
	case client.ActionHelp:
		fmt.Println(client.HelpText)
	case client.ActionSend:
		if err := c.Send(action.Command, action.Payload); err != nil {
			if errors.Is(err, client.ErrNotConnected) {
				log.Error("Not connected to WebSocket server")
				return false
			}
			log.WithError(err).Error("send command")
		}
	}
	return true
}
