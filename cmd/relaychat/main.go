// Command relaychat is a terminal client for the chat relay.
//
// Lines typed are sent to the selected recipient, or to everyone. Commands:
//
//	/to NAME  send to NAME only
//	/all      send to everyone
//	/users    list online users
//	/quit     disconnect and exit
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/cyberinferno/chatrelay/chatclient"
	"github.com/cyberinferno/chatrelay/logger"
)

func main() {
	_ = godotenv.Load()

	host := flag.String("host", envOr("RELAY_HOST", "127.0.0.1"), "server host")
	port := flag.Int("port", 9000, "server port")
	name := flag.String("name", os.Getenv("RELAY_NAME"), "display name")
	debug := flag.Bool("debug", false, "log frames to stderr")
	flag.Parse()

	if err := run(*host, *port, *name, *debug, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(host string, port int, name string, debug bool, in io.Reader, out io.Writer) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("a display name is required (-name)")
	}

	cfg := chatclient.DefaultConfig()
	if debug {
		cfg.Logger = logger.NewZerologLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}), "relaychat", zerolog.DebugLevel)
	}

	client := chatclient.New(cfg)
	defer client.Close()

	done := make(chan struct{})
	loginResult := make(chan bool, 1)

	client.OnLoggedIn(func(users []string) {
		fmt.Fprintf(out, "* logged in as %s, online: %s\n", client.UserName(), strings.Join(users, ", "))
		loginResult <- true
	})
	client.OnLoginFailed(func(reason string) {
		fmt.Fprintf(out, "* login failed: %s\n", reason)
		loginResult <- false
	})
	client.OnMessageReceived(func(sender, text string) {
		fmt.Fprintf(out, "%s: %s\n", sender, text)
	})
	client.OnUserListChanged(func(users []string) {
		fmt.Fprintf(out, "* online: %s\n", strings.Join(users, ", "))
	})
	client.OnTransportError(func(err chatclient.TransportError) {
		fmt.Fprintf(out, "* error: %s\n", err.Kind.Message())
	})
	client.OnDisconnected(func() {
		fmt.Fprintln(out, "* You have disconnected from the server")
		close(done)
	})

	if err := client.Connect(host, port); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := client.Login(name); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	select {
	case ok := <-loginResult:
		if !ok {
			client.Disconnect()
			return errors.New("login rejected")
		}
	case <-done:
		return errors.New("connection closed before login")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				client.Disconnect()
				return nil
			}

			if quit := handleLine(client, line, out); quit {
				client.Disconnect()
				return nil
			}
		}
	}
}

func handleLine(client *chatclient.Client, line string, out io.Writer) bool {
	switch {
	case line == "/quit":
		return true
	case line == "/all":
		client.ClearRecipient()
		fmt.Fprintln(out, "* sending to everyone")
	case line == "/users":
		fmt.Fprintf(out, "* online: %s\n", strings.Join(client.Users(), ", "))
	case strings.HasPrefix(line, "/to "):
		target := strings.TrimSpace(strings.TrimPrefix(line, "/to "))
		if !client.SelectRecipient(target) {
			fmt.Fprintf(out, "* Can't find user with name %s\n", target)
			return false
		}
		fmt.Fprintf(out, "* sending to %s\n", target)
	default:
		client.SendMessage(line)
	}

	return false
}
