package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// controls is what the command loop needs from a session.
type controls interface {
	StartListening(ctx context.Context) error
	StopListening() error
	Interrupt() error
	SendText(text string) error
}

const helpText = `Commands:
  /interrupt  stop the current reply
  /mute       release the microphone
  /unmute     reopen the microphone
  /quit       disconnect and exit
Anything else is sent as text.`

// handleLine runs one line of console input. It reports whether the user
// asked to quit.
func handleLine(ctx context.Context, s controls, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, s.SendText(line)
	}

	switch cmd := strings.ToLower(strings.Fields(line)[0]); cmd {
	case "/quit", "/exit":
		return true, nil
	case "/interrupt", "/stop":
		return false, s.Interrupt()
	case "/mute":
		return false, s.StopListening()
	case "/unmute":
		return false, s.StartListening(ctx)
	case "/help":
		fmt.Println(helpText)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
}

// readLines streams lines from r until EOF.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
