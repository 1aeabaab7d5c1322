package session

import (
	"context"
	"fmt"
	"time"
)

// CommandKind discriminates the commands the session issues to the runtime.
type CommandKind int

const (
	// CommandSpeakText asks the runtime to speak text to the teacher.
	CommandSpeakText CommandKind = iota
	// CommandSessionComplete signals the session finished, with a final
	// message to speak.
	CommandSessionComplete
)

func (k CommandKind) String() string {
	switch k {
	case CommandSpeakText:
		return "speak_text"
	case CommandSessionComplete:
		return "session_complete"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// Command is an instruction for the external runtime. Commands are consumed
// exactly once, in emission order.
type Command struct {
	Kind CommandKind
	Text string
}

// SpeakText builds a command asking the runtime to speak text.
func SpeakText(text string) Command {
	return Command{Kind: CommandSpeakText, Text: text}
}

// SessionComplete builds the terminal command with a final message.
func SessionComplete(message string) Command {
	return Command{Kind: CommandSessionComplete, Text: message}
}

// defaultSendTimeout bounds how long a command send may block on a stalled
// runtime before the sender gives up.
const defaultSendTimeout = 10 * time.Second

// CommandBus decouples the session's decisions from whatever runtime executes
// them. Sends are bounded; a runtime that stops consuming cannot wedge the
// orchestration goroutine indefinitely.
type CommandBus struct {
	ch          chan Command
	sendTimeout time.Duration
}

// NewCommandBus creates a bus with the given channel capacity.
func NewCommandBus(size int) *CommandBus {
	if size <= 0 {
		size = 16
	}
	return &CommandBus{
		ch:          make(chan Command, size),
		sendTimeout: defaultSendTimeout,
	}
}

// Send enqueues a command for the runtime. It fails if ctx is cancelled or
// the runtime has not drained the bus within the send timeout.
func (b *CommandBus) Send(ctx context.Context, cmd Command) error {
	timer := time.NewTimer(b.sendTimeout)
	defer timer.Stop()

	select {
	case b.ch <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("command bus send timed out after %s", b.sendTimeout)
	}
}

// Commands returns the ordered command stream for the runtime to consume.
// The channel is closed when the session closes.
func (b *CommandBus) Commands() <-chan Command {
	return b.ch
}

func (b *CommandBus) close() {
	close(b.ch)
}
