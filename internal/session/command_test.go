package session

import (
	"context"
	"testing"
)

func TestCommandConstructors(t *testing.T) {
	speak := SpeakText("hello")
	if speak.Kind != CommandSpeakText || speak.Text != "hello" {
		t.Errorf("SpeakText() = %+v", speak)
	}

	complete := SessionComplete("done")
	if complete.Kind != CommandSessionComplete || complete.Text != "done" {
		t.Errorf("SessionComplete() = %+v", complete)
	}
}

func TestCommandKindString(t *testing.T) {
	if CommandSpeakText.String() != "speak_text" {
		t.Errorf("String() = %q", CommandSpeakText.String())
	}
	if CommandSessionComplete.String() != "session_complete" {
		t.Errorf("String() = %q", CommandSessionComplete.String())
	}
}

func TestCommandBusOrdering(t *testing.T) {
	bus := NewCommandBus(4)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if err := bus.Send(ctx, SpeakText(text)); err != nil {
			t.Fatalf("Send(%q): %v", text, err)
		}
	}
	bus.close()

	var got []string
	for cmd := range bus.Commands() {
		got = append(got, cmd.Text)
	}
	if len(got) != 3 || got[0] != "one" || got[1] != "two" || got[2] != "three" {
		t.Errorf("received %v, want [one two three]", got)
	}
}

func TestCommandBusSendCancelled(t *testing.T) {
	bus := NewCommandBus(1)
	ctx := context.Background()

	// Fill the bus; the next send must respect cancellation instead of
	// blocking forever.
	if err := bus.Send(ctx, SpeakText("fills the buffer")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := bus.Send(cancelled, SpeakText("blocked")); err == nil {
		t.Error("Send on a full bus with a cancelled context should fail")
	}
}
