package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ent0n29/personatwin/internal/chat"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "personatwin "+version {
		t.Fatalf("version output = %q", got)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"search"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("Execute() error = nil, want missing argument error")
	}
}

func TestFormatMessageLabels(t *testing.T) {
	cases := map[chat.Kind]string{
		chat.KindUser:      "[you] hello",
		chat.KindAssistant: "[persona] hello",
		chat.KindError:     "[error] hello",
		chat.Kind("other"): "[other] hello",
	}
	for kind, want := range cases {
		got := formatMessage(chat.Message{Kind: kind, Content: "hello"})
		if !strings.Contains(got, want) {
			t.Fatalf("formatMessage(%s) = %q, want it to contain %q", kind, got, want)
		}
	}
}
