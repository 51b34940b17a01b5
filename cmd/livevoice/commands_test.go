package main

import (
	"context"
	"strings"
	"testing"
)

type recorder struct {
	calls []string
	err   error
}

func (r *recorder) StartListening(context.Context) error {
	r.calls = append(r.calls, "start")
	return r.err
}

func (r *recorder) StopListening() error {
	r.calls = append(r.calls, "stop")
	return r.err
}

func (r *recorder) Interrupt() error {
	r.calls = append(r.calls, "interrupt")
	return r.err
}

func (r *recorder) SendText(text string) error {
	r.calls = append(r.calls, "text:"+text)
	return r.err
}

func TestHandleLine(t *testing.T) {
	tests := []struct {
		line     string
		wantCall string
		wantQuit bool
		wantErr  bool
	}{
		{"hello there", "text:hello there", false, false},
		{"  padded  ", "text:padded", false, false},
		{"", "", false, false},
		{"/interrupt", "interrupt", false, false},
		{"/MUTE", "stop", false, false},
		{"/unmute", "start", false, false},
		{"/quit", "", true, false},
		{"/help", "", false, false},
		{"/dance", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			r := &recorder{}
			quit, err := handleLine(context.Background(), r, tt.line)
			if quit != tt.wantQuit {
				t.Errorf("quit = %v", quit)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v", err)
			}
			got := strings.Join(r.calls, ",")
			if got != tt.wantCall {
				t.Errorf("calls = %q, want %q", got, tt.wantCall)
			}
		})
	}
}

func TestReadLines(t *testing.T) {
	var got []string
	for line := range readLines(strings.NewReader("one\ntwo\n")) {
		got = append(got, line)
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("lines = %v", got)
	}
}
