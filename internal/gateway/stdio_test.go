package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestStdioSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdioSender(&buf)
	if err := s.Send(context.Background(), NewChatSend("s1", "hi")); err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), NewModelsStatus()); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var req Request
	if err := json.Unmarshal([]byte(lines[0]), &req); err != nil {
		t.Fatal(err)
	}
	if req.Method != MethodChatSend || req.Params["message"] != "hi" {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestStdioSenderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	if err := NewStdioSender(&buf).Send(ctx, NewModelsStatus()); err == nil || buf.Len() != 0 {
		t.Error("canceled send should not write")
	}
}

func TestReadFrames(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"event","event":"chat","payload":{}}`,
		``,
		`not json`,
		`{"type":"res","id":"1"}`,
	}, "\n")

	var got []Frame
	err := ReadFrames(context.Background(), strings.NewReader(input), discardLogger(), func(f Frame) error {
		got = append(got, f)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Event != EventChat || got[1].ID != "1" {
		t.Errorf("unexpected frames %+v", got)
	}
}

func TestReadFramesStopsOnHandlerError(t *testing.T) {
	input := `{"type":"event"}` + "\n" + `{"type":"event"}`
	stop := errors.New("stop")
	calls := 0
	err := ReadFrames(context.Background(), strings.NewReader(input), discardLogger(), func(Frame) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("expected stop after first frame, got %v after %d calls", err, calls)
	}
}
