// Package ipc carries control commands from CLI invocations to the running
// daemon over a unix socket, one JSON line per message.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Commands understood by the daemon.
const (
	CommandStatus    = "status"
	CommandTrigger   = "trigger"
	CommandInbound   = "inbound"
	CommandListening = "listening"
)

// MaxMessageBytes caps one encoded request or response line.
const MaxMessageBytes = 64 << 10

// Request is one command sent to the daemon.
type Request struct {
	Command string   `json:"command"`
	Tier    string   `json:"tier,omitempty"`
	Text    string   `json:"text,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// Response is the daemon's reply.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	EventID int64  `json:"event_id,omitempty"`
}

// readLine returns the next newline-terminated message without its newline.
func readLine(r io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), MaxMessageBytes)
	if scanner.Scan() {
		return scanner.Bytes(), nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.ErrUnexpectedEOF
}

func writeMessage(w io.Writer, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(line) >= MaxMessageBytes {
		return errors.New("message exceeds size limit")
	}
	_, err = w.Write(append(line, '\n'))
	return err
}

func decode(line []byte, v any, what string) error {
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}
