// Package replay serves a recorded message stream over websocket so the
// engine can run against a local stand-in backend.
package replay

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/Steake/GodelOS-sub005/domain/messages"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

const maxLineBytes = 4 << 20

// LoadRecording reads one envelope per line. Blank lines and lines starting
// with '#' are skipped, as are heartbeats and client-to-server messages.
func LoadRecording(r io.Reader) ([]messages.Envelope, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var frames []messages.Envelope
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		env, err := messages.Decode(raw)
		if err != nil {
			return nil, pkgerrors.NewValidationError("invalid recording").
				WithDetail("line", line).
				WithCause(err)
		}
		if !playable(env.Type) {
			continue
		}
		frames = append(frames, env)
	}
	if err := scanner.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "read recording")
	}
	return frames, nil
}

// LoadRecordingFile reads a JSONL recording from disk
func LoadRecordingFile(path string) ([]messages.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.NewValidationError("cannot open recording").
			WithDetail("path", path).
			WithCause(err)
	}
	defer f.Close()
	return LoadRecording(f)
}

func playable(t messages.Type) bool {
	switch t {
	case messages.TypeHeartbeat, messages.TypeSubscribe, messages.TypeResyncRequest, messages.TypePublish:
		return false
	}
	return true
}
