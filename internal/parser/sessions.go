// Package parser reads exported agent chat transcripts into the raw import
// payloads the ingestion pipeline accepts.
package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/codervisor/devlog/internal/models"
)

// Scanner buffer bounds for JSON Lines input. Single sessions can carry whole
// transcripts, so lines get large.
const (
	initialLineBuf = 64 * 1024
	maxLineBuf     = 16 * 1024 * 1024
)

// ParseSessions reads exported chat sessions from data. Two layouts are
// accepted: a JSON array of sessions, or JSON Lines with one session per
// line. Blank lines are ignored.
func ParseSessions(data []byte) ([]models.RawChatSession, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var sessions []models.RawChatSession
		if err := json.Unmarshal(data, &sessions); err != nil {
			return nil, fmt.Errorf("parse session array: %w", err)
		}
		return sessions, nil
	}
	return parseSessionLines(data)
}

// ParseSessionsFile reads and parses an export file.
func ParseSessionsFile(path string) ([]models.RawChatSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	sessions, err := ParseSessions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sessions, nil
}

func parseSessionLines(data []byte) ([]models.RawChatSession, error) {
	var sessions []models.RawChatSession

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, initialLineBuf), maxLineBuf)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var session models.RawChatSession
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, fmt.Errorf("parse line %d: %w", line, err)
		}
		sessions = append(sessions, session)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan input: %w", err)
	}
	return sessions, nil
}
