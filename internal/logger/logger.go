package logger

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/gzhole/spendshield/internal/redact"
)

// defaultMaxLogBytes is the size at which the audit log is rotated to
// <path>.1.
const defaultMaxLogBytes = 10 << 20

// AuditEvent is one resolved interception.
type AuditEvent struct {
	Timestamp    string   `json:"timestamp"`
	EpisodeID    string   `json:"episode_id"`
	Source       string   `json:"source"`
	URL          string   `json:"url"`
	Domain       string   `json:"domain"`
	PageTitle    string   `json:"page_title,omitempty"`
	Trigger      string   `json:"trigger"`
	Amount       string   `json:"amount,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	AutoResolved bool     `json:"auto_resolved,omitempty"`
	Candidates   int      `json:"candidates"`
	RiskLevel    string   `json:"risk_level"`
	Verdict      string   `json:"verdict"`
	Reason       string   `json:"reason,omitempty"`
	Answers      []string `json:"answers,omitempty"`
	Cooldown     bool     `json:"cooldown,omitempty"`
	DurationMs   int64    `json:"duration_ms"`
	Error        string   `json:"error,omitempty"`
}

type AuditLogger struct {
	path     string
	file     *os.File
	size     int64
	maxBytes int64
	mu       sync.Mutex
}

func New(path string) (*AuditLogger, error) {
	l := &AuditLogger{path: path, maxBytes: defaultMaxLogBytes}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) open() error {
	if info, err := os.Stat(l.path); err == nil && info.Size() >= l.maxBytes {
		if err := os.Rename(l.path, l.path+".1"); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	l.file = file
	l.size = info.Size()
	return nil
}

func (l *AuditLogger) Log(event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Redact sensitive data before logging
	event.URL = redact.RedactURL(event.URL)
	event.PageTitle = redact.Redact(event.PageTitle)
	if event.Error != "" {
		event.Error = redact.Redact(event.Error)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if l.size >= l.maxBytes {
		if err := l.file.Close(); err != nil {
			return err
		}
		if err := l.open(); err != nil {
			return err
		}
	}

	data = append(data, '\n')
	n, err := l.file.Write(data)
	l.size += int64(n)
	return err
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
