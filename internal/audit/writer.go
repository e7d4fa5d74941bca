package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const (
	// GenesisHash anchors the chain before any event is written.
	GenesisHash = "sha256:genesis"

	// HashPrefix is prepended to all hash values.
	HashPrefix = "sha256:"
)

// Writer appends events to an audit trail.
//
// A Write that returns nil means the event is durably recorded with its
// chain hashes set; callers treat a failed write as a failure of the
// operation being audited.
type Writer interface {
	Write(event *Event) error
	Close() error

	// LastHash returns the hash of the most recent event, or
	// GenesisHash on an empty trail.
	LastHash() string
}

// NopWriter discards all events. Used when auditing is disabled.
type NopWriter struct{}

var _ Writer = (*NopWriter)(nil)

func (NopWriter) Write(*Event) error { return nil }
func (NopWriter) Close() error       { return nil }
func (NopWriter) LastHash() string   { return GenesisHash }

// chainHash computes SHA256(canonical || prevHash) for an event whose
// HashPrev is already set.
func chainHash(event *Event) (string, error) {
	canonical, err := event.CanonicalJSON()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte(event.HashPrev))
	return HashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// FileWriter appends events to a JSON-lines file, each linked to its
// predecessor by hash.
type FileWriter struct {
	mu       sync.Mutex
	file     *os.File
	lastHash string
	path     string
}

var _ Writer = (*FileWriter)(nil)

// NewFileWriter opens path for appending. A trail that already holds
// events is continued from its last hash, so restarts keep one unbroken
// chain.
func NewFileWriter(path string) (*FileWriter, error) {
	lastHash, err := resumeHash(path)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &FileWriter{file: file, lastHash: lastHash, path: path}, nil
}

// resumeHash returns the hash of the final event in the file at path, or
// GenesisHash when the file is absent or empty.
func resumeHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return GenesisHash, nil
		}
		return "", fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	last := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read audit log: %w", err)
	}
	if last == "" {
		return GenesisHash, nil
	}

	var tail struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal([]byte(last), &tail); err != nil {
		return "", fmt.Errorf("failed to parse last event: %w", err)
	}
	if tail.Hash == "" {
		return "", fmt.Errorf("last event has no hash")
	}
	return tail.Hash, nil
}

// Write appends the event, linking it to the previous one.
func (w *FileWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	event.HashPrev = w.lastHash
	hash, err := chainHash(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	event.Hash = hash

	line, err := event.JSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	// The event is only recorded once it is on disk; until then the
	// audited operation must not report success.
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	w.lastHash = hash
	return nil
}

// Close syncs and closes the trail.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// LastHash returns the hash of the most recent event.
func (w *FileWriter) LastHash() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastHash
}

// Path returns the file path of the audit log.
func (w *FileWriter) Path() string {
	return w.path
}

// VerifyChain walks the trail at path and checks every link: each event
// must name its predecessor's hash and hash to its own recorded value.
// It returns the number of events verified before the first defect.
func VerifyChain(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read audit log: %w", err)
	}
	defer f.Close()
	return verifyChain(f)
}

func verifyChain(r io.Reader) (int, error) {
	verified := 0
	prev := GenesisHash

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return verified, fmt.Errorf("event %d: invalid JSON: %w", verified+1, err)
		}
		if event.HashPrev != prev {
			return verified, fmt.Errorf("event %d: hash chain broken: expected prev=%s, got prev=%s",
				verified+1, prev, event.HashPrev)
		}
		want, err := chainHash(&event)
		if err != nil {
			return verified, fmt.Errorf("event %d: failed to serialize: %w", verified+1, err)
		}
		if event.Hash != want {
			return verified, fmt.Errorf("event %d: hash mismatch: expected=%s, got=%s",
				verified+1, want, event.Hash)
		}

		prev = event.Hash
		verified++
	}
	if err := scanner.Err(); err != nil {
		return verified, fmt.Errorf("scan error: %w", err)
	}
	return verified, nil
}
