package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newIssueEvent() *Event {
	return NewEvent(EventCertIssued, ResultSuccess).
		WithObject(Object{
			Type:    "certificate",
			Vault:   "https://leaf.example",
			Name:    "web",
			Serial:  "0A1B2C3D",
			Subject: "CN=a.example.com",
		}).
		WithContext(Context{
			Issuer:  "CN=CA-A,O=Example",
			KeyType: "EC-P256",
		})
}

func TestU_Event_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   *Event
		wantErr bool
	}{
		{
			name:    "[U] Validate: complete event",
			event:   newIssueEvent(),
			wantErr: false,
		},
		{
			name: "[U] Validate: missing event type",
			event: &Event{
				Timestamp: "2026-01-15T10:00:00Z",
				Actor:     Actor{Type: "user", ID: "admin"},
				Result:    ResultSuccess,
			},
			wantErr: true,
		},
		{
			name: "[U] Validate: missing result",
			event: &Event{
				EventType: EventCertIssued,
				Timestamp: "2026-01-15T10:00:00Z",
				Actor:     Actor{Type: "user", ID: "admin"},
			},
			wantErr: true,
		},
		{
			name: "[U] Validate: missing actor",
			event: &Event{
				EventType: EventCertRevoked,
				Timestamp: "2026-01-15T10:00:00Z",
				Result:    ResultFailure,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestU_Event_CanonicalJSONExcludesHash(t *testing.T) {
	event := newIssueEvent()
	event.HashPrev = GenesisHash
	event.Hash = "sha256:deadbeef"

	canonical, err := event.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON() error = %v", err)
	}
	if strings.Contains(string(canonical), "deadbeef") {
		t.Error("canonical JSON must not include the event's own hash")
	}
	if !strings.Contains(string(canonical), GenesisHash) {
		t.Error("canonical JSON must include hash_prev")
	}
}

func TestU_FileWriter_HashChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	if w.LastHash() != GenesisHash {
		t.Errorf("LastHash() = %s, want genesis", w.LastHash())
	}

	first := newIssueEvent()
	if err := w.Write(first); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if first.HashPrev != GenesisHash {
		t.Errorf("first event HashPrev = %s, want genesis", first.HashPrev)
	}
	if !strings.HasPrefix(first.Hash, HashPrefix) {
		t.Errorf("first event Hash = %s, want %s prefix", first.Hash, HashPrefix)
	}

	second := NewEvent(EventCertRevoked, ResultSuccess).
		WithObject(Object{Type: "certificate", Serial: "0A1B2C3D"}).
		WithContext(Context{Reason: "key-compromise"})
	if err := w.Write(second); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if second.HashPrev != first.Hash {
		t.Errorf("second event HashPrev = %s, want %s", second.HashPrev, first.Hash)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	count, err := VerifyChain(path)
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if count != 2 {
		t.Errorf("VerifyChain() count = %d, want 2", count)
	}
}

func TestU_FileWriter_ChainContinuesAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	if err := w.Write(newIssueEvent()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	last := w.LastHash()
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	w2, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter() reopen error = %v", err)
	}
	defer w2.Close()
	if w2.LastHash() != last {
		t.Errorf("reopened LastHash() = %s, want %s", w2.LastHash(), last)
	}

	event := NewEvent(EventCRLGenerated, ResultSuccess).
		WithObject(Object{Type: "crl"}).
		WithContext(Context{Issuer: "CN=CA-A,O=Example", Entries: 3})
	if err := w2.Write(event); err != nil {
		t.Fatalf("Write() after reopen error = %v", err)
	}
	if event.HashPrev != last {
		t.Errorf("event HashPrev = %s, want %s", event.HashPrev, last)
	}

	if _, err := VerifyChain(path); err != nil {
		t.Errorf("VerifyChain() error = %v", err)
	}
}

func TestU_VerifyChain_DetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Write(newIssueEvent()); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}

	// Alter the second event's serial without rehashing.
	var tampered Event
	if err := json.Unmarshal([]byte(lines[1]), &tampered); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	tampered.Object.Serial = "FFFFFFFF"
	raw, err := json.Marshal(&tampered)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	lines[1] = string(raw)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	valid, err := VerifyChain(path)
	if err == nil {
		t.Fatal("VerifyChain() accepted a tampered log")
	}
	if valid != 1 {
		t.Errorf("VerifyChain() valid = %d, want 1", valid)
	}

	// Removing an event breaks the chain too.
	if err := os.WriteFile(path, []byte(lines[0]+"\n"+lines[2]+"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := VerifyChain(path); err == nil {
		t.Fatal("VerifyChain() accepted a log with a removed event")
	}
}

func TestU_VerifyChain_EmptyLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	count, err := VerifyChain(path)
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if count != 0 {
		t.Errorf("VerifyChain() count = %d, want 0", count)
	}
}

func TestU_NopWriter(t *testing.T) {
	var w Writer = NopWriter{}
	if err := w.Write(newIssueEvent()); err != nil {
		t.Errorf("Write() error = %v", err)
	}
	if w.LastHash() != GenesisHash {
		t.Errorf("LastHash() = %s, want genesis", w.LastHash())
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
