package revocation

import (
	"context"
	"testing"
	"time"
)

// storeConformance runs the Store contract against any implementation.
func storeConformance(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	rec := Record{
		Serial:    "0a1b2c",
		IssuerDN:  "CN=CA-A,O=Example",
		RevokedAt: now,
		Reason:    ReasonKeyCompromise,
	}
	if err := store.AddRevocation(ctx, rec); err != nil {
		t.Fatalf("AddRevocation() error = %v", err)
	}

	t.Run("[U] Lookup: canonical serial", func(t *testing.T) {
		got, err := store.GetRevocation(ctx, "0A1B2C")
		if err != nil {
			t.Fatalf("GetRevocation() error = %v", err)
		}
		if got == nil {
			t.Fatal("GetRevocation() = nil, want record")
		}
		if got.Serial != "0A1B2C" {
			t.Errorf("Serial = %q, want normalized 0A1B2C", got.Serial)
		}
		if got.Reason != ReasonKeyCompromise {
			t.Errorf("Reason = %v, want keyCompromise", got.Reason)
		}
		if !got.RevokedAt.Equal(now) {
			t.Errorf("RevokedAt = %v, want %v", got.RevokedAt, now)
		}
	})

	t.Run("[U] Lookup: lowercase input normalized", func(t *testing.T) {
		got, err := store.GetRevocation(ctx, "0a1b2c")
		if err != nil {
			t.Fatalf("GetRevocation() error = %v", err)
		}
		if got == nil {
			t.Error("GetRevocation() with lowercase input = nil, want record")
		}
	})

	t.Run("[U] Lookup: absent serial is nil, nil", func(t *testing.T) {
		got, err := store.GetRevocation(ctx, "FFFF")
		if err != nil {
			t.Fatalf("GetRevocation() error = %v", err)
		}
		if got != nil {
			t.Errorf("GetRevocation(absent) = %+v, want nil", got)
		}
	})

	t.Run("[U] List: by issuer DN", func(t *testing.T) {
		other := Record{
			Serial:    "BEEF",
			IssuerDN:  "CN=CA-B,O=Example",
			RevokedAt: now,
			Reason:    ReasonSuperseded,
		}
		if err := store.AddRevocation(ctx, other); err != nil {
			t.Fatalf("AddRevocation() error = %v", err)
		}

		recs, err := store.GetRevocationsByIssuer(ctx, "CN=CA-A,O=Example")
		if err != nil {
			t.Fatalf("GetRevocationsByIssuer() error = %v", err)
		}
		if len(recs) != 1 || recs[0].Serial != "0A1B2C" {
			t.Errorf("GetRevocationsByIssuer(CA-A) = %v, want only 0A1B2C", recs)
		}

		recs, err = store.GetRevocationsByIssuer(ctx, "CN=Unknown CA")
		if err != nil {
			t.Fatalf("GetRevocationsByIssuer() error = %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("GetRevocationsByIssuer(unknown) = %v, want empty", recs)
		}
	})

	t.Run("[U] Replace: re-revocation updates reason", func(t *testing.T) {
		update := rec
		update.Reason = ReasonCACompromise
		if err := store.AddRevocation(ctx, update); err != nil {
			t.Fatalf("AddRevocation() error = %v", err)
		}
		got, err := store.GetRevocation(ctx, rec.Serial)
		if err != nil {
			t.Fatalf("GetRevocation() error = %v", err)
		}
		if got.Reason != ReasonCACompromise {
			t.Errorf("Reason = %v, want caCompromise after replace", got.Reason)
		}
	})
}

func TestU_SQLStore_Conformance(t *testing.T) {
	store, err := OpenSQLStore(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLStore() error = %v", err)
	}
	defer store.Close()
	storeConformance(t, store)
}

func TestU_MemStore_Conformance(t *testing.T) {
	storeConformance(t, NewMemStore())
}

func TestU_NormalizeSerial(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"[U] Normalize: lowercase", "deadbeef", "DEADBEEF"},
		{"[U] Normalize: odd length pads", "abc", "0ABC"},
		{"[U] Normalize: 0x prefix stripped", "0xFF", "FF"},
		{"[U] Normalize: already canonical", "0A1B", "0A1B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeSerial(tt.in); got != tt.want {
				t.Errorf("NormalizeSerial(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
