package audit_test

import (
	"context"
	"testing"

	"github.com/kestrelsec/kestrel/internal/audit"
)

var ctx = context.Background()

func TestNew_genesisEntry(t *testing.T) {
	l := audit.New()

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 genesis entry, got %d", n)
	}

	entry, err := l.Get(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Action != "genesis" {
		t.Errorf("expected action 'genesis', got %q", entry.Action)
	}
	if entry.Hash != audit.GenesisHash {
		t.Errorf("genesis hash: got %q, want GenesisHash", entry.Hash)
	}
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l := audit.New()

	e1, err := l.Append(ctx, "user-1", "terminate_session", "sess-9", map[string]string{"reason": "hijack"})
	if err != nil {
		t.Fatal(err)
	}

	e2, err := l.Append(ctx, "user-1", "revoke_device_trust", "device-3", nil)
	if err != nil {
		t.Fatal(err)
	}

	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want e1.Hash=%q", e2.PrevHash, e1.Hash)
	}

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 { // genesis + 2
		t.Errorf("expected 3 entries, got %d", n)
	}
}

func TestVerify_intactChain(t *testing.T) {
	l := audit.New()
	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, "user-1", "terminate_session", "sess", nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Verify(ctx); err != nil {
		t.Errorf("expected intact chain, got %v", err)
	}
}

func TestRoot_matchesTip(t *testing.T) {
	l := audit.New()
	e, err := l.Append(ctx, "user-2", "revoke_device_trust", "device-7", nil)
	if err != nil {
		t.Fatal(err)
	}

	root, err := l.Root(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != e.Hash {
		t.Errorf("root: got %q, want tip hash %q", root, e.Hash)
	}
}
