package retailer

import "testing"

func TestParse(t *testing.T) {
	for _, r := range All {
		got, err := Parse(string(r))
		if err != nil {
			t.Errorf("Parse(%q): %v", r, err)
		}
		if got != r {
			t.Errorf("Parse(%q) = %q", r, got)
		}
	}

	if _, err := Parse("aldi"); err == nil {
		t.Error("expected error for unknown retailer code")
	}
	if _, err := Parse(""); err == nil {
		t.Error("expected error for empty retailer code")
	}
}

func TestParseStoreKey(t *testing.T) {
	r, id, err := ParseStoreKey("ww-1234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != Woolworths || id != "1234" {
		t.Errorf("got %s, %s", r, id)
	}

	// Store ids may contain dashes; only the first dash splits.
	r, id, err = ParseStoreKey("pns-store-ab-12")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != PakNSave || id != "store-ab-12" {
		t.Errorf("got %s, %s", r, id)
	}

	for _, bad := range []string{"ww", "ww-", "aldi-1", ""} {
		if _, _, err := ParseStoreKey(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestIsFoodstuffs(t *testing.T) {
	if Woolworths.IsFoodstuffs() {
		t.Error("ww is not a foodstuffs retailer")
	}
	if !PakNSave.IsFoodstuffs() || !NewWorld.IsFoodstuffs() {
		t.Error("pns and nw run on the foodstuffs platform")
	}
}
