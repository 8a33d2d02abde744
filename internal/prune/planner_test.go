package prune

import (
	"path/filepath"
	"testing"

	"github.com/arkady-stash/stash/internal/dupscan"
)

func TestSignatureIsOrderInsensitive(t *testing.T) {
	paths1 := []string{filepath.Join("/a", "x"), filepath.Join("/b", "y")}
	paths2 := []string{filepath.Join("/b", "y"), filepath.Join("/a", "x")}

	sig1, _ := Signature(paths1)
	sig2, _ := Signature(paths2)
	if sig1 != sig2 {
		t.Errorf("signatures differ: %q != %q", sig1, sig2)
	}
}

func TestSignatureSingleDirectory(t *testing.T) {
	paths := []string{filepath.Join("/a", "x"), filepath.Join("/a", "y")}
	_, dirs := Signature(paths)
	if len(dirs) != 1 {
		t.Errorf("dirs = %v, want length 1", dirs)
	}
}

func TestCollectRulesSkipsSingleDirectoryGroups(t *testing.T) {
	groups := []dupscan.DuplicateGroup{
		{Hash: "h1", Size: 10, Paths: []string{filepath.Join("/a", "x"), filepath.Join("/a", "y")}},
	}
	asked := 0
	rules, err := CollectRules(groups, func(dupscan.DuplicateGroup, []string) (string, error) {
		asked++
		return "a", nil
	})
	if err != nil {
		t.Fatalf("CollectRules: %v", err)
	}
	if asked != 0 {
		t.Errorf("ask called %d times, want 0", asked)
	}
	if rules.Len() != 0 {
		t.Errorf("rules.Len() = %d, want 0", rules.Len())
	}
}

func TestCollectRulesConsolidatesSharedSignature(t *testing.T) {
	groups := []dupscan.DuplicateGroup{
		{Hash: "h1", Size: 10, Paths: []string{filepath.Join("/a", "x1"), filepath.Join("/b", "y1")}},
		{Hash: "h2", Size: 20, Paths: []string{filepath.Join("/a", "x2"), filepath.Join("/b", "y2")}},
		{Hash: "h3", Size: 30, Paths: []string{filepath.Join("/a", "x3"), filepath.Join("/b", "y3")}},
	}
	asked := 0
	rules, err := CollectRules(groups, func(dupscan.DuplicateGroup, []string) (string, error) {
		asked++
		return "a", nil
	})
	if err != nil {
		t.Fatalf("CollectRules: %v", err)
	}
	if asked != 1 {
		t.Errorf("ask called %d times, want 1", asked)
	}
	if rules.Len() != 1 {
		t.Fatalf("rules.Len() = %d, want 1", rules.Len())
	}
	sig, _ := Signature(groups[0].Paths)
	if !rules.Has(sig) {
		t.Errorf("missing rule for signature %q", sig)
	}
}

func TestCollectRulesDistinctSignaturesEachAsked(t *testing.T) {
	groups := []dupscan.DuplicateGroup{
		{Hash: "h1", Size: 10, Paths: []string{filepath.Join("/a", "x"), filepath.Join("/b", "y")}},
		{Hash: "h2", Size: 20, Paths: []string{filepath.Join("/c", "x"), filepath.Join("/d", "y")}},
	}
	asked := 0
	rules, err := CollectRules(groups, func(dupscan.DuplicateGroup, []string) (string, error) {
		asked++
		return "d", nil
	})
	if err != nil {
		t.Fatalf("CollectRules: %v", err)
	}
	if asked != 2 {
		t.Errorf("ask called %d times, want 2", asked)
	}
	if rules.Len() != 2 {
		t.Errorf("rules.Len() = %d, want 2", rules.Len())
	}
}

func TestCollectRulesPropagatesAskError(t *testing.T) {
	groups := []dupscan.DuplicateGroup{
		{Hash: "h1", Size: 10, Paths: []string{filepath.Join("/a", "x"), filepath.Join("/b", "y")}},
	}
	wantErr := errTest{}
	_, err := CollectRules(groups, func(dupscan.DuplicateGroup, []string) (string, error) {
		return "", wantErr
	})
	if err != wantErr {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

type errTest struct{}

func (errTest) Error() string { return "ask failed" }
