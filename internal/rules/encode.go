package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"x12ack/internal/domain"
)

// EncodeProfileJSON renders o as a rule file "compare" block. Unset fields are
// written as null so they decode back to unset.
func EncodeProfileJSON(o domain.ProfileOverride) ([]byte, error) {
	return json.Marshal(o)
}

// ParseProfileJSON decodes a "compare" block on its own.
func ParseProfileJSON(data []byte) (*domain.ProfileOverride, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid json")
	}
	o, err := overrideFromJSON(gjson.ParseBytes(data))
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// LoadDir parses every rule file in dir. When a transaction has files in
// several formats the first extension in lookup order wins. Empty rule files
// are skipped.
func LoadDir(ctx context.Context, dir string) ([]domain.RuleSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}
	ids := map[string]struct{}{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		for _, ext := range ruleExtensions {
			if id := strings.TrimSuffix(name, ext); id != name && transactionIDPattern.MatchString(id) {
				ids[id] = struct{}{}
			}
		}
	}
	lookup := NewDirLookup(dir)
	out := make([]domain.RuleSet, 0, len(ids))
	for _, id := range sortedKeys(ids) {
		rs, ok, err := lookup.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rs)
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
