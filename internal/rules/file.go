package rules

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"x12ack/internal/domain"
)

// ErrEmptyRules reports a rule document with no content. Lookups treat it
// as a missing rule set.
var ErrEmptyRules = errors.New("rule document is empty")

var transactionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ruleExtensions are tried in order when resolving <dir>/<transaction><ext>.
var ruleExtensions = []string{".json", ".yaml", ".yml"}

// DirLookup reads rule sets from <dir>/<transaction>.{json,yaml,yml}.
// Parsed sets are cached for the lifetime of the lookup.
type DirLookup struct {
	dir string

	mu    sync.RWMutex
	cache map[string]domain.RuleSet
}

func NewDirLookup(dir string) *DirLookup {
	return &DirLookup{dir: dir, cache: make(map[string]domain.RuleSet)}
}

func (d *DirLookup) Lookup(ctx context.Context, transactionID string) (domain.RuleSet, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.RuleSet{}, false, err
	}
	if !transactionIDPattern.MatchString(transactionID) {
		return domain.RuleSet{}, false, nil
	}

	d.mu.RLock()
	rs, ok := d.cache[transactionID]
	d.mu.RUnlock()
	if ok {
		return rs, true, nil
	}

	for _, ext := range ruleExtensions {
		path := filepath.Join(d.dir, transactionID+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return domain.RuleSet{}, false, fmt.Errorf("read rules %s: %w", path, err)
		}
		if ext == ".json" {
			rs, err = ParseJSON(transactionID, data)
		} else {
			rs, err = ParseYAML(transactionID, data)
		}
		if errors.Is(err, ErrEmptyRules) {
			return domain.RuleSet{}, false, nil
		}
		if err != nil {
			return domain.RuleSet{}, false, fmt.Errorf("parse rules %s: %w", path, err)
		}
		d.mu.Lock()
		d.cache[transactionID] = rs
		d.mu.Unlock()
		return rs, true, nil
	}
	return domain.RuleSet{}, false, nil
}

// ParseJSON decodes a rule file, keeping the declaration order of max_use keys.
func ParseJSON(transactionID string, data []byte) (domain.RuleSet, error) {
	if !gjson.ValidBytes(data) {
		return domain.RuleSet{}, errors.New("invalid json")
	}
	doc := gjson.ParseBytes(data)
	switch {
	case doc.Type == gjson.Null, doc.IsObject() && len(doc.Map()) == 0, doc.IsArray() && len(doc.Array()) == 0:
		return domain.RuleSet{}, ErrEmptyRules
	case !doc.IsObject():
		return domain.RuleSet{}, errors.New("rule document must be an object")
	}
	rs := domain.RuleSet{TransactionID: transactionID}

	mandatory := doc.Get("mandatory_segments")
	if mandatory.Exists() && !mandatory.IsArray() {
		return domain.RuleSet{}, errors.New("mandatory_segments must be an array")
	}
	for _, tag := range mandatory.Array() {
		if tag.Type != gjson.String || tag.Str == "" {
			return domain.RuleSet{}, fmt.Errorf("mandatory_segments: invalid tag %s", tag.Raw)
		}
		rs.MandatorySegments = append(rs.MandatorySegments, tag.Str)
	}

	maxUse := doc.Get("max_use")
	if maxUse.Exists() && !maxUse.IsObject() {
		return domain.RuleSet{}, errors.New("max_use must be an object")
	}
	var limitErr error
	maxUse.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.Number || value.Num != float64(value.Int()) {
			limitErr = fmt.Errorf("max_use.%s: limit must be an integer", key.Str)
			return false
		}
		rs.MaxUse = append(rs.MaxUse, domain.MaxUse{Tag: key.Str, Limit: int(value.Int())})
		return true
	})
	if limitErr != nil {
		return domain.RuleSet{}, limitErr
	}

	if block := doc.Get("compare"); block.Exists() {
		o, err := overrideFromJSON(block)
		if err != nil {
			return domain.RuleSet{}, fmt.Errorf("compare: %w", err)
		}
		rs.Compare = &o
	}
	return rs, nil
}

// overrideFromJSON reads a "compare" block. null values count as absent.
func overrideFromJSON(block gjson.Result) (domain.ProfileOverride, error) {
	var o domain.ProfileOverride
	if !block.IsObject() {
		return o, errors.New("must be an object")
	}
	set := func(key string) (gjson.Result, bool) {
		v := block.Get(key)
		return v, v.Exists() && v.Type != gjson.Null
	}
	var err error
	if v, ok := set("anchor_segments"); ok {
		if o.AnchorSegments, err = jsonTags(v); err != nil {
			return o, fmt.Errorf("anchor_segments: %w", err)
		}
	}
	if v, ok := set("ignored_control_segments"); ok {
		if o.IgnoredControlSegments, err = jsonTags(v); err != nil {
			return o, fmt.Errorf("ignored_control_segments: %w", err)
		}
	}
	if v, ok := set("ignored_elements"); ok {
		if !v.IsObject() {
			return o, errors.New("ignored_elements must be an object")
		}
		o.IgnoredElements = map[string][]int{}
		v.ForEach(func(key, value gjson.Result) bool {
			idx := []int{}
			for _, n := range value.Array() {
				if n.Type != gjson.Number || n.Num < 0 || n.Num != float64(n.Int()) {
					err = fmt.Errorf("ignored_elements.%s: invalid index %s", key.Str, n.Raw)
					return false
				}
				idx = append(idx, int(n.Int()))
			}
			o.IgnoredElements[key.Str] = idx
			return true
		})
		if err != nil {
			return o, err
		}
	}
	if v, ok := set("report_trailing_segments"); ok {
		if !v.IsBool() {
			return o, errors.New("report_trailing_segments must be a boolean")
		}
		b := v.Bool()
		o.ReportTrailing = &b
	}
	return o, nil
}

func jsonTags(v gjson.Result) ([]string, error) {
	if !v.IsArray() {
		return nil, errors.New("must be an array")
	}
	out := []string{}
	for _, tag := range v.Array() {
		if tag.Type != gjson.String || tag.Str == "" {
			return nil, fmt.Errorf("invalid tag %s", tag.Raw)
		}
		out = append(out, tag.Str)
	}
	return out, nil
}

// ParseYAML decodes the YAML form of a rule file. Mapping order is preserved
// through yaml.Node.
func ParseYAML(transactionID string, data []byte) (domain.RuleSet, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return domain.RuleSet{}, err
	}
	if emptyNode(&root) {
		return domain.RuleSet{}, ErrEmptyRules
	}
	var doc struct {
		MandatorySegments []string                `yaml:"mandatory_segments"`
		MaxUse            orderedLimits           `yaml:"max_use"`
		Compare           *domain.ProfileOverride `yaml:"compare"`
	}
	if err := root.Decode(&doc); err != nil {
		return domain.RuleSet{}, err
	}
	for _, tag := range doc.MandatorySegments {
		if tag == "" {
			return domain.RuleSet{}, errors.New("mandatory_segments: empty tag")
		}
	}
	return domain.RuleSet{
		TransactionID:     transactionID,
		MandatorySegments: doc.MandatorySegments,
		MaxUse:            doc.MaxUse,
		Compare:           doc.Compare,
	}, nil
}

func emptyNode(n *yaml.Node) bool {
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return true
		}
		n = n.Content[0]
	}
	switch n.Kind {
	case 0:
		return true
	case yaml.MappingNode, yaml.SequenceNode:
		return len(n.Content) == 0
	case yaml.ScalarNode:
		return n.Tag == "!!null"
	}
	return false
}

type orderedLimits []domain.MaxUse

func (o *orderedLimits) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("max_use must be a mapping, line %d", node.Line)
	}
	out := make(orderedLimits, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var limit int
		if err := node.Content[i+1].Decode(&limit); err != nil {
			return fmt.Errorf("max_use.%s: %w", node.Content[i].Value, err)
		}
		out = append(out, domain.MaxUse{Tag: node.Content[i].Value, Limit: limit})
	}
	*o = out
	return nil
}
