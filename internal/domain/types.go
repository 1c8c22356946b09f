package domain

import (
	"fmt"
	"strings"
	"time"
)

// Segment is one tokenized record of an X12 document.
// Elements[0] holds element 01.
type Segment struct {
	Position int
	Tag      string
	Elements []string
}

// Element returns the element at the 0-based index, or "" when the segment is short.
func (s Segment) Element(idx int) string {
	if idx < 0 || idx >= len(s.Elements) {
		return ""
	}
	return s.Elements[idx]
}

func (s Segment) String() string {
	if len(s.Elements) == 0 {
		return s.Tag
	}
	return s.Tag + "*" + strings.Join(s.Elements, "*")
}

// Stream is the ordered segment sequence of one document.
type Stream []Segment

// Count returns how many segments carry tag.
func (st Stream) Count(tag string) int {
	n := 0
	for _, s := range st {
		if s.Tag == tag {
			n++
		}
	}
	return n
}

type Severity string

const (
	SeverityFatal Severity = "FATAL"
	SeverityError Severity = "ERROR"
)

type Kind string

const (
	KindMissingMandatorySegment   Kind = "MISSING_MANDATORY_SEGMENT"
	KindMaxUseExceeded            Kind = "MAX_USE_EXCEEDED"
	KindSegmentIDMismatch         Kind = "SEGMENT_ID_MISMATCH"
	KindTransactionMismatch       Kind = "TRANSACTION_MISMATCH"
	KindRulesNotFound             Kind = "RULES_NOT_FOUND"
	KindTrailingSegmentsUnmatched Kind = "TRAILING_SEGMENTS_UNMATCHED"
)

// ElementMismatch returns the kind for element n (1-based), e.g. ELEMENT_3_MISMATCH.
func ElementMismatch(n int) Kind {
	return Kind(fmt.Sprintf("ELEMENT_%d_MISMATCH", n))
}

// IsElementMismatch reports whether k is an ELEMENT_N_MISMATCH kind.
func (k Kind) IsElementMismatch() bool {
	s := string(k)
	return strings.HasPrefix(s, "ELEMENT_") && strings.HasSuffix(s, "_MISMATCH")
}

// Diagnostic is one finding. Optional context fields are nil/zero when absent.
type Diagnostic struct {
	Tag       string   `json:"segment"`
	Kind      Kind     `json:"difference"`
	Severity  Severity `json:"severity"`
	Position  int      `json:"segment_pos,omitempty"`
	Found     *int     `json:"found,omitempty"`
	Allowed   *int     `json:"allowed,omitempty"`
	ProdValue *string  `json:"prod_value,omitempty"`
	TestValue *string  `json:"test_value,omitempty"`
}

// WithValues attaches the prod/test value pair.
func (d Diagnostic) WithValues(prod, test string) Diagnostic {
	d.ProdValue, d.TestValue = &prod, &test
	return d
}

// WithCounts attaches found/allowed counts.
func (d Diagnostic) WithCounts(found, allowed int) Diagnostic {
	d.Found, d.Allowed = &found, &allowed
	return d
}

type AckStatus string

const (
	AckAccepted AckStatus = "ACCEPTED"
	AckRejected AckStatus = "REJECTED"
)

// ValidationResult is the authoritative outcome of one comparison.
// AckStatus is REJECTED exactly when FatalErrors is non-empty.
type ValidationResult struct {
	TransactionID *string      `json:"transaction"`
	AckStatus     AckStatus    `json:"ack_status"`
	FatalErrors   []Diagnostic `json:"fatal_errors"`
	AllErrors     []Diagnostic `json:"all_errors"`
}

// Transaction returns the identifier or "" when none was detected.
func (r ValidationResult) Transaction() string {
	if r.TransactionID == nil {
		return ""
	}
	return *r.TransactionID
}

// Status classifies a result the way reports and transports present it.
type Status string

const (
	StatusRejected           Status = "REJECTED"
	StatusAcceptedWithErrors Status = "ACCEPTED_WITH_ERRORS"
	StatusAcceptedClean      Status = "ACCEPTED_CLEAN"
)

func (r ValidationResult) Status() Status {
	switch {
	case r.AckStatus == AckRejected:
		return StatusRejected
	case len(r.AllErrors) > 0:
		return StatusAcceptedWithErrors
	default:
		return StatusAcceptedClean
	}
}

// MaxUse caps the number of occurrences of Tag.
type MaxUse struct {
	Tag   string
	Limit int
}

// RuleSet holds per-transaction constraints. Slice order is declaration order.
// Compare holds the rule file's partial profile; Profile, when set, is the
// resolved profile and takes precedence.
type RuleSet struct {
	TransactionID     string
	MandatorySegments []string
	MaxUse            []MaxUse
	Compare           *ProfileOverride
	Profile           *ComparisonProfile
}

// ProfileOverride is the "compare" block of a rule file. Nil fields keep the
// base profile's value; an empty non-nil list clears it.
type ProfileOverride struct {
	AnchorSegments         []string         `json:"anchor_segments" yaml:"anchor_segments"`
	IgnoredControlSegments []string         `json:"ignored_control_segments" yaml:"ignored_control_segments"`
	IgnoredElements        map[string][]int `json:"ignored_elements" yaml:"ignored_elements"`
	ReportTrailing         *bool            `json:"report_trailing_segments" yaml:"report_trailing_segments"`
}

// Apply layers o over base. base is not modified.
func (o ProfileOverride) Apply(base ComparisonProfile) ComparisonProfile {
	p := base
	if o.AnchorSegments != nil {
		p.AnchorTags = tagSet(o.AnchorSegments)
	}
	if o.IgnoredControlSegments != nil {
		p.IgnoredTrailers = tagSet(o.IgnoredControlSegments)
	}
	if o.IgnoredElements != nil {
		p.IgnoredElements = make(map[string]map[int]struct{}, len(o.IgnoredElements))
		for tag, idx := range o.IgnoredElements {
			set := make(map[int]struct{}, len(idx))
			for _, n := range idx {
				set[n] = struct{}{}
			}
			p.IgnoredElements[tag] = set
		}
	}
	if o.ReportTrailing != nil {
		p.ReportTrailing = *o.ReportTrailing
	}
	return p
}

func tagSet(tags []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		out[t] = struct{}{}
	}
	return out
}

// ResolveProfile returns the profile the comparator should run with for rs.
func (rs RuleSet) ResolveProfile(base ComparisonProfile) ComparisonProfile {
	switch {
	case rs.Profile != nil:
		return *rs.Profile
	case rs.Compare != nil:
		return rs.Compare.Apply(base)
	default:
		return base
	}
}

// ComparisonProfile scopes the comparator constants to a transaction type.
// IgnoredElements holds 0-based element indices per header tag.
type ComparisonProfile struct {
	AnchorTags      map[string]struct{}
	IgnoredTrailers map[string]struct{}
	IgnoredElements map[string]map[int]struct{}
	ReportTrailing  bool
}

// ComparisonJob is a pair of raw documents submitted for comparison.
type ComparisonJob struct {
	CorrelationID string
	ProdName      string
	TestName      string
	ProdDocument  string
	TestDocument  string
	Source        string
	SourceRef     string
	ReceivedAtUTC time.Time
}

// Outcome is the processed form of a ComparisonJob.
type Outcome struct {
	RunID           string           `json:"run_id"`
	CorrelationID   string           `json:"correlation_id,omitempty"`
	Result          ValidationResult `json:"result"`
	Status          Status           `json:"status"`
	FatalErrorCount int              `json:"fatal_error_count"`
	ErrorCount      int              `json:"error_count"`
	Ack             string           `json:"ack_997"`
	AckPath         string           `json:"ack_997_report_path,omitempty"`
	Report          string           `json:"report,omitempty"`
	ReportPath      string           `json:"text_report_path,omitempty"`
	Source          string           `json:"source,omitempty"`
	SourceRef       string           `json:"source_ref,omitempty"`
	CreatedAtUTC    time.Time        `json:"created_at_utc"`
}
