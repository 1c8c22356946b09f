package compare

import (
	"math/rand"
	"testing"
	"testing/quick"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x12ack/internal/domain"
	"x12ack/internal/x12"
)

func kinds(diags []domain.Diagnostic) []domain.Kind {
	out := make([]domain.Kind, 0, len(diags))
	for _, d := range diags {
		out = append(out, d.Kind)
	}
	return out
}

func TestIdenticalStreamsProduceNothing(t *testing.T) {
	doc := "ST*850*0001~BEG*00*SA*PO1~N1*BY*Acme~CTT*1~SE*5*0001~"
	diags := CompareElements(x12.Tokenize(doc), x12.Tokenize(doc), DefaultProfile())
	assert.Empty(t, diags)
}

func TestElementMismatchOnMatchedTags(t *testing.T) {
	prod := x12.Tokenize("ST*850*0001~N1*BY*Acme~SE*3*0001~")
	test := x12.Tokenize("ST*850*0001~N1*BY*Acme2~SE*3*0001~")

	diags := CompareElements(prod, test, DefaultProfile())
	require.Len(t, diags, 1)
	d := diags[0]
	assert.Equal(t, "N1", d.Tag)
	// "Acme" is the second element of N1 (N102).
	assert.Equal(t, domain.ElementMismatch(2), d.Kind)
	assert.Equal(t, domain.SeverityError, d.Severity)
	assert.Equal(t, 2, d.Position)
	assert.Equal(t, "Acme", *d.ProdValue)
	assert.Equal(t, "Acme2", *d.TestValue)
}

func TestMissingElementComparesAsEmpty(t *testing.T) {
	prod := x12.Tokenize("N1*BY~")
	test := x12.Tokenize("N1*BY*Acme*92~")

	diags := CompareElements(prod, test, DefaultProfile())
	require.Len(t, diags, 2)
	assert.Equal(t, domain.ElementMismatch(2), diags[0].Kind)
	assert.Equal(t, "", *diags[0].ProdValue)
	assert.Equal(t, "Acme", *diags[0].TestValue)
	assert.Equal(t, domain.ElementMismatch(3), diags[1].Kind)
}

func TestOneMismatchPerDifferingElementThenAdvance(t *testing.T) {
	prod := x12.Tokenize("PO1*1*10*EA~CTT*1~")
	test := x12.Tokenize("PO1*2*20*EA~CTT*1~")
	diags := CompareElements(prod, test, DefaultProfile())
	assert.Equal(t, []domain.Kind{domain.ElementMismatch(1), domain.ElementMismatch(2)}, kinds(diags))
}

func TestExtraProdSegmentRealignsOnAnchor(t *testing.T) {
	prod := x12.Tokenize("ST*850*0001~BEG*00*SA~PO1*1*10~REF*XX*1~CTT*1~SE*5*0001~")
	test := x12.Tokenize("ST*850*0001~BEG*00*SA~PO1*1*10~CTT*1~SE*5*0001~")

	diags := CompareElements(prod, test, DefaultProfile())
	require.Len(t, diags, 1)
	d := diags[0]
	assert.Equal(t, domain.KindSegmentIDMismatch, d.Kind)
	assert.Equal(t, 4, d.Position)
	assert.Equal(t, "REF", *d.ProdValue)
	assert.Equal(t, "CTT", *d.TestValue)
}

func TestComparisonResumesAfterRealignment(t *testing.T) {
	prod := x12.Tokenize("ST*850*0001~PO1*1*10~REF*XX*1~CTT*2~SE*5*0001~")
	test := x12.Tokenize("ST*850*0001~PO1*1*10~CTT*1~SE*5*0001~")

	diags := CompareElements(prod, test, DefaultProfile())
	require.Len(t, diags, 2)
	assert.Equal(t, domain.KindSegmentIDMismatch, diags[0].Kind)
	assert.Equal(t, domain.ElementMismatch(1), diags[1].Kind)
	assert.Equal(t, "CTT", diags[1].Tag)
	assert.Equal(t, 4, diags[1].Position)
	assert.Equal(t, "2", *diags[1].ProdValue)
	assert.Equal(t, "1", *diags[1].TestValue)
}

func TestExtraTestSegmentRealignsTestCursor(t *testing.T) {
	prod := x12.Tokenize("ST*850*0001~BEG*00*SA~CTT*1~SE*4*0001~")
	test := x12.Tokenize("ST*850*0001~BEG*00*SA~REF*XX*1~CTT*1~SE*4*0001~")

	diags := CompareElements(prod, test, DefaultProfile())
	require.Len(t, diags, 1)
	assert.Equal(t, domain.KindSegmentIDMismatch, diags[0].Kind)
	assert.Equal(t, "CTT", *diags[0].ProdValue)
	assert.Equal(t, "REF", *diags[0].TestValue)
}

func TestNonAnchorTagsDoNotRealign(t *testing.T) {
	prod := x12.Tokenize("ST*850*0001~REF*XX*1~N1*BY*Acme~SE*4*0001~")
	test := x12.Tokenize("ST*850*0001~N1*BY*Acme~SE*4*0001~")

	diags := CompareElements(prod, test, DefaultProfile())
	// REF vs N1 advances both, N1 vs SE jumps prod to SE.
	assert.Equal(t, []domain.Kind{domain.KindSegmentIDMismatch, domain.KindSegmentIDMismatch}, kinds(diags))
}

func TestIgnoredTrailersAreSkipped(t *testing.T) {
	prod := x12.Tokenize("SE*3*0001~GE*1*100~IEA*1*000000100~")
	test := x12.Tokenize("SE*3*0001~IEA*1*000000200~GE*1*200~")
	assert.Empty(t, CompareElements(prod, test, DefaultProfile()))
}

func isa(mutate func([]string)) domain.Stream {
	el := []string{"00", "          ", "00", "          ", "ZZ", "SENDER", "ZZ", "RECEIVER", "240101", "1200", "U", "00401", "000000001", "0", "P", ">"}
	mutate(el)
	return domain.Stream{{Position: 1, Tag: "ISA", Elements: el}}
}

func TestInterchangeHeaderIgnoresControlFields(t *testing.T) {
	prod := isa(func([]string) {})
	test := isa(func(el []string) {
		el[8], el[9], el[12], el[14] = "250202", "0930", "000000999", "T"
	})
	assert.Empty(t, CompareElements(prod, test, DefaultProfile()))

	test = isa(func(el []string) { el[5] = "OTHER" })
	diags := CompareElements(prod, test, DefaultProfile())
	require.Len(t, diags, 1)
	assert.Equal(t, domain.ElementMismatch(6), diags[0].Kind)
}

func TestGroupHeaderIgnoresDateTimeControl(t *testing.T) {
	prod := x12.Tokenize("GS*PO*SND*RCV*20240101*1200*1*X*004010~")
	test := x12.Tokenize("GS*PO*SND*RCV*20250202*0800*77*X*004010~")
	assert.Empty(t, CompareElements(prod, test, DefaultProfile()))

	test = x12.Tokenize("GS*IN*SND*RCV*20240101*1200*1*X*004010~")
	assert.Equal(t, []domain.Kind{domain.ElementMismatch(1)}, kinds(CompareElements(prod, test, DefaultProfile())))
}

func TestTrailingSegmentsSilentByDefault(t *testing.T) {
	prod := x12.Tokenize("ST*850*0001~BEG*00*SA~")
	test := x12.Tokenize("ST*850*0001~BEG*00*SA~PO1*1~CTT*1~")
	assert.Empty(t, CompareElements(prod, test, DefaultProfile()))
}

func TestTrailingSegmentsReportedWhenEnabled(t *testing.T) {
	prod := x12.Tokenize("ST*850*0001~BEG*00*SA~")
	test := x12.Tokenize("ST*850*0001~BEG*00*SA~PO1*1~CTT*1~")
	profile := DefaultProfile()
	profile.ReportTrailing = true

	diags := CompareElements(prod, test, profile)
	require.Len(t, diags, 1)
	d := diags[0]
	assert.Equal(t, domain.KindTrailingSegmentsUnmatched, d.Kind)
	assert.Equal(t, "PO1", d.Tag)
	assert.Equal(t, 3, d.Position)
	assert.Equal(t, 2, *d.Found)
	assert.Equal(t, "", *d.ProdValue)
	assert.Equal(t, "PO1", *d.TestValue)
}

func TestCustomProfileAnchors(t *testing.T) {
	prod := x12.Tokenize("ST*850*0001~REF*XX*1~N1*BY*Acme~SE*4*0001~")
	test := x12.Tokenize("ST*850*0001~N1*BY*Acme~SE*4*0001~")
	profile := DefaultProfile()
	profile.AnchorTags = TagSet("N1", "SE")

	diags := CompareElements(prod, test, profile)
	assert.Equal(t, []domain.Kind{domain.KindSegmentIDMismatch}, kinds(diags))
}

func TestResync(t *testing.T) {
	anchors := DefaultProfile().AnchorTags
	prod := x12.Tokenize("A~B~HL*1~C~")
	test := x12.Tokenize("HL*1~C~")

	i, j := Resync(prod, test, 0, 0, anchors)
	assert.Equal(t, 2, i)
	assert.Equal(t, 0, j)

	i, j = Resync(test, prod, 0, 0, anchors)
	assert.Equal(t, 0, i)
	assert.Equal(t, 2, j)

	i, j = Resync(x12.Tokenize("A~B~"), x12.Tokenize("C~D~"), 0, 0, anchors)
	assert.Equal(t, 1, i)
	assert.Equal(t, 1, j)
}

func TestResyncPrefersProdSideAnchor(t *testing.T) {
	anchors := DefaultProfile().AnchorTags
	prod := x12.Tokenize("HL*1~X~CTT*1~")
	test := x12.Tokenize("CTT*1~Y~HL*1~")

	i, j := Resync(prod, test, 0, 0, anchors)
	assert.Equal(t, 2, i)
	assert.Equal(t, 0, j)
}

var propertyTags = []string{"ST", "HL", "CTT", "SE", "REF", "N1", "GE", "IEA"}

func streamFromBytes(b []byte) domain.Stream {
	out := make(domain.Stream, 0, len(b))
	for k, v := range b {
		out = append(out, domain.Segment{Position: k + 1, Tag: propertyTags[int(v)%len(propertyTags)], Elements: []string{string(rune('a' + v%3))}})
	}
	return out
}

func TestCompareTerminatesWithinBound(t *testing.T) {
	cfg := &quick.Config{MaxCount: 500, Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if err := quick.Check(func(a, b []byte) bool {
		prod, test := streamFromBytes(a), streamFromBytes(b)
		diags := CompareElements(prod, test, DefaultProfile())
		// At most one diagnostic per element on a matched step, one per mismatch step.
		return len(diags) <= len(prod)+len(test)
	}, cfg); err != nil {
		t.Fatalf("comparison bound property failed: %v", err)
	}
}

func TestResyncAlwaysAdvances(t *testing.T) {
	anchors := DefaultProfile().AnchorTags
	cfg := &quick.Config{MaxCount: 500, Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	if err := quick.Check(func(a, b []byte, ci, cj uint8) bool {
		prod, test := streamFromBytes(a), streamFromBytes(b)
		if len(prod) == 0 || len(test) == 0 {
			return true
		}
		i, j := int(ci)%len(prod), int(cj)%len(test)
		ni, nj := Resync(prod, test, i, j, anchors)
		return (ni > i || nj > j) && ni >= i && nj >= j
	}, cfg); err != nil {
		t.Fatalf("resync progress property failed: %v", err)
	}
}
