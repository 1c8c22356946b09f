package compare

import "x12ack/internal/domain"

// CompareElements walks prod and test with two cursors, diffing elements of
// matching segments and realigning on anchor tags after a segment mismatch.
// Every iteration advances at least one cursor.
func CompareElements(prod, test domain.Stream, profile domain.ComparisonProfile) []domain.Diagnostic {
	var out []domain.Diagnostic
	i, j := 0, 0
	for i < len(prod) && j < len(test) {
		p, t := prod[i], test[j]

		if has(profile.IgnoredTrailers, p.Tag) && has(profile.IgnoredTrailers, t.Tag) {
			i, j = i+1, j+1
			continue
		}

		if p.Tag == t.Tag {
			out = append(out, diffElements(p, t, i+1, profile.IgnoredElements[p.Tag])...)
			i, j = i+1, j+1
			continue
		}

		out = append(out, domain.Diagnostic{
			Tag:      p.Tag,
			Kind:     domain.KindSegmentIDMismatch,
			Severity: domain.SeverityError,
			Position: i + 1,
		}.WithValues(p.Tag, t.Tag))
		i, j = Resync(prod, test, i, j, profile.AnchorTags)
	}

	if profile.ReportTrailing {
		out = append(out, trailing(prod, i, true)...)
		out = append(out, trailing(test, j, false)...)
	}
	return out
}

func diffElements(p, t domain.Segment, pos int, ignored map[int]struct{}) []domain.Diagnostic {
	n := len(p.Elements)
	if len(t.Elements) > n {
		n = len(t.Elements)
	}
	var out []domain.Diagnostic
	for idx := 0; idx < n; idx++ {
		if has(ignored, idx) {
			continue
		}
		pv, tv := p.Element(idx), t.Element(idx)
		if pv == tv {
			continue
		}
		out = append(out, domain.Diagnostic{
			Tag:      p.Tag,
			Kind:     domain.ElementMismatch(idx + 1),
			Severity: domain.SeverityError,
			Position: pos,
		}.WithValues(pv, tv))
	}
	return out
}

// Resync returns the cursors to continue from after prod[i] and test[j] failed
// to match. It jumps prod forward to the next anchor carrying test[j]'s tag,
// otherwise test forward to the next anchor carrying prod[i]'s tag, otherwise
// advances both by one.
func Resync(prod, test domain.Stream, i, j int, anchors map[string]struct{}) (int, int) {
	if k, ok := nextAnchor(prod, i+1, test[j].Tag, anchors); ok {
		return k, j
	}
	if k, ok := nextAnchor(test, j+1, prod[i].Tag, anchors); ok {
		return i, k
	}
	return i + 1, j + 1
}

func nextAnchor(stream domain.Stream, from int, tag string, anchors map[string]struct{}) (int, bool) {
	if !has(anchors, tag) {
		return 0, false
	}
	for k := from; k < len(stream); k++ {
		if stream[k].Tag == tag {
			return k, true
		}
	}
	return 0, false
}

// trailing reports segments left unconsumed in one stream. The tag is placed on
// the side it came from; the other value is empty.
func trailing(stream domain.Stream, cursor int, prodSide bool) []domain.Diagnostic {
	if cursor >= len(stream) {
		return nil
	}
	remaining := len(stream) - cursor
	tag := stream[cursor].Tag
	d := domain.Diagnostic{
		Tag:      tag,
		Kind:     domain.KindTrailingSegmentsUnmatched,
		Severity: domain.SeverityError,
		Position: cursor + 1,
		Found:    &remaining,
	}
	if prodSide {
		return []domain.Diagnostic{d.WithValues(tag, "")}
	}
	return []domain.Diagnostic{d.WithValues("", tag)}
}
