package socket

import (
	"time"

	"x12ack/internal/domain"
)

func toJob(req *ValidationRequest, sourceRef string) domain.ComparisonJob {
	return domain.ComparisonJob{
		CorrelationID: req.CorrelationId,
		ProdName:      req.ProdName,
		TestName:      req.TestName,
		ProdDocument:  req.ProdDocument,
		TestDocument:  req.TestDocument,
		Source:        "socket",
		SourceRef:     sourceRef,
		ReceivedAtUTC: time.Now().UTC(),
	}
}

// ToValidationResponse converts an outcome for the wire. The report is
// dropped unless includeReport is set.
func ToValidationResponse(out domain.Outcome, includeReport bool) *ValidationResponse {
	res := &ValidationResponse{
		RunId:           out.RunID,
		CorrelationId:   out.CorrelationID,
		AckStatus:       string(out.Result.AckStatus),
		Status:          string(out.Status),
		FatalErrors:     toDiagnostics(out.Result.FatalErrors),
		AllErrors:       toDiagnostics(out.Result.AllErrors),
		Ack997:          out.Ack,
		CreatedAtUtcNs:  out.CreatedAtUTC.UnixNano(),
		Source:          out.Source,
		SourceRef:       out.SourceRef,
		FatalErrorCount: int32(out.FatalErrorCount),
		ErrorCount:      int32(out.ErrorCount),
	}
	if out.Result.TransactionID != nil {
		res.HasTransaction, res.TransactionId = true, *out.Result.TransactionID
	}
	if includeReport {
		res.Report = out.Report
	}
	return res
}

// OutcomeFromResponse is the inverse of ToValidationResponse.
func OutcomeFromResponse(res *ValidationResponse) domain.Outcome {
	out := domain.Outcome{
		RunID:         res.RunId,
		CorrelationID: res.CorrelationId,
		Result: domain.ValidationResult{
			AckStatus:   domain.AckStatus(res.AckStatus),
			FatalErrors: fromDiagnostics(res.FatalErrors),
			AllErrors:   fromDiagnostics(res.AllErrors),
		},
		Status:          domain.Status(res.Status),
		FatalErrorCount: int(res.FatalErrorCount),
		ErrorCount:      int(res.ErrorCount),
		Ack:             res.Ack997,
		Report:          res.Report,
		Source:          res.Source,
		SourceRef:       res.SourceRef,
		CreatedAtUTC:    time.Unix(0, res.CreatedAtUtcNs).UTC(),
	}
	if res.HasTransaction {
		tx := res.TransactionId
		out.Result.TransactionID = &tx
	}
	return out
}

func toDiagnostics(in []domain.Diagnostic) []*Diagnostic {
	out := make([]*Diagnostic, 0, len(in))
	for _, d := range in {
		pd := &Diagnostic{
			Segment:    d.Tag,
			Difference: string(d.Kind),
			Severity:   string(d.Severity),
			SegmentPos: int32(d.Position),
		}
		if d.Found != nil && d.Allowed != nil {
			pd.HasCounts, pd.Found, pd.Allowed = true, int32(*d.Found), int32(*d.Allowed)
		}
		if d.ProdValue != nil && d.TestValue != nil {
			pd.HasValues, pd.ProdValue, pd.TestValue = true, *d.ProdValue, *d.TestValue
		}
		out = append(out, pd)
	}
	return out
}

func fromDiagnostics(in []*Diagnostic) []domain.Diagnostic {
	out := make([]domain.Diagnostic, 0, len(in))
	for _, pd := range in {
		if pd == nil {
			continue
		}
		d := domain.Diagnostic{
			Tag:      pd.Segment,
			Kind:     domain.Kind(pd.Difference),
			Severity: domain.Severity(pd.Severity),
			Position: int(pd.SegmentPos),
		}
		if pd.HasCounts {
			d = d.WithCounts(int(pd.Found), int(pd.Allowed))
		}
		if pd.HasValues {
			d = d.WithValues(pd.ProdValue, pd.TestValue)
		}
		out = append(out, d)
	}
	return out
}
