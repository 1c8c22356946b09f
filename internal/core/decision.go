package core

import (
	"context"
	"fmt"

	"x12ack/internal/compare"
	"x12ack/internal/domain"
	"x12ack/internal/rules"
	"x12ack/internal/x12"
)

// Decide produces the acknowledgment decision for a prod/test pair.
//
// Rules, first match wins:
//   - transaction identifiers differ or either is absent: REJECTED, TRANSACTION_MISMATCH
//   - no rule set for the identifier: REJECTED, RULES_NOT_FOUND
//   - any FATAL rule finding on either stream: REJECTED, comparator not run
//   - otherwise ACCEPTED with rule findings followed by comparator findings
//
// Only a failing lookup returns an error.
func Decide(ctx context.Context, prod, test domain.Stream, lookup rules.Lookup) (domain.ValidationResult, error) {
	prodID, prodOK := x12.TransactionID(prod)
	testID, testOK := x12.TransactionID(test)
	if !prodOK || !testOK || prodID != testID {
		return rejected(nil, []domain.Diagnostic{envelopeDiagnostic(domain.KindTransactionMismatch)}, []domain.Diagnostic{}), nil
	}
	txID := prodID

	rs, found, err := lookup.Lookup(ctx, txID)
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("lookup rules for %q: %w", txID, err)
	}
	if !found {
		return rejected(&txID, []domain.Diagnostic{envelopeDiagnostic(domain.KindRulesNotFound)}, []domain.Diagnostic{}), nil
	}

	ruleErrors := append(rules.ValidateSegments(prod, rs), rules.ValidateSegments(test, rs)...)
	if fatal := fatalOnly(ruleErrors); len(fatal) > 0 {
		return rejected(&txID, fatal, ruleErrors), nil
	}

	all := append(ruleErrors, compare.CompareElements(prod, test, rs.ResolveProfile(compare.DefaultProfile()))...)
	if all == nil {
		all = []domain.Diagnostic{}
	}
	return domain.ValidationResult{
		TransactionID: &txID,
		AckStatus:     domain.AckAccepted,
		FatalErrors:   []domain.Diagnostic{},
		AllErrors:     all,
	}, nil
}

func rejected(txID *string, fatal, all []domain.Diagnostic) domain.ValidationResult {
	return domain.ValidationResult{TransactionID: txID, AckStatus: domain.AckRejected, FatalErrors: fatal, AllErrors: all}
}

func envelopeDiagnostic(kind domain.Kind) domain.Diagnostic {
	return domain.Diagnostic{Tag: x12.TagTransactionHeader, Kind: kind, Severity: domain.SeverityFatal}
}

func fatalOnly(diags []domain.Diagnostic) []domain.Diagnostic {
	var out []domain.Diagnostic
	for _, d := range diags {
		if d.Severity == domain.SeverityFatal {
			out = append(out, d)
		}
	}
	return out
}
