package metrics

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/atoforge/atoforge/pkg/domain"
)

func genFinding() gopter.Gen {
	severities := gen.OneConstOf("high", "medium", "low", "CAT I", "cat_ii", "Critical", "", "informational")
	statuses := gen.OneConstOf(
		domain.StatusOpen, domain.StatusNotAFinding, domain.StatusNotApplicable,
		domain.StatusNotReviewed, domain.StatusMitigated)

	return gopter.CombineGens(severities, statuses).Map(func(values []any) domain.Finding {
		return domain.Finding{
			RuleID:   "SV-1",
			Severity: values[0].(string),
			Status:   values[1].(domain.FindingStatus),
			LastSeen: time.Now(),
		}
	})
}

func TestComputeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("severity buckets partition the findings", prop.ForAll(
		func(findings []domain.Finding) bool {
			m := Compute(findings)
			return m.CatISeverity+m.CatIISeverity+m.CatIIISeverity+m.UnknownSeverity == m.TotalFindings
		},
		gen.SliceOf(genFinding()),
	))

	properties.Property("compliance rate stays within 0..100", prop.ForAll(
		func(findings []domain.Finding) bool {
			m := Compute(findings)
			return m.ComplianceRate >= 0 && m.ComplianceRate <= 100
		},
		gen.SliceOf(genFinding()),
	))

	properties.Property("open and closed never exceed the total", prop.ForAll(
		func(findings []domain.Finding) bool {
			m := Compute(findings)
			return m.OpenFindings+m.ClosedFindings <= m.TotalFindings
		},
		gen.SliceOf(genFinding()),
	))

	properties.Property("all open means rate 0, none open means rate 100", prop.ForAll(
		func(findings []domain.Finding) bool {
			if len(findings) == 0 {
				return true
			}
			allOpen := make([]domain.Finding, len(findings))
			noneOpen := make([]domain.Finding, len(findings))
			for i, f := range findings {
				allOpen[i], noneOpen[i] = f, f
				allOpen[i].Status = domain.StatusOpen
				noneOpen[i].Status = domain.StatusNotAFinding
			}
			return Compute(allOpen).ComplianceRate == 0 && Compute(noneOpen).ComplianceRate == 100
		},
		gen.SliceOf(genFinding()),
	))

	properties.TestingRun(t)
}
