package service

import (
	"sort"

	"github.com/garyjia/vat-compliance/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// CategoryGroup aggregates the findings of one category
type CategoryGroup struct {
	Category         entity.FindingCategory  `json:"category"`
	Count            int                     `json:"count"`
	AutoFixable      int                     `json:"auto_fixable"`
	TotalPenaltyRisk decimal.Decimal         `json:"total_penalty_risk"`
	BySeverity       map[entity.Severity]int `json:"by_severity"`
}

// GroupFindingsByCategory summarizes findings per category, sorted by
// category name
func GroupFindingsByCategory(findings []*entity.Finding) []CategoryGroup {
	groups := make(map[entity.FindingCategory]*CategoryGroup)
	for _, f := range findings {
		g, ok := groups[f.Category]
		if !ok {
			g = &CategoryGroup{
				Category:         f.Category,
				TotalPenaltyRisk: decimal.Zero,
				BySeverity:       make(map[entity.Severity]int),
			}
			groups[f.Category] = g
		}
		g.Count++
		if f.AutoFixable {
			g.AutoFixable++
		}
		g.TotalPenaltyRisk = g.TotalPenaltyRisk.Add(f.PenaltyRisk)
		g.BySeverity[f.Severity]++
	}

	out := make([]CategoryGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Category < out[j].Category
	})
	return out
}
