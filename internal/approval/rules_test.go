package approval

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConditionEvaluateComparators(t *testing.T) {
	data := map[string]float64{"gross_amount": 150000}

	require.True(t, Condition{Field: "gross_amount", Comparator: GT, Value: 100000}.Evaluate(data))
	require.False(t, Condition{Field: "gross_amount", Comparator: LT, Value: 100000}.Evaluate(data))
	require.True(t, Condition{Field: "gross_amount", Comparator: GE, Value: 150000}.Evaluate(data))
	require.True(t, Condition{Field: "gross_amount", Comparator: LE, Value: 150000}.Evaluate(data))
	require.True(t, Condition{Field: "gross_amount", Comparator: NE, Value: 1}.Evaluate(data))
	require.False(t, Condition{Field: "missing_field", Comparator: EQ, Value: 0}.Evaluate(data))
}

func TestRuleTableMatchesFirstSatisfyingRule(t *testing.T) {
	table := RuleTable{
		{
			Type:          "large-redemption",
			ReferenceType: ReferenceRedemption,
			Conditions:    []Condition{{Field: "gross_amount", Comparator: GT, Value: 100000}},
			TotalRequired: 1,
		},
		{
			Type:          "standard-redemption",
			ReferenceType: ReferenceRedemption,
			Conditions:    nil,
			TotalRequired: 0,
		},
	}

	rule, err := table.Match(ReferenceRedemption, map[string]float64{"gross_amount": 150000})
	require.NoError(t, err)
	require.Equal(t, "large-redemption", rule.Type)

	rule, err = table.Match(ReferenceRedemption, map[string]float64{"gross_amount": 10})
	require.NoError(t, err)
	require.Equal(t, "standard-redemption", rule.Type)
}

func TestRuleTableNoMatch(t *testing.T) {
	table := RuleTable{
		{ReferenceType: ReferenceRedemption, Conditions: []Condition{{Field: "gross_amount", Comparator: GT, Value: 100000}}},
	}
	_, err := table.Match(ReferenceRedemption, map[string]float64{"gross_amount": 1})
	require.ErrorIs(t, err, ErrNoRuleMatched)
}
