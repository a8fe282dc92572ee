package planmodel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mkSections() []Section {
	return []Section{
		{Title: "Research", Steps: []string{"gather data", "analyze data"}, Types: []string{"default", "default"}},
		{Title: "Report", Steps: []string{"write summary"}, Types: []string{"answerbot"}},
	}
}

func TestCreate_InvariantLengths(t *testing.T) {
	tool := NewTool()
	plan, err := tool.Create("p1", "My Plan", mkSections())
	require.NoError(t, err)
	require.Equal(t, plan.TotalSteps(), len(plan.StepStatuses))
	require.Equal(t, plan.TotalSteps(), len(plan.StepNotes))
	for _, s := range plan.StepStatuses {
		require.Equal(t, StatusNotStarted, s)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	tool := NewTool()
	_, err := tool.Create("p1", "My Plan", mkSections())
	require.NoError(t, err)
	_, err = tool.Create("p1", "Other", mkSections())
	require.Error(t, err)
}

func TestUpdate_PreservesStatusByStepTextIdentity(t *testing.T) {
	tool := NewTool()
	_, err := tool.Create("p1", "My Plan", mkSections())
	require.NoError(t, err)

	status := StatusCompleted
	_, err = tool.MarkStep("p1", 0, &status, nil)
	require.NoError(t, err)

	newSections := []Section{
		{Title: "Research", Steps: []string{"gather data", "a new step"}, Types: []string{"default", "default"}},
		{Title: "Report", Steps: []string{"write summary"}, Types: []string{"answerbot"}},
	}
	plan, err := tool.Update("p1", nil, newSections)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, plan.StepStatuses[0], "preserved step keeps its status")
	require.Equal(t, StatusNotStarted, plan.StepStatuses[1], "unmatched new step initializes fresh")
}

func TestMarkStep_OutOfRange(t *testing.T) {
	tool := NewTool()
	_, err := tool.Create("p1", "My Plan", mkSections())
	require.NoError(t, err)

	_, err = tool.MarkStep("p1", 99, nil, nil)
	require.Error(t, err)
}

func TestCurrentStepInfo_AdvancesPastCompleted(t *testing.T) {
	tool := NewTool()
	plan, err := tool.Create("p1", "My Plan", mkSections())
	require.NoError(t, err)

	status := StatusCompleted
	_, err = tool.MarkStep("p1", 0, &status, nil)
	require.NoError(t, err)

	info, ok := CurrentStepInfo(plan)
	require.True(t, ok)
	require.Equal(t, 1, info.Index)
}

func TestFormat_ContainsGlyphsAndProgress(t *testing.T) {
	tool := NewTool()
	plan, err := tool.Create("p1", "My Plan", mkSections())
	require.NoError(t, err)

	status := StatusCompleted
	_, err = tool.MarkStep("p1", 0, &status, nil)
	require.NoError(t, err)

	out := Format(plan)
	require.Contains(t, out, "[✓]")
	require.Contains(t, out, "[ ]")
	require.Contains(t, out, "33.3%")
}
