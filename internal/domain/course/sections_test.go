package course

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayAndWeekLookup(t *testing.T) {
	day, ok := Day(samplePlan, 1, 2)
	require.True(t, ok)
	assert.Equal(t, "### Day 2: Pull\nold day two", day)

	week, ok := Week(samplePlan, 2)
	require.True(t, ok)
	assert.Equal(t, "## Week 2\n\n### Day 1: Legs\nweek two day one", week)

	_, ok = Day(samplePlan, 2, 2)
	assert.False(t, ok)
	_, ok = Week(samplePlan, 3)
	assert.False(t, ok)
}

func TestReplaceDay(t *testing.T) {
	tests := []struct {
		name  string
		week  int
		day   int
		block string
		want  string
	}{
		{
			name:  "existing day",
			week:  1,
			day:   1,
			block: "### Day 1: Chest\nnew",
			want:  "## Week 1\n\n### Day 1: Chest\nnew\n\n### Day 2: Pull\nold day two\n\n## Week 2\n\n### Day 1: Legs\nweek two day one\n",
		},
		{
			name:  "heading added when missing",
			week:  2,
			day:   1,
			block: "just rows",
			want:  "## Week 1\n\n### Day 1: Push\nold day one\n\n### Day 2: Pull\nold day two\n\n## Week 2\n\n### Day 1\n\njust rows\n",
		},
		{
			name:  "missing day appended to its week",
			week:  1,
			day:   3,
			block: "### Day 3: Core\nplanks",
			want:  "## Week 1\n\n### Day 1: Push\nold day one\n\n### Day 2: Pull\nold day two\n\n### Day 3: Core\nplanks\n\n## Week 2\n\n### Day 1: Legs\nweek two day one\n",
		},
		{
			name:  "missing week created",
			week:  3,
			day:   1,
			block: "### Day 1: Run\nintervals",
			want:  samplePlan + "\n## Week 3\n\n### Day 1: Run\nintervals\n",
		},
		{
			name:  "chatter around the section dropped",
			week:  2,
			day:   1,
			block: "Sure! Here it is:\n\n### Day 1: Squats\nheavy\n\n## Notes\nbye",
			want:  "## Week 1\n\n### Day 1: Push\nold day one\n\n### Day 2: Pull\nold day two\n\n## Week 2\n\n### Day 1: Squats\nheavy\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReplaceDay(samplePlan, tt.week, tt.day, tt.block))
		})
	}
}

func TestReplaceWeek(t *testing.T) {
	got := ReplaceWeek(samplePlan, 1, "## Week 1\n\n### Day 1: Full Body\nall of it")
	assert.Equal(t, "## Week 1\n\n### Day 1: Full Body\nall of it\n\n## Week 2\n\n### Day 1: Legs\nweek two day one\n", got)

	// Week 10 must not match week 1.
	content := "## Week 1\none\n\n## Week 10\nten\n"
	assert.Equal(t, "## Week 1\none\n\n## Week 10\nTEN\n", ReplaceWeek(content, 10, "## Week 10\nTEN"))
}
