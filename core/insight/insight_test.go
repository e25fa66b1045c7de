package insight

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/exam"
)

type memRepo struct {
	insights []Insight
}

var _ Repository = (*memRepo)(nil)

func (r *memRepo) CreateInsight(_ context.Context, i Insight) (Insight, error) {
	i.ID = "insight1"
	r.insights = append(r.insights, i)
	return i, nil
}

func (r *memRepo) QueryInsights(context.Context, *QueryFilter, core.Page) ([]Insight, error) {
	return r.insights, nil
}

func (r *memRepo) GetInsightByID(_ context.Context, id string) (Insight, error) {
	for _, i := range r.insights {
		if i.ID == id {
			return i, nil
		}
	}
	return Insight{}, ErrNotFound
}

func (r *memRepo) DeleteInsight(context.Context, string) error {
	r.insights = nil
	return nil
}

type snapshots map[string]Snapshot

func (s snapshots) Snapshot(_ context.Context, _, id string) (Snapshot, error) {
	if snap, ok := s[id]; ok {
		return snap, nil
	}
	return Snapshot{}, core.NewNotFoundError("student")
}

type completer struct {
	answer string
	err    error
	system string
	prompt string
}

func (c *completer) Complete(_ context.Context, system, prompt string) (Completion, error) {
	c.system, c.prompt = system, prompt
	return Completion{Content: c.answer, Model: "test-model"}, c.err
}

const studentID = "1b2c3d4e-5f60-4718-89ab-cdef01234567"

func setup(answer string) (*Service, *memRepo, *completer) {
	repo := &memRepo{}
	c := &completer{answer: answer}
	snaps := snapshots{studentID: {SchoolID: "school1", Subject: "Sara", Data: map[string]interface{}{"behavior_score": 18.5}}}
	return NewService(repo, snaps, c), repo, c
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"string", `{"insight": " وضعیت خوب است "}`, "وضعیت خوب است"},
		{"fenced", "```json\n{\"insight\": \"ok\"}\n```", "ok"},
		{"bare fence", "```\n{\"insight\": \"ok\"}\n```", "ok"},
		{"object", `{"insight":{"risk":"low"}}`, "{\n  \"risk\": \"low\"\n}"},
		{"missing key", `{"answer": "x"}`, `{"answer": "x"}`},
		{"plain text", "  just text ", "just text"},
		{"empty", "   ", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseAnswer(tc.content))
		})
	}
}

func TestGenerateRequest_Validate(t *testing.T) {
	validate, _ := core.NewValidator()

	gr := GenerateRequest{EntityType: EntityStudent, EntityID: studentID}
	assert.NoError(t, gr.Validate(validate))
	assert.Equal(t, KindSummary, gr.Kind)

	for _, gr := range []GenerateRequest{
		{EntityType: "school", EntityID: studentID},
		{EntityType: EntityStudent, EntityID: "x"},
		{EntityType: EntityStudent, EntityID: studentID, Kind: "poem"},
	} {
		assert.Error(t, gr.Validate(validate), "%+v", gr)
	}
}

func TestService_Generate(t *testing.T) {
	svc, repo, c := setup(`{"insight": "دانش‌آموز منظم است"}`)
	ctx := context.Background()

	i, err := svc.Generate(ctx, "school1", "teacher1", GenerateRequest{EntityType: EntityStudent, EntityID: studentID, Kind: KindRisk})
	assert.NoError(t, err)
	assert.Equal(t, "دانش‌آموز منظم است", i.Content)
	assert.Equal(t, "test-model", i.Model)
	assert.Equal(t, "school1", i.SchoolID)
	assert.Equal(t, "teacher1", i.RequestedBy)
	assert.Equal(t, KindRisk, i.Kind)
	assert.Len(t, repo.insights, 1)

	assert.Equal(t, systemPrompt, c.system)
	assert.Contains(t, c.prompt, "«Sara»")
	assert.Contains(t, c.prompt, kindInstructions[KindRisk])
	assert.True(t, strings.Contains(c.prompt, `"behavior_score": 18.5`))
}

func TestService_GenerateErrors(t *testing.T) {
	ctx := context.Background()
	gr := GenerateRequest{EntityType: EntityStudent, EntityID: studentID, Kind: KindSummary}

	t.Run("other school", func(t *testing.T) {
		svc, repo, _ := setup(`{"insight": "x"}`)
		_, err := svc.Generate(ctx, "school2", "teacher1", gr)
		assert.True(t, core.IsNotFound(err))
		assert.Empty(t, repo.insights)
	})

	t.Run("any school", func(t *testing.T) {
		svc, _, _ := setup(`{"insight": "x"}`)
		_, err := svc.Generate(ctx, "", "admin1", gr)
		assert.NoError(t, err)
	})

	t.Run("missing entity", func(t *testing.T) {
		svc, _, _ := setup(`{"insight": "x"}`)
		_, err := svc.Generate(ctx, "school1", "teacher1", GenerateRequest{EntityType: EntityStudent, EntityID: "nobody"})
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("empty answer", func(t *testing.T) {
		svc, repo, _ := setup(`{"insight": ""}`)
		_, err := svc.Generate(ctx, "school1", "teacher1", gr)
		assert.Equal(t, ErrEmptyAnswer, err)
		assert.Empty(t, repo.insights)
	})

	t.Run("completion fails", func(t *testing.T) {
		svc, repo, c := setup("")
		c.err = errors.New("timeout")
		_, err := svc.Generate(ctx, "school1", "teacher1", gr)
		assert.EqualError(t, err, "requesting completion: timeout")
		assert.Empty(t, repo.insights)
	})
}

func TestDistribution(t *testing.T) {
	results := []exam.Result{{Score: 2}, {Score: 5}, {Score: 9.9}, {Score: 10}, {Score: 17}, {Score: 20}}
	assert.Equal(t, map[string]int{"0-25%": 1, "25-50%": 2, "50-75%": 1, "75-100%": 2}, distribution(results, 20))
	assert.Equal(t, map[string]int{"0-25%": 0, "25-50%": 0, "50-75%": 0, "75-100%": 0}, distribution(results, 0))
}
