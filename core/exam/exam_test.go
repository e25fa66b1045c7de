package exam

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/messaging"
)

type noTx struct{}

func (noTx) WithTx(_ context.Context, fn func(tx core.DBExecutor) error) error {
	return fn(nil)
}

type memRepo struct {
	exams   map[string]Exam
	results map[[2]string]Result
	seq     int
}

var _ Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{exams: make(map[string]Exam), results: make(map[[2]string]Result)}
}

func (r *memRepo) CreateExam(_ context.Context, e Exam) (Exam, error) {
	r.seq++
	e.ID = string(rune('a' + r.seq))
	r.exams[e.ID] = e
	return e, nil
}

func (r *memRepo) QueryExams(_ context.Context, filter *QueryFilter, _ []core.DBOrdering, _ core.Page) ([]Exam, error) {
	list := make([]Exam, 0)
	for _, e := range r.exams {
		if e.ExamDate.Between(filter.From, filter.To) {
			list = append(list, e)
		}
	}
	return list, nil
}

func (r *memRepo) GetExamByID(_ context.Context, id string) (Exam, error) {
	if e, ok := r.exams[id]; ok {
		return e, nil
	}
	return Exam{}, ErrNotFound
}

func (r *memRepo) UpdateExam(_ context.Context, e Exam) (Exam, error) {
	r.exams[e.ID] = e
	return e, nil
}

func (r *memRepo) DeleteExam(_ context.Context, id string) error {
	delete(r.exams, id)
	return nil
}

func (r *memRepo) UpsertResults(_ context.Context, results []Result, _ ...core.DBExecutor) ([]Result, error) {
	for _, res := range results {
		r.results[[2]string{res.ExamID, res.StudentID}] = res
	}
	return results, nil
}

func (r *memRepo) QueryResults(_ context.Context, filter *ResultFilter) ([]Result, error) {
	list := make([]Result, 0)
	for _, res := range r.results {
		if res.ExamID == filter.ExamID {
			list = append(list, res)
		}
	}
	return list, nil
}

func (r *memRepo) DeleteResult(_ context.Context, examID, studentID string) error {
	delete(r.results, [2]string{examID, studentID})
	return nil
}

func (r *memRepo) Stats(context.Context, Exam) (Stats, error) {
	return Stats{}, nil
}

type enrollment map[string][]string

func (e enrollment) CheckEnrolled(_ context.Context, classID string, studentIDs []string, field string) error {
	for _, id := range studentIDs {
		found := false
		for _, enrolled := range e[classID] {
			found = found || enrolled == id
		}
		if !found {
			return core.NewFieldError(field, "not enrolled")
		}
	}
	return nil
}

type notifications []messaging.Notification

func (n *notifications) Notify(_ context.Context, ns ...messaging.Notification) {
	*n = append(*n, ns...)
}

const student1 = "1b2c3d4e-5f60-4718-89ab-cdef01234567"

func newExam(t *testing.T, svc *Service, date core.Date) Exam {
	e, err := svc.Create(context.Background(), "school1", NewExam{
		ClassID: "class1", Subject: "ریاضی", Title: "میان‌ترم", ExamDate: date, StartTime: "08:30", DurationMinutes: 90, MaxScore: 20,
	})
	assert.NoError(t, err)
	return e
}

func TestNewExam_Validate(t *testing.T) {
	validate, _ := core.NewValidator()
	day := core.NewDate(time.Now())
	valid := func() NewExam {
		return NewExam{ClassID: "8d1c6a2e-3f4b-4c5d-9e6f-7a8b9c0d1e2f", Subject: "math", Title: "final", ExamDate: day, StartTime: "۰۸:۳۰", DurationMinutes: 60}
	}

	ne := valid()
	assert.NoError(t, ne.Validate(validate))
	assert.Equal(t, "08:30", ne.StartTime)
	assert.Equal(t, float64(DefaultMaxScore), ne.MaxScore)

	tests := []struct {
		name   string
		modify func(ne *NewExam)
	}{
		{"no date", func(ne *NewExam) { ne.ExamDate = core.Date{} }},
		{"bad start time", func(ne *NewExam) { ne.StartTime = "25:00" }},
		{"too short", func(ne *NewExam) { ne.DurationMinutes = 2 }},
		{"blank subject", func(ne *NewExam) { ne.Subject = "  " }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ne := valid()
			tc.modify(&ne)
			assert.Error(t, ne.Validate(validate))
		})
	}
}

func TestService_Schedule(t *testing.T) {
	svc := NewService(noTx{}, newMemRepo(), enrollment{}, new(notifications))
	ctx := context.Background()
	today := core.NewDate(time.Now())

	newExam(t, svc, today)
	newExam(t, svc, core.NewDate(today.AddDate(0, 0, 7)))
	newExam(t, svc, core.NewDate(today.AddDate(0, 1, 0)))

	exams, err := svc.Query(ctx, &QueryFilter{From: today, To: core.NewDate(today.AddDate(0, 0, 7))}, nil, core.Page{})
	assert.NoError(t, err)
	assert.Len(t, exams, 2)
}

func TestService_SetStatus(t *testing.T) {
	svc := NewService(noTx{}, newMemRepo(), enrollment{}, new(notifications))
	ctx := context.Background()

	e := newExam(t, svc, core.NewDate(time.Now()))
	cancelled, err := svc.SetStatus(ctx, e, StatusCancelled)
	assert.NoError(t, err)

	_, err = svc.SetStatus(ctx, cancelled, StatusCompleted)
	assert.IsType(t, &core.TransitionError{}, err)

	_, err = svc.Update(ctx, cancelled, UpdateExam{Title: "x"})
	assert.Equal(t, ErrNotScheduled, err)
	assert.Equal(t, ErrNotScheduled, svc.Delete(ctx, cancelled))
}

func TestService_RecordResults(t *testing.T) {
	sent := new(notifications)
	repo := newMemRepo()
	svc := NewService(noTx{}, repo, enrollment{"class1": {student1}}, sent)
	ctx := context.Background()
	validate, _ := core.NewValidator()

	e := newExam(t, svc, core.NewDate(time.Now()))

	r := Results{Results: []ResultEntry{{StudentID: student1, Score: floatPtr(21)}}}
	assert.Error(t, r.Validate(e, validate))

	_, err := svc.RecordResults(ctx, e, Results{Results: []ResultEntry{{StudentID: "stranger", Score: floatPtr(10)}}})
	assert.IsType(t, &core.ValidationError{}, err)

	r = Results{Results: []ResultEntry{{StudentID: student1, Score: floatPtr(15.25)}}}
	assert.NoError(t, r.Validate(e, validate))
	saved, err := svc.RecordResults(ctx, e, r)
	assert.NoError(t, err)
	assert.Len(t, saved, 1)
	assert.Len(t, *sent, 1)

	r = Results{Results: []ResultEntry{{StudentID: student1, Score: floatPtr(18)}}}
	_, err = svc.RecordResults(ctx, e, r)
	assert.NoError(t, err)
	results, _ := svc.Results(ctx, &ResultFilter{ExamID: e.ID})
	if assert.Len(t, results, 1) {
		assert.Equal(t, 18.0, results[0].Score)
	}

	e, _ = svc.SetStatus(ctx, e, StatusCancelled)
	_, err = svc.RecordResults(ctx, e, r)
	assert.Equal(t, ErrCancelled, err)
}

func floatPtr(f float64) *float64 { return &f }
