package discipline

import (
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/messaging"
	"github.com/sayghamsari/daftarrabet/core/user"
)

// fakeTx rolls back the students' scores when fn fails.
type fakeTx struct {
	students *memStudents
}

func (t fakeTx) WithTx(_ context.Context, fn func(tx core.DBExecutor) error) error {
	saved := make(map[string]user.User, len(t.students.users))
	for id, u := range t.students.users {
		saved[id] = u
	}
	if err := fn(nil); err != nil {
		t.students.users = saved
		return err
	}
	return nil
}

type memStudents struct {
	users map[string]user.User
}

func (s *memStudents) GetUserByID(_ context.Context, id string, _ ...core.DBExecutor) (user.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return user.User{}, user.ErrNotFound
}

func (s *memStudents) AdjustBehaviorScore(_ context.Context, id string, delta float64, _ ...core.DBExecutor) (float64, error) {
	u := s.users[id]
	u.BehaviorScore = math.Max(user.MinBehaviorScore, math.Min(user.MaxBehaviorScore, u.BehaviorScore+delta))
	s.users[id] = u
	return u.BehaviorScore, nil
}

type memRepo struct {
	records      map[string]Record
	achievements map[string]Achievement
	failCreate   bool
	seq          int
}

var _ Repository = (*memRepo)(nil)

func (r *memRepo) nextID() string {
	r.seq++
	return string(rune('a' + r.seq))
}

func (r *memRepo) CreateRecord(_ context.Context, rec Record, _ ...core.DBExecutor) (Record, error) {
	if r.failCreate {
		return Record{}, errors.New("db down")
	}
	rec.ID = r.nextID()
	r.records[rec.ID] = rec
	return rec, nil
}

func (r *memRepo) QueryRecords(context.Context, *QueryFilter, []core.DBOrdering, core.Page) ([]Record, error) {
	return nil, nil
}

func (r *memRepo) GetRecordByID(_ context.Context, id string) (Record, error) {
	if rec, ok := r.records[id]; ok {
		return rec, nil
	}
	return Record{}, ErrRecordNotFound
}

func (r *memRepo) UpdateRecord(_ context.Context, rec Record, _ ...core.DBExecutor) (Record, error) {
	r.records[rec.ID] = rec
	return rec, nil
}

func (r *memRepo) DeleteRecord(_ context.Context, id string, _ ...core.DBExecutor) error {
	delete(r.records, id)
	return nil
}

func (r *memRepo) CreateAchievement(_ context.Context, a Achievement, _ ...core.DBExecutor) (Achievement, error) {
	a.ID = r.nextID()
	r.achievements[a.ID] = a
	return a, nil
}

func (r *memRepo) QueryAchievements(context.Context, *QueryFilter, []core.DBOrdering, core.Page) ([]Achievement, error) {
	return nil, nil
}

func (r *memRepo) GetAchievementByID(_ context.Context, id string) (Achievement, error) {
	if a, ok := r.achievements[id]; ok {
		return a, nil
	}
	return Achievement{}, ErrAchievementNotFound
}

func (r *memRepo) UpdateAchievement(_ context.Context, a Achievement, _ ...core.DBExecutor) (Achievement, error) {
	r.achievements[a.ID] = a
	return a, nil
}

func (r *memRepo) DeleteAchievement(_ context.Context, id string, _ ...core.DBExecutor) error {
	delete(r.achievements, id)
	return nil
}

type notifications []messaging.Notification

func (n *notifications) Notify(_ context.Context, ns ...messaging.Notification) {
	*n = append(*n, ns...)
}

func setup() (*Service, *memRepo, *memStudents, *notifications) {
	students := &memStudents{users: map[string]user.User{
		"student1": {ID: "student1", SchoolID: "school1", Name: "Sara", Roles: []string{user.RoleStudent}, ParentID: "parent1", BehaviorScore: user.DefaultBehaviorScore},
		"teacher1": {ID: "teacher1", SchoolID: "school1", Name: "Ali", Roles: []string{user.RoleTeacher}},
	}}
	repo := &memRepo{records: make(map[string]Record), achievements: make(map[string]Achievement)}
	sent := new(notifications)
	return NewService(fakeTx{students}, repo, students, sent), repo, students, sent
}

func score(s *memStudents) float64 {
	return s.users["student1"].BehaviorScore
}

func TestService_Student(t *testing.T) {
	svc, _, _, _ := setup()
	ctx := context.Background()

	_, err := svc.Student(ctx, "school1", "student1")
	assert.NoError(t, err)

	for _, id := range []string{"teacher1", "nobody"} {
		_, err = svc.Student(ctx, "school1", id)
		assert.IsType(t, &core.ValidationError{}, err, id)
	}
	_, err = svc.Student(ctx, "school2", "student1")
	assert.IsType(t, &core.ValidationError{}, err)
}

func TestService_Records(t *testing.T) {
	svc, repo, students, sent := setup()
	ctx := context.Background()
	validate, _ := core.NewValidator()
	student := students.users["student1"]

	nr := NewRecord{StudentID: "1b2c3d4e-5f60-4718-89ab-cdef01234567", Type: TypeWarning, Severity: SeverityMedium, Description: "late to class"}
	assert.NoError(t, nr.Validate(validate))
	assert.Equal(t, -1.0, *nr.ScoreDelta)

	rec, err := svc.CreateRecord(ctx, student, "teacher1", nr)
	assert.NoError(t, err)
	assert.Equal(t, 19.0, score(students))
	if assert.Len(t, *sent, 1) {
		assert.Equal(t, "parent1", (*sent)[0].UserID)
		assert.Equal(t, messaging.KindDisciplinaryRecord, (*sent)[0].Kind)
	}

	delta := -3.0
	rec, err = svc.UpdateRecord(ctx, rec, UpdateRecord{ScoreDelta: &delta})
	assert.NoError(t, err)
	assert.Equal(t, 17.0, score(students))

	assert.NoError(t, svc.DeleteRecord(ctx, rec))
	assert.Equal(t, 20.0, score(students))
	assert.Empty(t, repo.records)
}

func TestService_ScoreIsClamped(t *testing.T) {
	svc, _, students, _ := setup()
	ctx := context.Background()
	student := students.users["student1"]

	delta := -15.0
	for i := 0; i < 2; i++ {
		_, err := svc.CreateRecord(ctx, student, "teacher1", NewRecord{Type: TypeSuspension, Severity: SeverityHigh, Description: "x", ScoreDelta: &delta})
		assert.NoError(t, err)
	}
	assert.Equal(t, float64(user.MinBehaviorScore), score(students))

	_, err := svc.CreateAchievement(ctx, student, "teacher1", NewAchievement{Title: "olympiad", Category: "academic", Points: 20})
	assert.NoError(t, err)
	_, err = svc.CreateAchievement(ctx, student, "teacher1", NewAchievement{Title: "football", Category: "sport", Points: 5})
	assert.NoError(t, err)
	assert.Equal(t, float64(user.MaxBehaviorScore), score(students))
}

func TestService_CreateRecordRollsBack(t *testing.T) {
	svc, repo, students, sent := setup()
	repo.failCreate = true
	delta := -2.0

	_, err := svc.CreateRecord(context.Background(), students.users["student1"], "teacher1", NewRecord{Type: TypeIncident, Severity: SeverityHigh, Description: "x", ScoreDelta: &delta})
	assert.Error(t, err)
	assert.Equal(t, float64(user.DefaultBehaviorScore), score(students))
	assert.Empty(t, *sent)
}

func TestService_Achievements(t *testing.T) {
	svc, repo, students, sent := setup()
	ctx := context.Background()
	student := students.users["student1"]
	student.BehaviorScore = 10
	students.users[student.ID] = student

	a, err := svc.CreateAchievement(ctx, student, "teacher1", NewAchievement{Title: "art fair", Category: "art", Points: 2})
	assert.NoError(t, err)
	assert.Equal(t, 12.0, score(students))
	assert.Len(t, *sent, 2) // student and parent

	points := 3.0
	a, err = svc.UpdateAchievement(ctx, a, UpdateAchievement{Points: &points})
	assert.NoError(t, err)
	assert.Equal(t, 13.0, score(students))

	assert.NoError(t, svc.DeleteAchievement(ctx, a))
	assert.Equal(t, 10.0, score(students))
	assert.Empty(t, repo.achievements)
}
