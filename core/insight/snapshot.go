package insight

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/assignment"
	"github.com/sayghamsari/daftarrabet/core/attendance"
	"github.com/sayghamsari/daftarrabet/core/classroom"
	"github.com/sayghamsari/daftarrabet/core/discipline"
	"github.com/sayghamsari/daftarrabet/core/exam"
	"github.com/sayghamsari/daftarrabet/core/user"
)

const (
	snapshotPeriod = 120 * 24 * time.Hour
	snapshotLimit  = 20
)

type (
	UserSource interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	ClassSource interface {
		GetByID(ctx context.Context, id string) (classroom.Class, error)
		Query(ctx context.Context, filter *classroom.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]classroom.Class, error)
		Students(ctx context.Context, c classroom.Class) ([]user.User, error)
	}

	AttendanceSource interface {
		Summary(ctx context.Context, studentID string, from, to core.Date) (attendance.Summary, error)
	}

	ExamSource interface {
		GetByID(ctx context.Context, id string) (exam.Exam, error)
		Query(ctx context.Context, filter *exam.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]exam.Exam, error)
		Results(ctx context.Context, filter *exam.ResultFilter) ([]exam.Result, error)
		Stats(ctx context.Context, e exam.Exam) (exam.Stats, error)
	}

	DisciplineSource interface {
		QueryRecords(ctx context.Context, filter *discipline.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]discipline.Record, error)
		QueryAchievements(ctx context.Context, filter *discipline.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]discipline.Achievement, error)
	}

	AssignmentSource interface {
		GetByID(ctx context.Context, id string) (assignment.Assignment, error)
		Stats(ctx context.Context, a assignment.Assignment) (assignment.SubmissionStats, error)
	}

	// DomainSnapshotter builds snapshots from the domain services.
	DomainSnapshotter struct {
		Users       UserSource
		Classes     ClassSource
		Attendance  AttendanceSource
		Exams       ExamSource
		Discipline  DisciplineSource
		Assignments AssignmentSource
	}
)

var _ Snapshotter = (*DomainSnapshotter)(nil)

type (
	examScore struct {
		Exam     string    `json:"exam"`
		Subject  string    `json:"subject"`
		Date     core.Date `json:"date"`
		Score    float64   `json:"score"`
		MaxScore float64   `json:"max_score"`
	}

	incident struct {
		Type        string    `json:"type"`
		Severity    string    `json:"severity"`
		Description string    `json:"description"`
		ScoreDelta  float64   `json:"score_delta"`
		OccurredAt  core.Date `json:"occurred_at"`
	}

	award struct {
		Title    string    `json:"title"`
		Category string    `json:"category"`
		Points   float64   `json:"points"`
		Date     core.Date `json:"date"`
	}

	studentData struct {
		Name          string             `json:"name"`
		Classes       []string           `json:"classes"`
		BehaviorScore float64            `json:"behavior_score"`
		Attendance    attendance.Summary `json:"attendance"`
		ExamResults   []examScore        `json:"exam_results"`
		Incidents     []incident         `json:"disciplinary_records"`
		Achievements  []award            `json:"achievements"`
	}

	examSummary struct {
		Title   string     `json:"title"`
		Subject string     `json:"subject"`
		Date    core.Date  `json:"date"`
		Stats   exam.Stats `json:"stats"`
	}

	classData struct {
		Name                 string        `json:"name"`
		Grade                int           `json:"grade"`
		AcademicYear         string        `json:"academic_year"`
		Capacity             int           `json:"capacity"`
		StudentCount         int           `json:"student_count"`
		AverageBehaviorScore float64       `json:"average_behavior_score"`
		LowBehaviorStudents  int           `json:"low_behavior_students"`
		RecentExams          []examSummary `json:"recent_exams"`
	}

	examData struct {
		Title        string         `json:"title"`
		Subject      string         `json:"subject"`
		Class        string         `json:"class"`
		Date         core.Date      `json:"date"`
		MaxScore     float64        `json:"max_score"`
		Status       string         `json:"status"`
		Stats        exam.Stats     `json:"stats"`
		Distribution map[string]int `json:"distribution"`
	}

	assignmentData struct {
		Title        string                     `json:"title"`
		Description  string                     `json:"description"`
		Class        string                     `json:"class"`
		DueAt        time.Time                  `json:"due_at"`
		MaxScore     float64                    `json:"max_score"`
		Status       string                     `json:"status"`
		StudentCount int                        `json:"student_count"`
		Submissions  assignment.SubmissionStats `json:"submissions"`
	}
)

func (s *DomainSnapshotter) Snapshot(ctx context.Context, entityType, entityID string) (Snapshot, error) {
	switch entityType {
	case EntityStudent:
		return s.student(ctx, entityID)
	case EntityClass:
		return s.class(ctx, entityID)
	case EntityExam:
		return s.exam(ctx, entityID)
	case EntityAssignment:
		return s.assignment(ctx, entityID)
	}
	return Snapshot{}, core.NewFieldError("entity_type", "نوع موجودیت نامعتبر است")
}

func (s *DomainSnapshotter) student(ctx context.Context, id string) (Snapshot, error) {
	usr, err := s.Users.GetByID(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	if !usr.IsStudent() {
		return Snapshot{}, core.NewNotFoundError(EntityStudent)
	}

	now := time.Now()
	from := core.NewDate(now.Add(-snapshotPeriod))
	page := core.Page{Limit: snapshotLimit}
	data := studentData{Name: usr.Name, BehaviorScore: usr.BehaviorScore}

	classes, err := s.Classes.Query(ctx, &classroom.QueryFilter{StudentID: id}, nil, page)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "loading classes")
	}
	for _, c := range classes {
		data.Classes = append(data.Classes, c.Name)
	}

	if data.Attendance, err = s.Attendance.Summary(ctx, id, from, core.NewDate(now)); err != nil {
		return Snapshot{}, errors.Wrap(err, "loading attendance")
	}

	results, err := s.Exams.Results(ctx, &exam.ResultFilter{StudentID: id})
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "loading exam results")
	}
	if len(results) > snapshotLimit {
		results = results[:snapshotLimit]
	}
	for _, r := range results {
		e, err := s.Exams.GetByID(ctx, r.ExamID)
		if err != nil {
			return Snapshot{}, errors.Wrap(err, "loading exam")
		}
		data.ExamResults = append(data.ExamResults, examScore{
			Exam: e.Title, Subject: e.Subject, Date: e.ExamDate, Score: r.Score, MaxScore: e.MaxScore,
		})
	}

	filter := &discipline.QueryFilter{StudentID: id, From: from}
	ordering := []core.DBOrdering{{Field: "created_at"}}
	records, err := s.Discipline.QueryRecords(ctx, filter, ordering, page)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "loading disciplinary records")
	}
	for _, r := range records {
		data.Incidents = append(data.Incidents, incident{
			Type: r.Type, Severity: r.Severity, Description: r.Description, ScoreDelta: r.ScoreDelta, OccurredAt: core.NewDate(r.OccurredAt),
		})
	}
	achievements, err := s.Discipline.QueryAchievements(ctx, filter, ordering, page)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "loading achievements")
	}
	for _, a := range achievements {
		data.Achievements = append(data.Achievements, award{
			Title: a.Title, Category: a.Category, Points: a.Points, Date: core.NewDate(a.AwardedAt),
		})
	}

	return Snapshot{SchoolID: usr.SchoolID, Subject: usr.Name, Data: data}, nil
}

func (s *DomainSnapshotter) class(ctx context.Context, id string) (Snapshot, error) {
	c, err := s.Classes.GetByID(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	students, err := s.Classes.Students(ctx, c)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "loading students")
	}

	data := classData{
		Name:         c.Name,
		Grade:        c.Grade,
		AcademicYear: c.AcademicYear,
		Capacity:     c.Capacity,
		StudentCount: len(students),
	}
	if len(students) > 0 {
		total := 0.0
		for _, st := range students {
			total += st.BehaviorScore
			if st.BehaviorScore < user.MaxBehaviorScore/2 {
				data.LowBehaviorStudents++
			}
		}
		data.AverageBehaviorScore = total / float64(len(students))
	}

	exams, err := s.Exams.Query(ctx, &exam.QueryFilter{ClassID: id, Status: exam.StatusCompleted}, []core.DBOrdering{{Field: "exam_date"}}, core.Page{Limit: 5})
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "loading exams")
	}
	for _, e := range exams {
		stats, err := s.Exams.Stats(ctx, e)
		if err != nil {
			return Snapshot{}, errors.Wrap(err, "loading exam stats")
		}
		data.RecentExams = append(data.RecentExams, examSummary{Title: e.Title, Subject: e.Subject, Date: e.ExamDate, Stats: stats})
	}

	return Snapshot{SchoolID: c.SchoolID, Subject: c.Name, Data: data}, nil
}

// distribution buckets scores by quarter of the maximum score.
func distribution(results []exam.Result, maxScore float64) map[string]int {
	buckets := map[string]int{"0-25%": 0, "25-50%": 0, "50-75%": 0, "75-100%": 0}
	if maxScore <= 0 {
		return buckets
	}
	for _, r := range results {
		switch ratio := r.Score / maxScore; {
		case ratio < .25:
			buckets["0-25%"]++
		case ratio < .5:
			buckets["25-50%"]++
		case ratio < .75:
			buckets["50-75%"]++
		default:
			buckets["75-100%"]++
		}
	}
	return buckets
}

func (s *DomainSnapshotter) exam(ctx context.Context, id string) (Snapshot, error) {
	e, err := s.Exams.GetByID(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	c, err := s.Classes.GetByID(ctx, e.ClassID)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "loading class")
	}
	stats, err := s.Exams.Stats(ctx, e)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "loading exam stats")
	}
	results, err := s.Exams.Results(ctx, &exam.ResultFilter{ExamID: id})
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "loading exam results")
	}

	return Snapshot{
		SchoolID: e.SchoolID,
		Subject:  e.Title,
		Data: examData{
			Title:        e.Title,
			Subject:      e.Subject,
			Class:        c.Name,
			Date:         e.ExamDate,
			MaxScore:     e.MaxScore,
			Status:       e.Status,
			Stats:        stats,
			Distribution: distribution(results, e.MaxScore),
		},
	}, nil
}

func (s *DomainSnapshotter) assignment(ctx context.Context, id string) (Snapshot, error) {
	a, err := s.Assignments.GetByID(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	c, err := s.Classes.GetByID(ctx, a.ClassID)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "loading class")
	}
	stats, err := s.Assignments.Stats(ctx, a)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "loading submission stats")
	}

	return Snapshot{
		SchoolID: a.SchoolID,
		Subject:  a.Title,
		Data: assignmentData{
			Title:        a.Title,
			Description:  a.Description,
			Class:        c.Name,
			DueAt:        a.DueAt,
			MaxScore:     a.MaxScore,
			Status:       a.Status,
			StudentCount: c.StudentCount,
			Submissions:  stats,
		},
	}, nil
}
