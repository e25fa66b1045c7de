package school

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sayghamsari/daftarrabet/core"
)

type memRepo struct {
	schools map[string]School
	seq     int
}

var _ Repository = (*memRepo)(nil)

func (r *memRepo) CheckCodeUniqueness(_ context.Context, code, excludedID string) error {
	for _, s := range r.schools {
		if s.Code == code && s.ID != excludedID {
			return ErrCodeExists
		}
	}
	return nil
}

func (r *memRepo) CreateSchool(_ context.Context, s School) (School, error) {
	r.seq++
	s.ID = fmt.Sprintf("school-%d", r.seq)
	r.schools[s.ID] = s
	return s, nil
}

func (r *memRepo) QuerySchools(context.Context, *QueryFilter, []core.DBOrdering, core.Page) ([]School, error) {
	list := make([]School, 0, len(r.schools))
	for _, s := range r.schools {
		list = append(list, s)
	}
	return list, nil
}

func (r *memRepo) GetSchoolByID(_ context.Context, id string) (School, error) {
	if s, ok := r.schools[id]; ok {
		return s, nil
	}
	return School{}, ErrNotFound
}

func (r *memRepo) GetSchoolByCode(_ context.Context, code string) (School, error) {
	for _, s := range r.schools {
		if s.Code == code {
			return s, nil
		}
	}
	return School{}, ErrNotFound
}

func (r *memRepo) UpdateSchool(_ context.Context, s School) (School, error) {
	r.schools[s.ID] = s
	return s, nil
}

func (r *memRepo) DeleteSchool(_ context.Context, id string) error {
	delete(r.schools, id)
	return nil
}

func (r *memRepo) Dashboard(context.Context, string, core.Date) (Dashboard, error) {
	return Dashboard{Students: 3}, nil
}

func newTestService() *Service {
	return NewService(core.NewTestConfig(), &memRepo{schools: make(map[string]School)})
}

func TestNewSchool_Validate(t *testing.T) {
	validate, _ := core.NewValidator()
	svc := newTestService()
	ctx := context.Background()
	_, err := svc.Create(ctx, NewSchool{Name: "دبستان فردوسی", Code: "ferdowsi"})
	assert.NoError(t, err)

	tests := []struct {
		name      string
		ns        NewSchool
		wantErr   bool
		wantField string
	}{
		{name: "valid", ns: NewSchool{Name: "دبیرستان سعدی", Code: "saadi", Phone: "۰۲۱۱۲۳۴۵۶۷۸"}},
		{name: "code taken ignoring case", ns: NewSchool{Name: "دبستان دیگر", Code: " Ferdowsi "}, wantErr: true, wantField: "code"},
		{name: "blank name", ns: NewSchool{Name: "   ", Code: "hafez"}, wantErr: true},
		{name: "short code", ns: NewSchool{Name: "دبستان حافظ", Code: "ab"}, wantErr: true},
		{name: "code with symbols", ns: NewSchool{Name: "دبستان حافظ", Code: "hafez-1"}, wantErr: true},
		{name: "invalid principal", ns: NewSchool{Name: "دبستان حافظ", Code: "hafez", PrincipalID: "lol"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ns.Validate(ctx, validate, svc)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) && tt.wantField != "" {
				verr, ok := err.(*core.ValidationError)
				if assert.True(t, ok) {
					assert.Equal(t, tt.wantField, verr.Fields[0].Field)
				}
			}
		})
	}
}

func TestService_Create(t *testing.T) {
	svc := newTestService()
	s, err := svc.Create(context.Background(), NewSchool{Name: "دبستان فردوسی", Code: "ferdowsi"})
	if !assert.NoError(t, err) {
		return
	}
	assert.True(t, s.IsActive)
	assert.True(t, s.TrialActive())
	assert.WithinDuration(t, time.Now().Add(svc.conf.TrialPeriod), s.TrialEndsAt, time.Minute)
}

func TestService_SchoolIDByCode(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	active, _ := svc.Create(ctx, NewSchool{Name: "دبستان فردوسی", Code: "ferdowsi"})
	inactive, _ := svc.Create(ctx, NewSchool{Name: "دبیرستان سعدی", Code: "saadi"})
	no := false
	_, err := svc.Update(ctx, inactive, UpdateSchool{IsActive: &no})
	assert.NoError(t, err)

	id, err := svc.SchoolIDByCode(ctx, " FERDOWSI ")
	assert.NoError(t, err)
	assert.Equal(t, active.ID, id)

	_, err = svc.SchoolIDByCode(ctx, "saadi")
	assert.Equal(t, ErrNotFound, err)

	_, err = svc.SchoolIDByCode(ctx, "hafez")
	assert.True(t, core.IsNotFound(err))
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()
	s, _ := svc.Create(ctx, NewSchool{Name: "دبستان فردوسی", Code: "ferdowsi", Address: "تهران"})

	phone := "۰۲۱۸۸۸۸۸۸۸۸"
	updated, err := svc.Update(ctx, s, UpdateSchool{Phone: &phone})
	if assert.NoError(t, err) {
		assert.Equal(t, "دبستان فردوسی", updated.Name)
		assert.Equal(t, "تهران", updated.Address)
		assert.Equal(t, "02188888888", updated.Phone)
	}
}
