// Package testutil starts a throwaway Postgres for the integration tests and seeds it.
package testutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/school"
	"github.com/sayghamsari/daftarrabet/core/user"
	"github.com/sayghamsari/daftarrabet/storage/database"
)

const (
	dbPassword = "secret"
	dbName     = "daftarrabet_test"
)

var (
	dbOnce sync.Once
	testDB *sqlx.DB
	dbErr  error

	tables = []string{
		"insights", "notifications", "messages", "tuition_notices", "achievements", "disciplinary_records",
		"exam_results", "exams", "absence_justifications", "attendance", "submissions", "assignments",
		"class_students", "classes", "otp_codes", "users", "schools",
	}
)

// startDB runs a Postgres container for the whole test binary. The container expires on its own.
func startDB() (*sqlx.DB, error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("connecting to docker: %w", err)
	}
	if err = pool.Client.Ping(); err != nil {
		return nil, fmt.Errorf("pinging docker: %w", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15-alpine",
		Env: []string{
			"POSTGRES_PASSWORD=" + dbPassword,
			"POSTGRES_DB=" + dbName,
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return nil, fmt.Errorf("starting postgres: %w", err)
	}
	_ = resource.Expire(300)

	port, err := strconv.Atoi(resource.GetPort("5432/tcp"))
	if err != nil {
		_ = pool.Purge(resource)
		return nil, fmt.Errorf("reading postgres port: %w", err)
	}

	conf := core.NewTestConfig()
	conf.Database = core.DatabaseConfig{
		Engine:     "postgres",
		Host:       "localhost",
		Port:       port,
		Name:       dbName,
		User:       "postgres",
		Password:   dbPassword,
		DisableTLS: true,
	}

	var db *sqlx.DB
	pool.MaxWait = time.Minute
	if err = pool.Retry(func() error {
		var err error
		db, err = database.Open(conf)
		return err
	}); err != nil {
		_ = pool.Purge(resource)
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err = database.Migrate(db); err != nil {
		_ = pool.Purge(resource)
		return nil, err
	}
	return db, nil
}

// PrepareDB returns a migrated, empty database. Tests are skipped when docker is unavailable.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() || os.Getenv("SKIP_DB_TESTS") != "" {
		t.Skip("skipping database test")
	}
	dbOnce.Do(func() {
		testDB, dbErr = startDB()
	})
	if dbErr != nil {
		t.Skipf("database unavailable: %v", dbErr)
	}
	ResetDB(t, testDB)
	return testDB
}

// ResetDB empties every table.
func ResetDB(t *testing.T, db *sqlx.DB) {
	t.Helper()
	q := "TRUNCATE " + strings.Join(tables, ", ") + " CASCADE"
	if _, err := db.ExecContext(context.Background(), q); err != nil {
		t.Fatalf("ResetDB() failed: %v", err)
	}
}

// NationalID returns a valid national ID derived from seed.
func NationalID(seed int) string {
	base := fmt.Sprintf("%09d", 100000000+seed%900000000)
	var sum int
	for i := 0; i < 9; i++ {
		sum += int(base[i]-'0') * (10 - i)
	}
	check := sum % 11
	if check >= 2 {
		check = 11 - check
	}
	return fmt.Sprintf("%s%d", base, check)
}

// Phone returns a valid mobile number derived from seed.
func Phone(seed int) string {
	return fmt.Sprintf("0912%07d", seed%10000000)
}

func CreateSchool(t *testing.T, repo school.Repository, name, code string) school.School {
	t.Helper()
	now := time.Now().UTC()
	s, err := repo.CreateSchool(context.Background(), school.School{
		Name:        name,
		Code:        code,
		IsActive:    true,
		TrialEndsAt: now.Add(14 * 24 * time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("CreateSchool() failed: %v", err)
	}
	return s
}

type UserOpts struct {
	SchoolID string
	ParentID string
	Email    string
	Password string
	Inactive bool
	Created  time.Time
}

// CreateUser stores a user whose national ID and phone are derived from seed.
func CreateUser(t *testing.T, repo user.Repository, seed int, name string, roles []string, opts ...UserOpts) user.User {
	t.Helper()
	var o UserOpts
	if len(opts) > 0 {
		o = opts[0]
	}
	tstamp := time.Now().UTC()
	if !o.Created.IsZero() {
		tstamp = o.Created.UTC()
	}
	if roles == nil {
		roles = []string{}
	}

	usr := user.User{
		SchoolID:      o.SchoolID,
		NationalID:    NationalID(seed),
		Phone:         Phone(seed),
		Name:          name,
		Email:         o.Email,
		Roles:         roles,
		IsActive:      !o.Inactive,
		ParentID:      o.ParentID,
		BehaviorScore: user.DefaultBehaviorScore,
		TrialEndsAt:   tstamp.Add(14 * 24 * time.Hour),
		CreatedAt:     tstamp,
		UpdatedAt:     tstamp,
	}
	if o.Password != "" {
		if err := usr.SetPassword(o.Password); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}
