package main

import (
	"context"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/sayghamsari/daftarrabet/apps/api/echo"
	"github.com/sayghamsari/daftarrabet/core"
	"github.com/sayghamsari/daftarrabet/core/assignment"
	"github.com/sayghamsari/daftarrabet/core/attendance"
	"github.com/sayghamsari/daftarrabet/core/classroom"
	"github.com/sayghamsari/daftarrabet/core/discipline"
	"github.com/sayghamsari/daftarrabet/core/exam"
	"github.com/sayghamsari/daftarrabet/core/insight"
	"github.com/sayghamsari/daftarrabet/core/messaging"
	"github.com/sayghamsari/daftarrabet/core/school"
	"github.com/sayghamsari/daftarrabet/core/tuition"
	"github.com/sayghamsari/daftarrabet/core/user"
	aisvc "github.com/sayghamsari/daftarrabet/services/ai"
	emailsvc "github.com/sayghamsari/daftarrabet/services/email"
	"github.com/sayghamsari/daftarrabet/services/filestore"
	logsvc "github.com/sayghamsari/daftarrabet/services/logger"
	"github.com/sayghamsari/daftarrabet/services/metrics"
	smssvc "github.com/sayghamsari/daftarrabet/services/sms"
	"github.com/sayghamsari/daftarrabet/storage/database"
	sqlxrepos "github.com/sayghamsari/daftarrabet/storage/database/sqlx"
)

type dbLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type repositories struct {
	users       user.Repository
	otps        user.OTPRepository
	schools     school.Repository
	classes     classroom.Repository
	assignments assignment.Repository
	attendance  attendance.Repository
	exams       exam.Repository
	discipline  discipline.Repository
	tuition     tuition.Repository
	messaging   messaging.Repository
	insights    insight.Repository
}

func newLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
}

func newDB(conf *core.Config, loggerParam dbLoggerParam) *sqlx.DB {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db
}

func newTransactor(db *sqlx.DB) core.Transactor {
	return core.NewTransactor(db)
}

func newRepositories(db *sqlx.DB) repositories {
	return repositories{
		users:       sqlxrepos.NewUserRepository(db),
		otps:        sqlxrepos.NewOTPRepository(db),
		schools:     sqlxrepos.NewSchoolRepository(db),
		classes:     sqlxrepos.NewClassRepository(db),
		assignments: sqlxrepos.NewAssignmentRepository(db),
		attendance:  sqlxrepos.NewAttendanceRepository(db),
		exams:       sqlxrepos.NewExamRepository(db),
		discipline:  sqlxrepos.NewDisciplineRepository(db),
		tuition:     sqlxrepos.NewTuitionRepository(db),
		messaging:   sqlxrepos.NewMessagingRepository(db),
		insights:    sqlxrepos.NewInsightRepository(db),
	}
}

func newValidator() (*validator.Validate, ut.Translator) {
	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)
	return validate, translator
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridAPIKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newSMSService(conf *core.Config, logger core.Logger, m *metrics.Metrics) core.SMSService {
	if conf.SMS.Provider == "kavenegar" {
		return smssvc.NewKavenegarService(conf, logger, m)
	}
	return smssvc.NewConsoleService(conf, logger, m)
}

// newFileStore falls back to memory when no object store is configured. Documents are then lost on restart.
func newFileStore(conf *core.Config, logger core.Logger) core.FileStore {
	if conf.Storage.Endpoint == "" {
		logger.Warn("object storage not configured; keeping documents in memory")
		return filestore.NewMemoryStore(conf.FrontendBaseURL + "/files")
	}
	store, err := filestore.NewMinioStore(context.Background(), conf.Storage)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up object storage: %v", err), err)
	}
	return store
}

func newCompleter(conf *core.Config, m *metrics.Metrics) insight.Completer {
	return aisvc.NewCompleter(conf.AI, m)
}

func newHealthChecks(db *sqlx.DB, files core.FileStore) map[string]echoapi.HealthCheck {
	checks := map[string]echoapi.HealthCheck{
		"database": func(ctx context.Context) error { return database.StatusCheck(ctx, db) },
	}
	if store, ok := files.(*filestore.MinioStore); ok {
		checks["storage"] = store.StatusCheck
	}
	return checks
}

func newUserService(
	conf *core.Config,
	repos repositories,
	schools *school.Service,
	mailSvc core.EmailService,
	smsSvc core.SMSService,
) *user.Service {
	return user.NewService(conf, repos.users, repos.otps, schools, mailSvc, smsSvc)
}

func newSchoolService(conf *core.Config, repos repositories) *school.Service {
	return school.NewService(conf, repos.schools)
}

func newClassService(tx core.Transactor, repos repositories) *classroom.Service {
	return classroom.NewService(tx, repos.classes, repos.users)
}

func newMessagingService(repos repositories, logger core.Logger) *messaging.Service {
	return messaging.NewService(repos.messaging, repos.users, logger)
}

func newAssignmentService(repos repositories, classes *classroom.Service, notifier *messaging.Service) *assignment.Service {
	return assignment.NewService(repos.assignments, classes, notifier)
}

func newAttendanceService(
	conf *core.Config,
	tx core.Transactor,
	repos repositories,
	classes *classroom.Service,
	files core.FileStore,
	notifier *messaging.Service,
) *attendance.Service {
	return attendance.NewService(conf, tx, repos.attendance, classes, files, notifier)
}

func newExamService(tx core.Transactor, repos repositories, classes *classroom.Service, notifier *messaging.Service) *exam.Service {
	return exam.NewService(tx, repos.exams, classes, notifier)
}

func newDisciplineService(tx core.Transactor, repos repositories, notifier *messaging.Service) *discipline.Service {
	return discipline.NewService(tx, repos.discipline, repos.users, notifier)
}

func newTuitionService(
	conf *core.Config,
	repos repositories,
	smsSvc core.SMSService,
	mailSvc core.EmailService,
	notifier *messaging.Service,
) *tuition.Service {
	return tuition.NewService(conf, repos.tuition, repos.users, smsSvc, mailSvc, notifier)
}

type snapshotSources struct {
	dig.In
	Users       *user.Service
	Classes     *classroom.Service
	Attendance  *attendance.Service
	Exams       *exam.Service
	Discipline  *discipline.Service
	Assignments *assignment.Service
}

func newInsightService(repos repositories, src snapshotSources, completer insight.Completer) *insight.Service {
	return insight.NewService(repos.insights, &insight.DomainSnapshotter{
		Users:       src.Users,
		Classes:     src.Classes,
		Attendance:  src.Attendance,
		Exams:       src.Exams,
		Discipline:  src.Discipline,
		Assignments: src.Assignments,
	}, completer)
}

type serverParams struct {
	dig.In
	Conf         *core.Config
	Logger       core.Logger
	Metrics      *metrics.Metrics
	Validate     *validator.Validate
	Translator   ut.Translator
	HealthChecks map[string]echoapi.HealthCheck

	UserSvc       *user.Service
	SchoolSvc     *school.Service
	ClassSvc      *classroom.Service
	AssignmentSvc *assignment.Service
	AttendanceSvc *attendance.Service
	ExamSvc       *exam.Service
	DisciplineSvc *discipline.Service
	TuitionSvc    *tuition.Service
	MessagingSvc  *messaging.Service
	InsightSvc    *insight.Service
}

func newServer(p serverParams) echoapi.Server {
	return echoapi.NewServer(&echoapi.Options{
		Address:       p.Conf.Server.Address,
		Config:        p.Conf,
		Logger:        p.Logger,
		Metrics:       p.Metrics,
		Validate:      p.Validate,
		Translator:    p.Translator,
		HealthChecks:  p.HealthChecks,
		UserSvc:       p.UserSvc,
		SchoolSvc:     p.SchoolSvc,
		ClassSvc:      p.ClassSvc,
		AssignmentSvc: p.AssignmentSvc,
		AttendanceSvc: p.AttendanceSvc,
		ExamSvc:       p.ExamSvc,
		DisciplineSvc: p.DisciplineSvc,
		TuitionSvc:    p.TuitionSvc,
		MessagingSvc:  p.MessagingSvc,
		InsightSvc:    p.InsightSvc,
	})
}

// newContainer returns the dependency injection container of the API.
func newContainer() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(metrics.New))
	must(c.Provide(newDB))
	must(c.Provide(newTransactor))
	must(c.Provide(newRepositories))
	must(c.Provide(newValidator))
	must(c.Provide(newEmailService))
	must(c.Provide(newSMSService))
	must(c.Provide(newFileStore))
	must(c.Provide(newCompleter))
	must(c.Provide(newHealthChecks))

	must(c.Provide(newSchoolService))
	must(c.Provide(newUserService))
	must(c.Provide(newClassService))
	must(c.Provide(newMessagingService))
	must(c.Provide(newAssignmentService))
	must(c.Provide(newAttendanceService))
	must(c.Provide(newExamService))
	must(c.Provide(newDisciplineService))
	must(c.Provide(newTuitionService))
	must(c.Provide(newInsightService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
