package echoapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

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
	"github.com/sayghamsari/daftarrabet/services/metrics"
	"github.com/sayghamsari/daftarrabet/services/tracing"
)

type (
	// HealthCheck reports whether a dependency is reachable.
	HealthCheck func(ctx context.Context) error

	Options struct {
		Address        string
		DisableReqLogs bool
		Config         *core.Config
		Logger         core.Logger
		Metrics        *metrics.Metrics
		Validate       *validator.Validate
		Translator     ut.Translator
		HealthChecks   map[string]HealthCheck

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

	Server interface {
		http.Handler
		Start()
		Shutdown(ctx context.Context) error
		Close() error
		Errors() <-chan error
		ShutdownSignal() <-chan os.Signal
	}

	server struct {
		opts     *Options
		app      *echo.Echo
		srv      *http.Server
		errors   chan error
		shutdown chan os.Signal
		cancel   context.CancelFunc
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	if opts.Validate == nil || opts.Translator == nil {
		opts.Validate, opts.Translator = core.NewValidator()
		user.InitValidators(opts.Validate, opts.Translator)
	}

	s := &server{
		opts:     opts,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)

	s.srv = &http.Server{
		Addr:    opts.Address,
		Handler: otelhttp.NewHandler(s.app, tracing.ServiceName),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.opts.Config

	s.app.HideBanner = true
	ipExtractor, err := newIPExtractor(conf.Server.TrustedProxies)
	if err != nil {
		s.opts.Logger.Fatal(fmt.Sprintf("configuring client ip extraction: %v", err), err)
	}
	s.app.IPExtractor = ipExtractor
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     conf.Server.AllowedOrigins,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))
	s.app.Use(s.opts.Metrics.Middleware())

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)
	s.app.GET("/health", s.health)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	limiter := func(name string) echo.MiddlewareFunc {
		l := newIPLimiter(ctx, name, conf.Server.RateLimit)
		l.onFirstDenied = func(ip string) {
			s.opts.Logger.Warn(fmt.Sprintf("rate limit exceeded: limiter=%s ip=%s", name, ip))
		}
		l.onDenied = func(string) {
			s.opts.Metrics.IncRateLimitDenied(name)
		}
		return l.middleware()
	}

	h := &handler{
		conf:       conf,
		validate:   s.opts.Validate,
		translator: s.opts.Translator,
		users:      s.opts.UserSvc,
		classes:    s.opts.ClassSvc,
	}
	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(newJWTConfig(conf))

	registerUserAPI(v1, jwt, h, limiter)
	registerSchoolAPI(v1, jwt, h, s.opts.SchoolSvc)
	registerClassAPI(v1, jwt, h)
	registerAssignmentAPI(v1, jwt, h, s.opts.AssignmentSvc)
	registerAttendanceAPI(v1, jwt, h, s.opts.AttendanceSvc)
	registerExamAPI(v1, jwt, h, s.opts.ExamSvc)
	registerDisciplineAPI(v1, jwt, h, s.opts.DisciplineSvc)
	registerTuitionAPI(v1, jwt, h, s.opts.TuitionSvc)
	registerMessagingAPI(v1, jwt, h, s.opts.MessagingSvc)
	registerInsightAPI(v1, jwt, h, s.opts.InsightSvc)
}

func (s *server) Start() {
	s.opts.Logger.Info("API listening on " + s.opts.Address)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.srv.Shutdown(ctx)
}

func (s *server) Close() error {
	s.cancel()
	return s.srv.Close()
}

func (s *server) Errors() <-chan error {
	return s.errors
}

func (s *server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "به API "+s.opts.Config.AppName+" خوش آمدید!")
}

type healthResponse struct {
	Status string            `json:"status"`
	Build  string            `json:"build"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *server) health(ctx echo.Context) error {
	res := healthResponse{Status: "ok", Build: s.opts.Config.Build}
	code := http.StatusOK
	for name, check := range s.opts.HealthChecks {
		if res.Checks == nil {
			res.Checks = make(map[string]string, len(s.opts.HealthChecks))
		}
		if err := check(ctx.Request().Context()); err != nil {
			res.Status = "unavailable"
			res.Checks[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		res.Checks[name] = "ok"
	}
	return ctx.JSON(code, res)
}
