// Package insight asks a language model for short analyses of students, classes, exams and assignments and keeps the answers.
package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"text/template"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
)

// Entity types
const (
	EntityStudent    = "student"
	EntityClass      = "class"
	EntityExam       = "exam"
	EntityAssignment = "assignment"
)

// Kinds
const (
	KindSummary        = "summary"
	KindRecommendation = "recommendation"
	KindRisk           = "risk"
)

var (
	ErrNotFound    = core.NewNotFoundError("insight")
	ErrEmptyAnswer = errors.New("the model returned an empty answer")
)

type Insight struct {
	ID          string    `json:"id"`
	SchoolID    string    `json:"school_id"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Kind        string    `json:"kind"`
	Content     string    `json:"content"`
	Model       string    `json:"model"`
	RequestedBy string    `json:"requested_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type GenerateRequest struct {
	EntityType string `json:"entity_type" validate:"required,oneof=student class exam assignment"`
	EntityID   string `json:"entity_id" validate:"required,uuid"`
	Kind       string `json:"kind" validate:"omitempty,oneof=summary recommendation risk"`
}

func (gr *GenerateRequest) Validate(validate *validator.Validate) error {
	if gr.Kind == "" {
		gr.Kind = KindSummary
	}
	return validate.Struct(gr)
}

type QueryFilter struct {
	EntityType string `query:"entity_type"`
	EntityID   string `query:"entity_id"`
	Kind       string `query:"kind"`
	SchoolID   string `query:"-"`
}

// Snapshot is the data the model is asked about.
type Snapshot struct {
	SchoolID string
	Subject  string // human readable name of the entity
	Data     interface{}
}

type Completion struct {
	Content string
	Model   string
}

type (
	Repository interface {
		CreateInsight(ctx context.Context, i Insight) (Insight, error)
		QueryInsights(ctx context.Context, filter *QueryFilter, page core.Page) ([]Insight, error)
		GetInsightByID(ctx context.Context, id string) (Insight, error)
		DeleteInsight(ctx context.Context, id string) error
	}

	// Snapshotter loads the snapshot of an entity.
	Snapshotter interface {
		Snapshot(ctx context.Context, entityType, entityID string) (Snapshot, error)
	}

	// Completer sends one chat completion request, asking for a JSON object answer.
	Completer interface {
		Complete(ctx context.Context, system, prompt string) (Completion, error)
	}

	Service struct {
		repo      Repository
		snapshots Snapshotter
		completer Completer
	}
)

func NewService(repo Repository, snapshots Snapshotter, completer Completer) *Service {
	return &Service{repo: repo, snapshots: snapshots, completer: completer}
}

const systemPrompt = `تو دستیار تحلیل آموزشی یک مدرسه هستی. فقط بر اساس داده‌های داده‌شده پاسخ بده، به زبان فارسی و کوتاه.
پاسخ را فقط به صورت یک شیء JSON با کلید "insight" برگردان.`

var (
	kindInstructions = map[string]string{
		KindSummary:        "خلاصه‌ای از وضعیت فعلی ارائه کن.",
		KindRecommendation: "چند پیشنهاد عملی برای بهبود وضعیت ارائه کن.",
		KindRisk:           "نشانه‌های خطر (افت تحصیلی، غیبت، مسائل انضباطی) را شناسایی و اولویت‌بندی کن.",
	}
	entityNames = map[string]string{
		EntityStudent:    "دانش‌آموز",
		EntityClass:      "کلاس",
		EntityExam:       "آزمون",
		EntityAssignment: "تکلیف",
	}

	promptTmpl = template.Must(template.New("prompt").Parse(`موضوع: {{.Entity}} «{{.Subject}}»
درخواست: {{.Instruction}}

داده‌ها:
{{.Data}}
`))
)

func buildPrompt(kind, entityType string, s Snapshot) (string, error) {
	data, err := json.MarshalIndent(s.Data, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encoding snapshot")
	}
	var buff bytes.Buffer
	err = promptTmpl.Execute(&buff, map[string]string{
		"Entity":      entityNames[entityType],
		"Subject":     s.Subject,
		"Instruction": kindInstructions[kind],
		"Data":        string(data),
	})
	return buff.String(), err
}

// parseAnswer extracts the "insight" member of a JSON answer, falling back to the raw text.
func parseAnswer(content string) string {
	content = strings.TrimSpace(content)
	// some models wrap JSON in a markdown code fence
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	var answer map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &answer); err != nil {
		return content
	}
	raw, ok := answer["insight"]
	if !ok {
		return content
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	// structured insight: keep it as JSON
	var buff bytes.Buffer
	if err := json.Indent(&buff, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buff.String()
}

// Generate asks the model about an entity of the requester's school (any school when schoolID is empty) and stores the answer.
func (svc *Service) Generate(ctx context.Context, schoolID, requesterID string, gr GenerateRequest) (Insight, error) {
	snapshot, err := svc.snapshots.Snapshot(ctx, gr.EntityType, gr.EntityID)
	if err != nil {
		return Insight{}, err
	}
	if schoolID != "" && snapshot.SchoolID != schoolID {
		return Insight{}, core.NewNotFoundError(gr.EntityType)
	}

	prompt, err := buildPrompt(gr.Kind, gr.EntityType, snapshot)
	if err != nil {
		return Insight{}, err
	}
	completion, err := svc.completer.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return Insight{}, errors.Wrap(err, "requesting completion")
	}
	content := parseAnswer(completion.Content)
	if content == "" {
		return Insight{}, ErrEmptyAnswer
	}

	return svc.repo.CreateInsight(ctx, Insight{
		SchoolID:    snapshot.SchoolID,
		EntityType:  gr.EntityType,
		EntityID:    gr.EntityID,
		Kind:        gr.Kind,
		Content:     content,
		Model:       completion.Model,
		RequestedBy: requesterID,
		CreatedAt:   core.Now(),
	})
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, page core.Page) ([]Insight, error) {
	return svc.repo.QueryInsights(ctx, filter, page)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Insight, error) {
	return svc.repo.GetInsightByID(ctx, id)
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.repo.DeleteInsight(ctx, id)
}
