package core

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/fa"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

var (
	// custom validation tags & texts
	alphaNumUnderTag   = "alphanum_"
	alphaNumUnderText  = "{0} فقط می‌تواند شامل حروف، اعداد و زیرخط باشد"
	alphaNumUnderRegex = regexp.MustCompile(`^[\w\s]+$`)

	notBlankTag  = "notblank"
	notBlankText = "این فیلد نمی‌تواند خالی باشد"

	nationalIDTag  = "nationalid"
	nationalIDText = "کد ملی معتبر نیست"

	mobileTag   = "irmobile"
	mobileText  = "شماره موبایل معتبر نیست"
	mobileRegex = regexp.MustCompile(`^09\d{9}$`)

	requiredText = "این فیلد الزامی است"

	// persian messages for the built-in tags used across the app
	builtinTexts = map[string]string{
		"required":      requiredText,
		"required_with": requiredText,
		"required_if":   requiredText,
		"email":         "{0} باید یک ایمیل معتبر باشد",
		"min":           "{0} باید حداقل {1} باشد",
		"max":           "{0} باید حداکثر {1} باشد",
		"len":           "{0} باید {1} کاراکتر باشد",
		"gte":           "{0} باید بزرگتر یا مساوی {1} باشد",
		"lte":           "{0} باید کوچکتر یا مساوی {1} باشد",
		"gt":            "{0} باید بزرگتر از {1} باشد",
		"lt":            "{0} باید کوچکتر از {1} باشد",
		"oneof":         "{0} باید یکی از مقادیر [{1}] باشد",
		"eqfield":       "{0} باید با {1} برابر باشد",
		"gtefield":      "{0} باید بزرگتر یا مساوی {1} باشد",
		"uuid":          "{0} باید یک شناسه معتبر باشد",
		"numeric":       "{0} باید عددی باشد",
		"datetime":      "{0} باید با قالب {1} باشد",
		"dive":          "{0} معتبر نیست",
	}
)

// NewValidator returns a validator configured with the app's custom validations and a Persian translator.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	translator := NewTranslator()
	InitValidators(validate, translator)
	return validate, translator
}

// NewTranslator returns the Persian translator used for validation messages.
func NewTranslator() ut.Translator {
	_fa := fa.New()
	uni := ut.New(_fa, _fa)
	translator, _ := uni.GetTranslator("fa")
	return translator
}

// InitValidators instantiates the validator for use.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("json")
		if tag == "" {
			tag = fld.Tag.Get("form")
		}
		name := strings.SplitN(tag, ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	for tag, text := range builtinTexts {
		RegisterCustomTranslation(validate, translator, tag, text, true)
	}

	// register custom validators
	_ = validate.RegisterValidation(alphaNumUnderTag, alphaNumUnderValidation)
	RegisterCustomTranslation(validate, translator, alphaNumUnderTag, alphaNumUnderText)

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	RegisterCustomTranslation(validate, translator, notBlankTag, notBlankText)

	_ = validate.RegisterValidation(nationalIDTag, nationalIDValidation)
	RegisterCustomTranslation(validate, translator, nationalIDTag, nationalIDText)

	_ = validate.RegisterValidation(mobileTag, mobileValidation)
	RegisterCustomTranslation(validate, translator, mobileTag, mobileText)
}

// RegisterCustomTranslation registers a custom translation for the specified validation tag.
// text may reference the field name as {0} and the tag's param as {1}.
func RegisterCustomTranslation(validate *validator.Validate, translator ut.Translator, tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = validate.RegisterTranslation(
		tag, translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field(), fe.Param())
			return s
		},
	)
}

// ValidNationalID checks an Iranian national ID (کد ملی): 10 digits, not all the same, valid check digit.
func ValidNationalID(id string) bool {
	if len(id) != 10 {
		return false
	}
	allSame := true
	digits := make([]int, 10)
	for i, c := range id {
		if c < '0' || c > '9' {
			return false
		}
		digits[i] = int(c - '0')
		if digits[i] != digits[0] {
			allSame = false
		}
	}
	if allSame {
		return false
	}

	var sum int
	for i := 0; i < 9; i++ {
		sum += digits[i] * (10 - i)
	}
	rem := sum % 11
	check := digits[9]
	if rem < 2 {
		return check == rem
	}
	return check == 11-rem
}

// NormalizeMobile converts an Iranian mobile number to the 09xxxxxxxxx form.
// "+989121234567", "00989121234567", "9121234567" and Persian digits are accepted.
func NormalizeMobile(phone string) string {
	phone = CleanDigits(phone)
	phone = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(phone)
	switch {
	case strings.HasPrefix(phone, "+98"):
		phone = "0" + phone[3:]
	case strings.HasPrefix(phone, "0098"):
		phone = "0" + phone[4:]
	case strings.HasPrefix(phone, "98") && len(phone) == 12:
		phone = "0" + phone[2:]
	case strings.HasPrefix(phone, "9") && len(phone) == 10:
		phone = "0" + phone
	}
	return phone
}

// ValidMobile checks a normalized Iranian mobile number.
func ValidMobile(phone string) bool {
	return mobileRegex.MatchString(phone)
}

// Custom Global Validators

// alphaNumUnderValidation only allows alphanumeric characters and underscores.
func alphaNumUnderValidation(fl validator.FieldLevel) bool {
	return alphaNumUnderRegex.MatchString(fl.Field().String())
}

func notBlankValidation(fl validator.FieldLevel) bool {
	if str, ok := fl.Field().Interface().(string); ok {
		return strings.TrimSpace(str) != ""
	}
	return false
}

func nationalIDValidation(fl validator.FieldLevel) bool {
	return ValidNationalID(fl.Field().String())
}

func mobileValidation(fl validator.FieldLevel) bool {
	return ValidMobile(fl.Field().String())
}
