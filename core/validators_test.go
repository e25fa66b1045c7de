package core

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestValidNationalID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{id: "0499370899", want: true},
		{id: "0012345679", want: true},
		{id: "1234567891", want: true},
		{id: "9876543210", want: true},
		{id: "3334445550", want: true}, // remainder < 2
		{id: "0499370898"},             // bad check digit
		{id: "1111111111"},             // same digits
		{id: "0000000000"},
		{id: "049937089"},   // too short
		{id: "04993708990"}, // too long
		{id: "04993708a9"},
		{id: ""},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := ValidNationalID(tt.id); got != tt.want {
				t.Errorf("ValidNationalID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestNormalizeMobile(t *testing.T) {
	tests := []struct {
		phone string
		want  string
	}{
		{phone: "09121234567", want: "09121234567"},
		{phone: "+989121234567", want: "09121234567"},
		{phone: "00989121234567", want: "09121234567"},
		{phone: "989121234567", want: "09121234567"},
		{phone: "9121234567", want: "09121234567"},
		{phone: "0912 123 4567", want: "09121234567"},
		{phone: "۰۹۱۲۱۲۳۴۵۶۷", want: "09121234567"},
		{phone: "021-1234", want: "0211234"},
	}
	for _, tt := range tests {
		t.Run(tt.phone, func(t *testing.T) {
			got := NormalizeMobile(tt.phone)
			if got != tt.want {
				t.Errorf("NormalizeMobile(%q) = %q, want %q", tt.phone, got, tt.want)
			}
		})
	}
	assert.True(t, ValidMobile("09121234567"))
	assert.False(t, ValidMobile("0211234"))
	assert.False(t, ValidMobile("0912123456"))
}

func TestInitValidators(t *testing.T) {
	validate, translator := NewValidator()

	type person struct {
		NationalID string `json:"national_id" validate:"required,nationalid"`
		Phone      string `json:"phone" validate:"required,irmobile"`
		Name       string `json:"name" validate:"notblank"`
		Code       string `json:"code" validate:"omitempty,alphanum_"`
		Grade      int    `json:"grade" validate:"gte=1,lte=12"`
	}

	err := validate.Struct(person{NationalID: "0499370899", Phone: "09121234567", Name: "علی", Code: "a_1", Grade: 7})
	assert.NoError(t, err)

	err = validate.Struct(person{NationalID: "1111111111", Phone: "0912", Name: "  ", Code: "a-b", Grade: 13})
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		t.Fatalf("validate.Struct() error = %T; want validator.ValidationErrors", err)
	}

	got := make(map[string]string, len(vErrs))
	for _, fe := range vErrs {
		got[fe.Field()] = fe.Translate(translator)
	}
	want := map[string]string{
		"national_id": nationalIDText,
		"phone":       mobileText,
		"name":        notBlankText,
		"code":        "code فقط می‌تواند شامل حروف، اعداد و زیرخط باشد",
		"grade":       "grade باید کوچکتر یا مساوی 12 باشد",
	}
	assert.Equal(t, want, got)
}

func TestCleanDigits(t *testing.T) {
	assert.Equal(t, "0123456789", CleanDigits(" ۰۱۲۳۴۵۶۷۸۹ "))
	assert.Equal(t, "0123456789", CleanDigits("٠١٢٣٤٥٦٧٨٩"))
}
