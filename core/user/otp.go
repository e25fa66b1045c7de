package user

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
)

var (
	generateCodeFunc = generateCode // mockable

	// errors
	ErrOTPNotFound = errors.New("otp not found")

	errOTPInvalid         = "کد تایید نادرست است"
	errOTPExpired         = "کد تایید منقضی شده است؛ دوباره درخواست دهید"
	errOTPTooManyAttempts = "تعداد تلاش‌ها بیش از حد مجاز است؛ دوباره درخواست دهید"
)

// OTP is a one-time code sent by SMS to prove ownership of a phone number. Only the code's HMAC is stored.
type OTP struct {
	Phone     string
	CodeHash  string
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (o OTP) expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

type OTPRepository interface {
	// SaveOTP replaces any code previously issued for otp.Phone.
	SaveOTP(ctx context.Context, otp OTP, exec ...core.DBExecutor) error
	GetOTP(ctx context.Context, phone string, exec ...core.DBExecutor) (OTP, error)
	IncrementOTPAttempts(ctx context.Context, phone string, exec ...core.DBExecutor) error
	DeleteOTP(ctx context.Context, phone string, exec ...core.DBExecutor) error
}

// generateCode returns a random numeric code of the given length.
func generateCode(length int) (string, error) {
	code := make([]byte, length)
	ten := big.NewInt(10)
	for i := range code {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}

func hashOTP(secretKey, phone, code string) string {
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write([]byte(phone + ":" + code))
	return hex.EncodeToString(h.Sum(nil))
}

// RequestOTP generates a fresh code for phone and sends it by SMS.
func (svc *Service) RequestOTP(ctx context.Context, phone string) error {
	phone = core.NormalizeMobile(phone)
	if !core.ValidMobile(phone) {
		return core.NewFieldError("phone", "شماره موبایل معتبر نیست")
	}

	code, err := generateCodeFunc(svc.conf.OTP.Length)
	if err != nil {
		return errors.Wrap(err, "generating code")
	}
	now := core.Now()
	otp := OTP{
		Phone:     phone,
		CodeHash:  hashOTP(svc.conf.SecretKey, phone, code),
		ExpiresAt: now.Add(svc.conf.OTP.TTL),
		CreatedAt: now,
	}
	if err = svc.otps.SaveOTP(ctx, otp); err != nil {
		return errors.Wrap(err, "saving otp")
	}

	svc.smsSvc.SendMessages(&core.SMSMessage{
		To:           []string{phone},
		TemplateName: "otp",
		TemplateData: map[string]interface{}{
			"Code":    code,
			"Minutes": int(svc.conf.OTP.TTL.Minutes()),
		},
	})
	return nil
}

// verifyOTP checks code against the last code issued for phone and consumes it on success.
func (svc *Service) verifyOTP(ctx context.Context, phone, code string) error {
	otp, err := svc.otps.GetOTP(ctx, phone)
	if err != nil {
		if errors.Cause(err) == ErrOTPNotFound {
			return core.NewFieldError("code", errOTPInvalid)
		}
		return errors.Wrap(err, "getting otp")
	}

	if otp.expired(core.Now()) {
		if err = svc.otps.DeleteOTP(ctx, phone); err != nil {
			return errors.Wrap(err, "deleting otp")
		}
		return core.NewFieldError("code", errOTPExpired)
	}
	if otp.Attempts >= svc.conf.OTP.MaxAttempts {
		return core.NewFieldError("code", errOTPTooManyAttempts)
	}

	if !hmac.Equal([]byte(otp.CodeHash), []byte(hashOTP(svc.conf.SecretKey, phone, code))) {
		if err = svc.otps.IncrementOTPAttempts(ctx, phone); err != nil {
			return errors.Wrap(err, "incrementing otp attempts")
		}
		return core.NewFieldError("code", errOTPInvalid)
	}

	// single use
	return errors.Wrap(svc.otps.DeleteOTP(ctx, phone), "deleting otp")
}
