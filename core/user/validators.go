package user

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/sayghamsari/daftarrabet/core"
	appfs "github.com/sayghamsari/daftarrabet/fs"
)

var (
	allRolesTag  = "allroles"
	allRolesText = "نقش‌های انتخاب‌شده معتبر نیستند"

	// password policy
	pwdMinLen     = 8
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("رمز عبور باید حداقل %d کاراکتر باشد", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "رمز عبور نباید فاصله داشته باشد"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "رمز عبور نمی‌تواند فقط عدد باشد"

	pwdComplexityTag  = "pwdcplx"
	pwdComplexityText = "رمز عبور باید حداقل یک حرف بزرگ، یک حرف کوچک، یک عدد و یک نماد داشته باشد"
	specialRegex      = regexp.MustCompile("[^A-Za-z0-9]")

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "رمز عبور نباید شبیه اطلاعات کاربر باشد"

	pwdNoCommonTag  = "pwdnocommon"
	pwdNoCommonText = "رمز عبور بیش از حد رایج است"

	commonPasswordsPath = "assets/common-passwords.txt.gz"
	commonPasswords     []string
	loadPasswordsOnce   sync.Once
)

// InitValidators registers the user validations & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(allRolesTag, allRolesValidation)
	core.RegisterCustomTranslation(validate, translator, allRolesTag, allRolesText)

	validate.RegisterStructValidation(userStructValidation, NewUser{}, UpdateUser{}, NewRegistration{}, ResetUserPassword{})
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, pwdComplexityTag, pwdComplexityText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
	core.RegisterCustomTranslation(validate, translator, pwdNoCommonTag, pwdNoCommonText)
}

// LoadCommonPasswords reads the embedded common passwords list once.
func LoadCommonPasswords(logger core.Logger) {
	loadPasswordsOnce.Do(func() {
		if err := loadCommonPasswords(); err != nil {
			logger.Error(fmt.Sprintf("loading common passwords: %v", err), err)
		}
	})
}

func loadCommonPasswords() error {
	file, err := appfs.FS.Open(commonPasswordsPath)
	if err != nil {
		return errors.Wrap(err, "opening common passwords")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer file.Close()

	gzRdr, err := gzip.NewReader(file)
	if err != nil {
		return errors.Wrap(err, "reading gzip")
	}
	pwds := make([]string, 0, 20000)
	scanner := bufio.NewScanner(gzRdr)
	for scanner.Scan() {
		if pwd := strings.TrimSpace(scanner.Text()); pwd != "" {
			pwds = append(pwds, strings.ToLower(pwd))
		}
	}
	if err = scanner.Err(); err != nil {
		return errors.Wrap(err, "scanning common passwords")
	}
	sort.Strings(pwds)
	commonPasswords = pwds
	return nil
}

// Custom Validators

// allRolesValidation checks that provided user roles are all known roles
func allRolesValidation(fl validator.FieldLevel) bool {
	if roles, ok := fl.Field().Interface().([]string); ok {
		for _, role := range roles {
			if !IsValidRole(role) {
				return false
			}
		}
		return true
	}
	return false
}

// userStructValidation applies the password policy on the structs carrying a new password.
func userStructValidation(sl validator.StructLevel) {
	switch usr := sl.Current().Interface().(type) {
	case NewUser:
		validatePassword(usr.Password, sl, usr.Name, usr.NationalID, usr.Phone, usr.Email)
	case NewRegistration:
		validatePassword(usr.Password, sl, usr.Name, usr.NationalID, usr.Phone, usr.Email)
	case UpdateUser:
		if usr.Password != "" {
			validatePassword(usr.Password, sl, usr.Name, usr.NationalID, usr.Phone, usr.Email)
		}
	case ResetUserPassword:
		if usr.Password != "" {
			validatePassword(usr.Password, sl)
		}
	}
}

// validatePassword applies the password policy to provided password:
// - minLen: 8
// - no whitespace
// - no all numeric
// - complexity: 1 upper, 1 lower, 1 digit, 1 special
// - no user attrs similarity
// - no common password
func validatePassword(pwd string, sl validator.StructLevel, userAttrs ...string) {
	if tag := checkPassword(pwd, userAttrs...); tag != "" {
		sl.ReportError(pwd, "password", "Password", tag, "")
	}
}

// checkPassword returns the tag of the first broken rule, or "".
func checkPassword(pwd string, userAttrs ...string) string {
	var (
		digitCount                             int
		hasUpper, hasLower, hasDig, hasSpecial bool
	)

	// - minLen: 8
	runes := []rune(pwd)
	if len(runes) < pwdMinLen {
		return pwdMinLenTag
	}
	for _, char := range runes {
		// - no whitespace
		if unicode.IsSpace(char) {
			return pwdNoSpaceTag
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
		if !hasUpper && unicode.IsUpper(char) {
			hasUpper = true
		}
		if !hasLower && unicode.IsLower(char) {
			hasLower = true
		}
	}

	// - not all numeric
	if digitCount == len(runes) {
		return pwdNotAllNumTag
	}

	// - complexity: 1 upper, 1 lower, 1 digit & 1 special
	hasDig = digitCount > 0
	hasSpecial = specialRegex.MatchString(pwd)
	if !(hasUpper && hasLower && hasDig && hasSpecial) {
		return pwdComplexityTag
	}

	// - no user attrs similarity
	lpwd := strings.ToLower(pwd)
	for _, attr := range userAttrs {
		if attr == "" {
			continue
		}
		attr = strings.ToLower(attr)
		ratio := difflib.NewMatcher(strings.Split(lpwd, ""), strings.Split(attr, "")).QuickRatio()
		if ratio >= pwdMaxSim {
			return pwdAttrSimTag
		}
	}

	// - no common passwords
	if idx := sort.SearchStrings(commonPasswords, lpwd); idx < len(commonPasswords) {
		if commonPasswords[idx] == lpwd {
			return pwdNoCommonTag
		}
	}
	return ""
}
