package utils

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"
)

var (
	indianMobileRegex = regexp.MustCompile(`^[6-9]\d{9}$`)
	pincodeRegex      = regexp.MustCompile(`^\d{6}$`)
	aadharRegex       = regexp.MustCompile(`^\d{12}$`)
	panRegex          = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// NormalizeKey is how names and colors are compared: trimmed and lower-cased.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err
	}
	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}
	return nil
}

// ValidateIndianMobile accepts a bare 10 digit mobile number starting 6-9.
func ValidateIndianMobile(phone string) error {
	phone = strings.TrimSpace(phone)
	if !indianMobileRegex.MatchString(phone) {
		return errors.New("mobile number must be 10 digits starting with 6-9")
	}
	return ValidatePhoneNumber(phone, "IN")
}

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("in_mobile", func(fl validator.FieldLevel) bool {
			return ValidateIndianMobile(fl.Field().String()) == nil
		})
		_ = validate.RegisterValidation("pincode", func(fl validator.FieldLevel) bool {
			return pincodeRegex.MatchString(strings.TrimSpace(fl.Field().String()))
		})
		_ = validate.RegisterValidation("aadhar", func(fl validator.FieldLevel) bool {
			return aadharRegex.MatchString(strings.TrimSpace(fl.Field().String()))
		})
		_ = validate.RegisterValidation("pan", func(fl validator.FieldLevel) bool {
			return panRegex.MatchString(strings.ToUpper(strings.TrimSpace(fl.Field().String())))
		})
	})
	return validate
}

// ValidateStruct runs the struct's `validate` tags and flattens failures into one error.
func ValidateStruct(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	fields := ProcessValidationErrors(validationErrors)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, fields[k]))
	}
	return errors.New(strings.Join(parts, ", "))
}

func ProcessValidationErrors(validationErrors validator.ValidationErrors) map[string]string {
	errorResponse := make(map[string]string)
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}
