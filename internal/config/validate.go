package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct 按 struct tag 校验任意值（配置与 HTTP 请求体共用）。
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// FieldErrors 校验 v 并展开为 字段 → 提示，供 HTTP 响应使用；通过时返回 nil。
func FieldErrors(v any) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[strings.ToLower(fe.Field())] = fieldMessage(fe)
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	ns := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", ns)
	case "gte", "min":
		return fmt.Sprintf("%s must be >= %s", ns, fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be <= %s", ns, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", ns, fe.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", ns)
	default:
		return fmt.Sprintf("%s is invalid (%s)", ns, fe.Tag())
	}
}
