package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/opensource-finance/osprey-verify/internal/domain"
)

const maxBodyBytes = 1 << 20

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bind decodes a form or JSON body into dst and validates it.
// Blank fields count as absent.
func (h *Handler) bind(r *http.Request, dst any) error {
	values, err := requestValues(r)
	if err != nil {
		return domain.NewValidationError("", "malformed request body", err)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "form",
		Result:           dst,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(values); err != nil {
		return domain.NewValidationError("", err.Error(), nil)
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domain.NewValidationError(verrs[0].Field(), describe(verrs[0]), nil)
		}
		return domain.NewValidationError("", err.Error(), nil)
	}
	return nil
}

func requestValues(r *http.Request) (map[string]any, error) {
	values := make(map[string]any)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return values, nil
		}
		if err := json.Unmarshal(body, &values); err != nil {
			return nil, err
		}
		for k, v := range values {
			if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
				delete(values, k)
			}
		}
		return values, nil
	}

	if err := r.ParseMultipartForm(maxBodyBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, err
	}
	for k, vs := range r.Form {
		if len(vs) > 0 && strings.TrimSpace(vs[0]) != "" {
			values[k] = strings.TrimSpace(vs[0])
		}
	}
	return values, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return "is invalid"
	}
}
