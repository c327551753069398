package validator

import (
	"errors"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// topicPattern matches the topic names accepted by a Coop server.
var topicPattern = regexp.MustCompile(`^[-_A-Za-z0-9]{1,64}$`)

// Validator is a struct that provides methods for struct validation using the underlying validator library.
type Validator struct {
	cli *validator.Validate
}

// ValidationError represents an error encountered during validation of a struct field.
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Message
}

func (v *Validator) formatError(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.StructField(),
			Tag:     fe.Tag(),
			Message: fe.Error(),
		})
	}
	return out
}

// ValidateStruct validates the provided struct using the underlying validator and returns a slice of validation errors.
func (v *Validator) ValidateStruct(s any) []ValidationError {
	err := v.cli.Struct(s)
	if err != nil {
		return v.formatError(err)
	}
	return nil
}

// Validate checks the provided value against the specified validation tags and returns a slice of validation errors.
func (v *Validator) Validate(value any, tag string) []ValidationError {
	err := v.cli.Var(value, tag)
	if err != nil {
		return v.formatError(err)
	}
	return nil
}

// ValidTopic reports whether topic is a syntactically valid topic name.
func (v *Validator) ValidTopic(topic string) bool {
	return len(v.Validate(topic, "required,topic")) == 0
}

// ValidBaseURL reports whether baseURL is an absolute http(s) URL.
func (v *Validator) ValidBaseURL(baseURL string) bool {
	return len(v.Validate(baseURL, "required,http_url")) == 0
}

// New initializes and returns a new instance of the Validator
func New() *Validator {
	cli := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails on an empty tag or nil func.
	_ = cli.RegisterValidation("topic", func(fl validator.FieldLevel) bool {
		return topicPattern.MatchString(fl.Field().String())
	})
	return &Validator{
		cli: cli,
	}
}
