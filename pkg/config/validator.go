package config

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// indexNamePattern accepts lowercase index names usable as a Postgres table suffix,
// a Qdrant collection and a Redis key.
var indexNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9_-]{0,61}[a-z0-9])?$`)

// RegisterCustomValidators registers custom validation functions
func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation("index_name", validateIndexName)
}

func validateIndexName(fl validator.FieldLevel) bool {
	return IsValidIndexName(fl.Field().String())
}

// IsValidIndexName reports whether name is an acceptable vector index name.
func IsValidIndexName(name string) bool {
	return indexNamePattern.MatchString(name)
}
