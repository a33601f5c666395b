package workflow

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var workflowSchemaDocument string

const (
	schemaCheckErrorTemplateConstant = "unable to check workflow configuration against schema: %w"
	schemaMessageSeparatorConstant   = "; "
)

var workflowSchemaLoader = gojsonschema.NewStringLoader(workflowSchemaDocument)

// SchemaError lists every schema violation found in a workflow document.
type SchemaError struct {
	Violations []string
}

// Error joins the violations.
func (schemaError SchemaError) Error() string {
	return fmt.Sprintf("workflow configuration does not match schema: %s", strings.Join(schemaError.Violations, schemaMessageSeparatorConstant))
}

func validateDocument(document map[string]any) error {
	result, validationError := gojsonschema.Validate(workflowSchemaLoader, gojsonschema.NewGoLoader(document))
	if validationError != nil {
		return fmt.Errorf(schemaCheckErrorTemplateConstant, validationError)
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, resultError := range result.Errors() {
		violations = append(violations, resultError.String())
	}
	return SchemaError{Violations: violations}
}
