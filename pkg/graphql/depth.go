package graphql

import (
	"fmt"
	"strings"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// DefaultMaxDepth covers every legitimate query of the status schema
const DefaultMaxDepth = 4

// calculateQueryDepth returns the deepest selection nesting of any operation
func calculateQueryDepth(document *ast.Document) int {
	maxDepth := 0
	for _, definition := range document.Definitions {
		if def, ok := definition.(*ast.OperationDefinition); ok {
			maxDepth = max(maxDepth, selectionSetDepth(def.SelectionSet, 1))
		}
	}
	return maxDepth
}

func selectionSetDepth(selectionSet *ast.SelectionSet, currentDepth int) int {
	if selectionSet == nil || len(selectionSet.Selections) == 0 {
		return currentDepth - 1
	}

	maxDepth := currentDepth
	for _, selection := range selectionSet.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			if strings.HasPrefix(sel.Name.Value, "__") {
				continue
			}
			maxDepth = max(maxDepth, selectionSetDepth(sel.SelectionSet, currentDepth+1))
		case *ast.InlineFragment:
			maxDepth = max(maxDepth, selectionSetDepth(sel.SelectionSet, currentDepth))
		case *ast.FragmentSpread:
			// Fragment bodies are not resolved here
			maxDepth = max(maxDepth, currentDepth+1)
		}
	}
	return maxDepth
}

// ValidateQueryDepth rejects queries nested deeper than maxDepth
func ValidateQueryDepth(query string, maxDepth int) error {
	document, err := parser.Parse(parser.ParseParams{
		Source: query,
	})
	if err != nil {
		return fmt.Errorf("failed to parse query: %w", err)
	}

	if depth := calculateQueryDepth(document); depth > maxDepth {
		return fmt.Errorf("query depth %d exceeds maximum allowed depth %d", depth, maxDepth)
	}
	return nil
}

// ExecuteWithDepthLimit validates the query depth and then executes it
func ExecuteWithDepthLimit(schema graphql.Schema, query string, maxDepth int, variables map[string]any) *graphql.Result {
	if err := ValidateQueryDepth(query, maxDepth); err != nil {
		return &graphql.Result{
			Errors: []gqlerrors.FormattedError{
				gqlerrors.FormatError(err),
			},
		}
	}

	params := graphql.Params{
		Schema:        schema,
		RequestString: query,
	}
	if variables != nil {
		params.VariableValues = variables
	}

	return graphql.Do(params)
}
