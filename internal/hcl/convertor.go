package hcl

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/specialistvlad/ensembletrack/internal/ctxlog"
)

// decodeExpr evaluates an optional expression and stores the result in the
// Go value target points to. An omitted or null expression leaves target
// untouched.
func decodeExpr(ctx context.Context, expr hcl.Expression, evalCtx *hcl.EvalContext, target any, name string) error {
	if !isExprDefined(expr) {
		return nil
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return fmt.Errorf("%s: %w", name, diags)
	}
	if val.IsNull() {
		return nil
	}

	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Ptr || ptr.IsNil() {
		return fmt.Errorf("%s: target for decoding must be a non-nil pointer, got %T", name, target)
	}
	impliedType, err := gocty.ImpliedType(ptr.Elem().Interface())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	converted, err := convert.Convert(val, impliedType)
	if err != nil {
		return fmt.Errorf("%s: cannot convert %s to %s: %w", name, val.Type().FriendlyName(), impliedType.FriendlyName(), err)
	}
	if !val.Type().Equals(converted.Type()) {
		ctxlog.FromContext(ctx).Debug("Implicitly converted value type.",
			"attribute", name,
			"from", val.Type().FriendlyName(),
			"to", converted.Type().FriendlyName(),
		)
	}
	if err := gocty.FromCtyValue(converted, target); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// isExprDefined reports whether an optional attribute was written in the
// source. gohcl fills omitted attributes with a zero-width expression, so a
// nil check is not enough.
func isExprDefined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	return r.End.Byte > r.Start.Byte
}
