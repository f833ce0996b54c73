package rules

import (
	"errors"
	"math"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// docType is the CEL type of the `doc` variable every condition receives.
var docType = cel.MapType(cel.StringType, cel.DynType)

// newEnv creates the CEL environment for LC compliance conditions.
// Conditions compose the document builtins below with CEL's own
// operators, e.g.:
//
//	doc.has_field("expiry_place") && doc.equalsIgnoreCase("amount.currency", "USD")
//
// Builtins that consume a field value report an evaluation error when the
// field is missing or malformed; has_field and not_empty simply return false.
//
// The presence check is named has_field rather than exists: CEL reserves
// `exists` (and `has`, `all`, `exists_one`, `map`, `filter`) for its
// comprehension macros, and a function declaration under a macro name makes
// the environment reject every expression.
func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("doc", docType),
		cel.Function("has_field",
			cel.MemberOverload("doc_has_field_string",
				[]*cel.Type{docType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(docHasField))),
		cel.Function("not_empty",
			cel.MemberOverload("doc_not_empty_string",
				[]*cel.Type{docType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(docNotEmpty))),
		cel.Function("equalsIgnoreCase",
			cel.MemberOverload("doc_equals_ignore_case_string_string",
				[]*cel.Type{docType, cel.StringType, cel.StringType}, cel.BoolType,
				cel.FunctionBinding(docEqualsIgnoreCase))),
		cel.Function("contains",
			cel.MemberOverload("doc_contains_string_string",
				[]*cel.Type{docType, cel.StringType, cel.StringType}, cel.BoolType,
				cel.FunctionBinding(docContains))),
		cel.Function("amountGreaterThan",
			cel.MemberOverload("doc_amount_greater_than_string_dyn",
				[]*cel.Type{docType, cel.StringType, cel.DynType}, cel.BoolType,
				cel.FunctionBinding(docAmountGreaterThan))),
		cel.Function("amountLessThan",
			cel.MemberOverload("doc_amount_less_than_string_dyn",
				[]*cel.Type{docType, cel.StringType, cel.DynType}, cel.BoolType,
				cel.FunctionBinding(docAmountLessThan))),
		cel.Function("dateBefore",
			cel.MemberOverload("doc_date_before_string_string",
				[]*cel.Type{docType, cel.StringType, cel.StringType}, cel.BoolType,
				cel.FunctionBinding(docDateBefore))),
		cel.Function("dateAfter",
			cel.MemberOverload("doc_date_after_string_string",
				[]*cel.Type{docType, cel.StringType, cel.StringType}, cel.BoolType,
				cel.FunctionBinding(docDateAfter))),
		cel.Function("dateEquals",
			cel.MemberOverload("doc_date_equals_string_string",
				[]*cel.Type{docType, cel.StringType, cel.StringType}, cel.BoolType,
				cel.FunctionBinding(docDateEquals))),
	)
}

// nativeDoc unwraps the activation's document map.
func nativeDoc(v ref.Val) (map[string]any, bool) {
	m, ok := v.Value().(map[string]any)
	return m, ok
}

func nativeString(v ref.Val) (string, bool) {
	s, ok := v.Value().(string)
	return s, ok
}

func docHasField(lhs, rhs ref.Val) ref.Val {
	doc, ok := nativeDoc(lhs)
	if !ok {
		return types.NewErr("has_field: receiver is not a document")
	}
	path, ok := nativeString(rhs)
	if !ok {
		return types.NewErr("has_field: path must be a string")
	}
	_, found := resolvePath(doc, path)
	return types.Bool(found)
}

func docNotEmpty(lhs, rhs ref.Val) ref.Val {
	doc, ok := nativeDoc(lhs)
	if !ok {
		return types.NewErr("not_empty: receiver is not a document")
	}
	path, ok := nativeString(rhs)
	if !ok {
		return types.NewErr("not_empty: path must be a string")
	}
	v, found := resolvePath(doc, path)
	return types.Bool(found && !isEmpty(v))
}

func docEqualsIgnoreCase(args ...ref.Val) ref.Val {
	doc, path, err := docAndPath("equalsIgnoreCase", args)
	if err != nil {
		return err
	}
	want, ok := nativeString(args[2])
	if !ok {
		return types.NewErr("equalsIgnoreCase: expected value must be a string")
	}
	v, found := resolvePath(doc, path)
	if !found {
		return types.NewErr("equalsIgnoreCase: field %q not found", path)
	}
	text, terr := asText(v)
	if terr != nil {
		return types.NewErr("equalsIgnoreCase: field %q: %v", path, terr)
	}
	return types.Bool(strings.EqualFold(text, want))
}

func docContains(args ...ref.Val) ref.Val {
	doc, path, err := docAndPath("contains", args)
	if err != nil {
		return err
	}
	substr, ok := nativeString(args[2])
	if !ok {
		return types.NewErr("contains: substring must be a string")
	}
	v, found := resolvePath(doc, path)
	if !found {
		return types.NewErr("contains: field %q not found", path)
	}
	text, terr := asText(v)
	if terr != nil {
		return types.NewErr("contains: field %q: %v", path, terr)
	}
	// Case-sensitive by contract; equalsIgnoreCase is the folding builtin.
	return types.Bool(strings.Contains(text, substr))
}

func docAmountGreaterThan(args ...ref.Val) ref.Val {
	return compareAmount("amountGreaterThan", args, func(a, b float64) bool { return a > b })
}

func docAmountLessThan(args ...ref.Val) ref.Val {
	return compareAmount("amountLessThan", args, func(a, b float64) bool { return a < b })
}

func compareAmount(name string, args []ref.Val, cmp func(a, b float64) bool) ref.Val {
	doc, path, err := docAndPath(name, args)
	if err != nil {
		return err
	}
	threshold, terr := thresholdValue(args[2])
	if terr != nil {
		return types.NewErr("%s: %v", name, terr)
	}
	v, found := resolvePath(doc, path)
	if !found {
		return types.NewErr("%s: field %q not found", name, path)
	}
	amount, aerr := asAmount(v)
	if aerr != nil {
		return types.NewErr("%s: field %q: %v", name, path, aerr)
	}
	return types.Bool(cmp(amount, threshold))
}

// thresholdValue accepts the int or double literal a condition supplies.
func thresholdValue(v ref.Val) (float64, error) {
	switch n := v.Value().(type) {
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, errors.New("threshold is not finite")
		}
		return n, nil
	}
	return 0, errors.New("threshold must be numeric")
}

func docDateBefore(args ...ref.Val) ref.Val {
	return compareDates("dateBefore", args, func(sign int) bool { return sign < 0 })
}

func docDateAfter(args ...ref.Val) ref.Val {
	return compareDates("dateAfter", args, func(sign int) bool { return sign > 0 })
}

func docDateEquals(args ...ref.Val) ref.Val {
	return compareDates("dateEquals", args, func(sign int) bool { return sign == 0 })
}

// compareDates resolves the first argument as a document path and the
// second as a path when one matches, otherwise as a date literal.
// cmp receives the sign of comparing the field date against the other date.
func compareDates(name string, args []ref.Val, cmp func(sign int) bool) ref.Val {
	doc, path, err := docAndPath(name, args)
	if err != nil {
		return err
	}
	other, ok := nativeString(args[2])
	if !ok {
		return types.NewErr("%s: second argument must be a string", name)
	}

	v, found := resolvePath(doc, path)
	if !found {
		return types.NewErr("%s: field %q not found", name, path)
	}
	left, lerr := asDate(v)
	if lerr != nil {
		return types.NewErr("%s: field %q: %v", name, path, lerr)
	}

	var rightRaw any = other
	if rv, rfound := resolvePath(doc, other); rfound {
		rightRaw = rv
	}
	right, rerr := asDate(rightRaw)
	if rerr != nil {
		return types.NewErr("%s: %q: %v", name, other, rerr)
	}

	return types.Bool(cmp(left.Compare(right)))
}

func docAndPath(name string, args []ref.Val) (map[string]any, string, ref.Val) {
	doc, ok := nativeDoc(args[0])
	if !ok {
		return nil, "", types.NewErr("%s: receiver is not a document", name)
	}
	path, ok := nativeString(args[1])
	if !ok {
		return nil, "", types.NewErr("%s: path must be a string", name)
	}
	return doc, path, nil
}
