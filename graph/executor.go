package graph

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/shopspring/decimal"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed schema.graphqls
var sourceSchema string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: sourceSchema, BuiltIn: false})

// fieldFunc resolves one field of obj. Plain struct reads and service calls share the signature.
type fieldFunc func(ctx context.Context, obj any, args map[string]any) (any, error)

type field struct {
	resolve fieldFunc
	// resolver fields call the service or a loader and run through the field middleware
	resolver bool
}

type objectFields map[string]field

type executableSchema struct {
	resolver *Resolver
	objects  map[string]objectFields
}

func NewExecutableSchema(resolver *Resolver) graphql.ExecutableSchema {
	return &executableSchema{resolver: resolver, objects: resolver.objects()}
}

func (e *executableSchema) Schema() *ast.Schema {
	return parsedSchema
}

func (e *executableSchema) Complexity(typeName, fieldName string, childComplexity int, args map[string]interface{}) (int, bool) {
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)
	ec := &executionContext{OperationContext: opCtx, schema: e}

	var root string
	switch opCtx.Operation.Operation {
	case ast.Query:
		root = "Query"
	case ast.Mutation:
		root = "Mutation"
	default:
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported GraphQL operation"))
	}

	first := true
	return func(ctx context.Context) *graphql.Response {
		if !first {
			return nil
		}
		first = false
		// mutations run their root fields one after another
		data := ec.executeObject(ctx, root, opCtx.Operation.SelectionSet, e.resolver, false)
		var buf bytes.Buffer
		data.MarshalGQL(&buf)
		return &graphql.Response{Data: buf.Bytes()}
	}
}

type executionContext struct {
	*graphql.OperationContext
	schema *executableSchema
}

func (ec *executionContext) executeObject(ctx context.Context, typeName string, sel ast.SelectionSet, obj any, concurrent bool) graphql.Marshaler {
	fields := graphql.CollectFields(ec.OperationContext, sel, []string{typeName})
	out := graphql.NewFieldSet(fields)
	if !concurrent {
		for i, f := range fields {
			out.Values[i] = ec.executeField(ctx, typeName, obj, f)
		}
		return out
	}
	var wg sync.WaitGroup
	for i, f := range fields {
		wg.Add(1)
		go func(i int, f graphql.CollectedField) {
			defer wg.Done()
			out.Values[i] = ec.executeField(ctx, typeName, obj, f)
		}(i, f)
	}
	wg.Wait()
	return out
}

func (ec *executionContext) executeField(ctx context.Context, typeName string, obj any, f graphql.CollectedField) (ret graphql.Marshaler) {
	switch f.Name {
	case "__typename":
		return graphql.MarshalString(typeName)
	case "__schema", "__type":
		graphql.AddError(ctx, errors.New("introspection disabled"))
		return graphql.Null
	}
	def, ok := ec.schema.objects[typeName][f.Name]
	if !ok {
		graphql.AddError(ctx, fmt.Errorf("%s.%s has no resolver", typeName, f.Name))
		return graphql.Null
	}

	args := f.ArgumentMap(ec.Variables)
	fc := &graphql.FieldContext{
		Object:     typeName,
		Field:      f,
		Args:       args,
		IsMethod:   def.resolver,
		IsResolver: def.resolver,
	}
	ctx = graphql.WithFieldContext(ctx, fc)
	defer func() {
		if r := recover(); r != nil {
			graphql.AddError(ctx, ec.Recover(ctx, r))
			ret = graphql.Null
		}
	}()

	var res any
	var err error
	if def.resolver {
		res, err = ec.ResolverMiddleware(ctx, func(rctx context.Context) (any, error) {
			return def.resolve(rctx, obj, args)
		})
	} else {
		res, err = def.resolve(ctx, obj, args)
	}
	if err != nil {
		graphql.AddError(ctx, err)
		return graphql.Null
	}
	fc.Result = res
	return ec.complete(ctx, f.Definition.Type, f.Selections, res)
}

// complete turns a resolved Go value into the marshaler for its GraphQL type.
func (ec *executionContext) complete(ctx context.Context, typ *ast.Type, sel ast.SelectionSet, v any) graphql.Marshaler {
	if typ.Elem != nil {
		if v == nil {
			return graphql.Null
		}
		return ec.completeList(ctx, typ.Elem, sel, v)
	}
	if isNil(v) {
		return graphql.Null
	}
	switch typ.NamedType {
	case "ID", "String":
		return graphql.MarshalString(reflect.ValueOf(v).String())
	case "Int":
		return graphql.MarshalInt(int(reflect.ValueOf(v).Int()))
	case "Boolean":
		return graphql.MarshalBoolean(reflect.ValueOf(v).Bool())
	case "Time":
		switch t := v.(type) {
		case time.Time:
			return graphql.MarshalTime(t)
		case *time.Time:
			return graphql.MarshalTime(*t)
		}
	case "Decimal":
		if d, ok := v.(decimal.Decimal); ok {
			return MarshalDecimal(d)
		}
	}
	def := parsedSchema.Types[typ.NamedType]
	if def != nil && def.Kind == ast.Enum {
		return graphql.MarshalString(reflect.ValueOf(v).String())
	}
	if def != nil && def.Kind == ast.Object {
		return ec.executeObject(ctx, typ.NamedType, sel, v, false)
	}
	graphql.AddError(ctx, fmt.Errorf("cannot marshal %T as %s", v, typ.NamedType))
	return graphql.Null
}

// completeList resolves list elements concurrently so loader lookups from sibling
// elements land in the same batch.
func (ec *executionContext) completeList(ctx context.Context, elem *ast.Type, sel ast.SelectionSet, v any) graphql.Marshaler {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		graphql.AddError(ctx, fmt.Errorf("expected a list, got %T", v))
		return graphql.Null
	}
	out := make(graphql.Array, rv.Len())
	var wg sync.WaitGroup
	for i := 0; i < rv.Len(); i++ {
		item := elementValue(rv.Index(i))
		wg.Add(1)
		go func(i int, item any) {
			defer wg.Done()
			idx := i
			fc := &graphql.FieldContext{Index: &idx, Result: item}
			ictx := graphql.WithFieldContext(ctx, fc)
			defer func() {
				if r := recover(); r != nil {
					graphql.AddError(ictx, ec.Recover(ictx, r))
					out[i] = graphql.Null
				}
			}()
			out[i] = ec.complete(ictx, elem, sel, item)
		}(i, item)
	}
	wg.Wait()
	return out
}

// elementValue hands struct elements to resolvers by pointer, like the single-object paths.
func elementValue(v reflect.Value) any {
	if v.Kind() == reflect.Struct && v.CanAddr() {
		return v.Addr().Interface()
	}
	return v.Interface()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
