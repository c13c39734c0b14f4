package graph

import (
	"context"
	"errors"

	"github.com/99designs/gqlgen/graphql"
	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/mmdatafocus/ims_backend/models"
	"github.com/mmdatafocus/ims_backend/workflow"
	"github.com/ravilushqa/otelgqlgen"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Resolver is the root of every query and mutation. Service is set once startup finishes.
type Resolver struct {
	Service *workflow.StockService
}

func (r *Resolver) service() (*workflow.StockService, error) {
	if r.Service == nil {
		return nil, errors.New("service not ready (stock service not initialized)")
	}
	return r.Service, nil
}

// NewHandler serves the schema over POST with one span per resolver field.
func NewHandler(resolver *Resolver) *handler.Server {
	srv := handler.New(NewExecutableSchema(resolver))
	srv.AddTransport(transport.POST{})
	srv.Use(otelgqlgen.Middleware())
	srv.SetErrorPresenter(presentError)
	return srv
}

// presentError adds the stock error kind so clients can branch on it like the REST API's "kind".
func presentError(ctx context.Context, err error) *gqlerror.Error {
	gqlErr := graphql.DefaultErrorPresenter(ctx, err)
	kind := models.KindOf(err)
	if kind == "" {
		return gqlErr
	}
	if gqlErr.Extensions == nil {
		gqlErr.Extensions = map[string]interface{}{}
	}
	gqlErr.Extensions["code"] = string(kind)
	gqlErr.Extensions["retryable"] = models.IsRetryable(err)
	return gqlErr
}
