package graph

import (
	"context"

	"github.com/mmdatafocus/ims_backend/middlewares"
	"github.com/mmdatafocus/ims_backend/models"
)

// read exposes a plain value of T.
func read[T any](get func(obj *T) any) field {
	return field{resolve: func(_ context.Context, obj any, _ map[string]any) (any, error) {
		return get(obj.(*T)), nil
	}}
}

// resolve exposes a field that calls the service or a loader.
func resolve[T any](fn func(ctx context.Context, obj *T, args map[string]any) (any, error)) field {
	return field{resolver: true, resolve: func(ctx context.Context, obj any, args map[string]any) (any, error) {
		return fn(ctx, obj.(*T), args)
	}}
}

func nonEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func idArg(args map[string]any) string {
	id, _ := args["id"].(string)
	return id
}

func (r *Resolver) objects() map[string]objectFields {
	return map[string]objectFields{
		"Query":        r.queryFields(),
		"Mutation":     r.mutationFields(),
		"Branch":       branchFields(),
		"Vehicle":      vehicleFields(),
		"Variant":      variantFields(),
		"LedgerEntry":  ledgerEntryFields(),
		"StockHolding": stockHoldingFields(),
		"Customer":     customerFields(),
		"Order":        orderFields(),
		"Incoming":     incomingFields(),
	}
}

func (r *Resolver) queryFields() objectFields {
	return objectFields{
		"branches": resolve(func(ctx context.Context, _ *Resolver, _ map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			return svc.ListBranches(ctx)
		}),
		"vehicles": resolve(func(ctx context.Context, _ *Resolver, args map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			branchId, _ := args["branchId"].(string)
			return svc.ListVehicles(ctx, branchId)
		}),
		"order": resolve(func(ctx context.Context, _ *Resolver, args map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			return svc.GetOrder(ctx, idArg(args))
		}),
		"orders": resolve(func(ctx context.Context, _ *Resolver, args map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			in, err := decodeArg[orderFilterInput](args, "filter")
			if err != nil {
				return nil, err
			}
			filter, err := in.toModel()
			if err != nil {
				return nil, err
			}
			return svc.ListOrders(ctx, filter)
		}),
		"incoming": resolve(func(ctx context.Context, _ *Resolver, args map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			return svc.GetIncoming(ctx, idArg(args))
		}),
		"incomingRecords": resolve(func(ctx context.Context, _ *Resolver, args map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			in, err := decodeArg[incomingFilterInput](args, "filter")
			if err != nil {
				return nil, err
			}
			filter, err := in.toModel()
			if err != nil {
				return nil, err
			}
			return svc.ListIncoming(ctx, filter)
		}),
	}
}

func (r *Resolver) mutationFields() objectFields {
	return objectFields{
		"createOrder": resolve(func(ctx context.Context, _ *Resolver, args map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			in, err := decodeArg[newOrderInput](args, "input")
			if err != nil {
				return nil, err
			}
			input, err := in.toModel()
			if err != nil {
				return nil, err
			}
			return svc.CreateOrder(ctx, input)
		}),
		"updateOrder": resolve(func(ctx context.Context, _ *Resolver, args map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			in, err := decodeArg[orderChangesInput](args, "input")
			if err != nil {
				return nil, err
			}
			update, err := in.toModel()
			if err != nil {
				return nil, err
			}
			return svc.UpdateOrder(ctx, idArg(args), update)
		}),
		"setOrderStatus": resolve(func(ctx context.Context, _ *Resolver, args map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			raw, _ := args["status"].(string)
			status, err := models.ParseOrderStatus(raw)
			if err != nil {
				return nil, invalidArg(err)
			}
			return svc.SetOrderStatus(ctx, idArg(args), status)
		}),
		"setFinanceStatus": resolve(func(ctx context.Context, _ *Resolver, args map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			raw, _ := args["status"].(string)
			status, err := models.ParseFinanceStatus(raw)
			if err != nil {
				return nil, invalidArg(err)
			}
			return svc.SetFinanceStatus(ctx, idArg(args), status)
		}),
		"deleteOrder": resolve(func(ctx context.Context, _ *Resolver, args map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			if err := svc.DeleteOrder(ctx, idArg(args)); err != nil {
				return nil, err
			}
			return true, nil
		}),
		"createIncoming": resolve(func(ctx context.Context, _ *Resolver, args map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			in, err := decodeArg[newIncomingInput](args, "input")
			if err != nil {
				return nil, err
			}
			input, err := in.toModel()
			if err != nil {
				return nil, err
			}
			return svc.CreateIncoming(ctx, input)
		}),
		"updateIncoming": resolve(func(ctx context.Context, _ *Resolver, args map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			in, err := decodeArg[incomingChangesInput](args, "input")
			if err != nil {
				return nil, err
			}
			update, err := in.toModel()
			if err != nil {
				return nil, err
			}
			return svc.UpdateIncoming(ctx, idArg(args), update)
		}),
		"transitionIncoming": resolve(func(ctx context.Context, _ *Resolver, args map[string]any) (any, error) {
			svc, err := r.service()
			if err != nil {
				return nil, err
			}
			raw, _ := args["status"].(string)
			status, err := models.ParseIncomingStatus(raw)
			if err != nil {
				return nil, invalidArg(err)
			}
			var payment models.PaymentStatus
			if raw, ok := args["payment"].(string); ok && raw != "" {
				if payment, err = models.ParsePaymentStatus(raw); err != nil {
					return nil, invalidArg(err)
				}
			}
			return svc.TransitionIncoming(ctx, idArg(args), status, payment)
		}),
	}
}

func branchFields() objectFields {
	return objectFields{
		"id":       read(func(b *models.Branch) any { return b.ID }),
		"name":     read(func(b *models.Branch) any { return b.Name }),
		"location": read(func(b *models.Branch) any { return b.Location }),
		"contact":  read(func(b *models.Branch) any { return b.Contact }),
	}
}

func vehicleFields() objectFields {
	return objectFields{
		"id":       read(func(v *models.Vehicle) any { return v.ID }),
		"branchId": read(func(v *models.Vehicle) any { return v.BranchId }),
		"brand":    read(func(v *models.Vehicle) any { return v.Brand }),
		"model":    read(func(v *models.Vehicle) any { return v.Model }),
		"variants": read(func(v *models.Vehicle) any { return v.Variants }),
		"branch": resolve(func(ctx context.Context, v *models.Vehicle, _ map[string]any) (any, error) {
			return middlewares.GetBranch(ctx, v.BranchId)
		}),
	}
}

func variantFields() objectFields {
	return objectFields{
		"id":           read(func(v *models.Variant) any { return v.ID }),
		"name":         read(func(v *models.Variant) any { return v.Name }),
		"type":         read(func(v *models.Variant) any { return v.Type }),
		"engine":       read(func(v *models.Variant) any { return v.Engine }),
		"transmission": read(func(v *models.Variant) any { return v.Transmission }),
		"fuel":         read(func(v *models.Variant) any { return v.Fuel }),
		"seating":      read(func(v *models.Variant) any { return v.Seating }),
		"features": read(func(v *models.Variant) any {
			if v.Features == nil {
				return []string{}
			}
			return v.Features
		}),
		"price":  read(func(v *models.Variant) any { return v.Price }),
		"colors": read(func(v *models.Variant) any { return v.Colors }),
	}
}

func ledgerEntryFields() objectFields {
	return objectFields{
		"id":           read(func(c *models.ColorStock) any { return c.ID }),
		"color":        read(func(c *models.ColorStock) any { return c.Color }),
		"stock":        read(func(c *models.ColorStock) any { return c.Stock }),
		"blockedCount": read(func(c *models.ColorStock) any { return c.BlockedCount }),
		"available":    read(func(c *models.ColorStock) any { return c.Available() }),
		"version":      read(func(c *models.ColorStock) any { return c.Version }),
	}
}

func stockHoldingFields() objectFields {
	return objectFields{
		"id":        read(func(s *models.StockRef) any { return nonEmpty(s.Id) }),
		"stock":     read(func(s *models.StockRef) any { return s.Stock }),
		"available": read(func(s *models.StockRef) any { return s.Available }),
	}
}

// aadhar and pan stay out of the graph
func customerFields() objectFields {
	return objectFields{
		"name":    read(func(c *models.CustomerDetails) any { return c.Name }),
		"phone":   read(func(c *models.CustomerDetails) any { return c.Phone }),
		"email":   read(func(c *models.CustomerDetails) any { return c.Email }),
		"address": read(func(c *models.CustomerDetails) any { return c.Address }),
		"pincode": read(func(c *models.CustomerDetails) any { return c.Pincode }),
	}
}

func orderFields() objectFields {
	return objectFields{
		"id":               read(func(o *models.CustomerOrder) any { return o.ID }),
		"branchId":         read(func(o *models.CustomerOrder) any { return o.BranchId }),
		"vehicleId":        read(func(o *models.CustomerOrder) any { return o.VehicleId }),
		"variantId":        read(func(o *models.CustomerOrder) any { return o.VariantId }),
		"color":            read(func(o *models.CustomerOrder) any { return o.Color }),
		"customer":         read(func(o *models.CustomerOrder) any { return &o.Customer }),
		"financeType":      read(func(o *models.CustomerOrder) any { return nonEmpty(string(o.FinanceType)) }),
		"totalAmount":      read(func(o *models.CustomerOrder) any { return o.TotalAmount }),
		"orderDate":        read(func(o *models.CustomerOrder) any { return o.OrderDate }),
		"expectedDate":     read(func(o *models.CustomerOrder) any { return o.ExpectedDate }),
		"deliveryDate":     read(func(o *models.CustomerOrder) any { return o.DeliveryDate }),
		"totalCount":       read(func(o *models.CustomerOrder) any { return o.TotalCount }),
		"orderStatus":      read(func(o *models.CustomerOrder) any { return o.OrderStatus }),
		"financeStatus":    read(func(o *models.CustomerOrder) any { return o.FinanceStatus }),
		"allocationSource": read(func(o *models.CustomerOrder) any { return string(o.AllocationSource) }),
		"vehicleStock":     read(func(o *models.CustomerOrder) any { return &o.VehicleStock }),
		"mddpStock":        read(func(o *models.CustomerOrder) any { return &o.MddpStock }),
		"shortfallCount":   read(func(o *models.CustomerOrder) any { return o.ShortfallCount }),
		"version":          read(func(o *models.CustomerOrder) any { return o.Version }),
		"createdBy":        read(func(o *models.CustomerOrder) any { return o.CreatedBy }),
		"updatedBy":        read(func(o *models.CustomerOrder) any { return o.UpdatedBy }),
		"branch": resolve(func(ctx context.Context, o *models.CustomerOrder, _ map[string]any) (any, error) {
			return middlewares.GetBranch(ctx, o.BranchId)
		}),
		"vehicle": resolve(func(ctx context.Context, o *models.CustomerOrder, _ map[string]any) (any, error) {
			return middlewares.GetVehicle(ctx, o.VehicleId)
		}),
		"variant": resolve(func(ctx context.Context, o *models.CustomerOrder, _ map[string]any) (any, error) {
			vehicle, err := middlewares.GetVehicle(ctx, o.VehicleId)
			if err != nil {
				return nil, err
			}
			variant, ok := vehicle.FindVariant(o.VariantId)
			if !ok {
				return nil, models.NotFoundError("variant", o.VariantId)
			}
			return variant, nil
		}),
		"incoming": resolve(func(ctx context.Context, o *models.CustomerOrder, _ map[string]any) (any, error) {
			if o.MddpStock.Id == "" {
				return nil, nil
			}
			return middlewares.GetIncoming(ctx, o.MddpStock.Id)
		}),
	}
}

func incomingFields() objectFields {
	return objectFields{
		"id":            read(func(r *models.IncomingAllocation) any { return r.ID }),
		"branchId":      read(func(r *models.IncomingAllocation) any { return r.BranchId }),
		"vehicleId":     read(func(r *models.IncomingAllocation) any { return r.VehicleId }),
		"variantId":     read(func(r *models.IncomingAllocation) any { return r.VariantId }),
		"color":         read(func(r *models.IncomingAllocation) any { return r.Color }),
		"stock":         read(func(r *models.IncomingAllocation) any { return r.Stock }),
		"blockedCount":  read(func(r *models.IncomingAllocation) any { return r.BlockedCount }),
		"available":     read(func(r *models.IncomingAllocation) any { return r.Available() }),
		"receivedCount": read(func(r *models.IncomingAllocation) any { return r.ReceivedCount }),
		"expectedDate":  read(func(r *models.IncomingAllocation) any { return r.ExpectedDate }),
		"status":        read(func(r *models.IncomingAllocation) any { return r.Status }),
		"payment":       read(func(r *models.IncomingAllocation) any { return r.Payment }),
		"version":       read(func(r *models.IncomingAllocation) any { return r.Version }),
		"vehicle": resolve(func(ctx context.Context, r *models.IncomingAllocation, _ map[string]any) (any, error) {
			return middlewares.GetVehicle(ctx, r.VehicleId)
		}),
		"orders": resolve(func(ctx context.Context, r *models.IncomingAllocation, _ map[string]any) (any, error) {
			return middlewares.GetOrdersByIncoming(ctx, r.ID)
		}),
	}
}
