package graph

import (
	"encoding/json"
	"strconv"

	"github.com/mmdatafocus/ims_backend/models"
)

type customerInput struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Pincode string `json:"pincode"`
	Aadhar  string `json:"aadhar"`
	Pan     string `json:"pan"`
}

type newOrderInput struct {
	BranchId      string        `json:"branchId"`
	VehicleId     string        `json:"vehicleId"`
	VariantId     string        `json:"variantId"`
	Color         string        `json:"color"`
	Customer      customerInput `json:"customer"`
	FinanceType   string        `json:"financeType"`
	TotalAmount   *decimalArg   `json:"totalAmount"`
	OrderDate     *timeArg      `json:"orderDate"`
	ExpectedDate  timeArg       `json:"expectedDate"`
	DeliveryDate  *timeArg      `json:"deliveryDate"`
	TotalCount    int           `json:"totalCount"`
	OrderStatus   string        `json:"orderStatus"`
	FinanceStatus string        `json:"financeStatus"`
}

func (in newOrderInput) toModel() (models.NewCustomerOrder, error) {
	out := models.NewCustomerOrder{
		BranchId:  in.BranchId,
		VehicleId: in.VehicleId,
		VariantId: in.VariantId,
		Color:     in.Color,
		Customer: models.CustomerDetails{
			Name:    in.Customer.Name,
			Phone:   in.Customer.Phone,
			Email:   in.Customer.Email,
			Address: in.Customer.Address,
			Pincode: in.Customer.Pincode,
			Aadhar:  in.Customer.Aadhar,
			Pan:     in.Customer.Pan,
		},
		OrderDate:    in.OrderDate.ptr(),
		ExpectedDate: in.ExpectedDate.Time,
		DeliveryDate: in.DeliveryDate.ptr(),
		TotalCount:   in.TotalCount,
	}
	if in.TotalAmount != nil {
		out.TotalAmount = in.TotalAmount.Decimal
	}
	if in.FinanceType != "" {
		// FinanceType only exposes a JSON decoder
		if err := json.Unmarshal([]byte(strconv.Quote(in.FinanceType)), &out.FinanceType); err != nil {
			return out, invalidArg(err)
		}
	}
	var err error
	if in.OrderStatus != "" {
		if out.OrderStatus, err = models.ParseOrderStatus(in.OrderStatus); err != nil {
			return out, invalidArg(err)
		}
	}
	if in.FinanceStatus != "" {
		if out.FinanceStatus, err = models.ParseFinanceStatus(in.FinanceStatus); err != nil {
			return out, invalidArg(err)
		}
	}
	return out, nil
}

type orderChangesInput struct {
	TotalCount    *int     `json:"totalCount"`
	ExpectedDate  *timeArg `json:"expectedDate"`
	OrderStatus   *string  `json:"orderStatus"`
	FinanceStatus *string  `json:"financeStatus"`
}

func (in orderChangesInput) toModel() (models.OrderUpdate, error) {
	out := models.OrderUpdate{
		TotalCount:   in.TotalCount,
		ExpectedDate: in.ExpectedDate.ptr(),
	}
	if in.OrderStatus != nil {
		status, err := models.ParseOrderStatus(*in.OrderStatus)
		if err != nil {
			return out, invalidArg(err)
		}
		out.OrderStatus = &status
	}
	if in.FinanceStatus != nil {
		status, err := models.ParseFinanceStatus(*in.FinanceStatus)
		if err != nil {
			return out, invalidArg(err)
		}
		out.FinanceStatus = &status
	}
	return out, nil
}

type orderFilterInput struct {
	BranchId    string `json:"branchId"`
	VehicleId   string `json:"vehicleId"`
	VariantId   string `json:"variantId"`
	Color       string `json:"color"`
	IncomingId  string `json:"incomingId"`
	OrderStatus string `json:"orderStatus"`
}

func (in orderFilterInput) toModel() (models.OrderFilter, error) {
	out := models.OrderFilter{
		BranchId:   in.BranchId,
		VehicleId:  in.VehicleId,
		VariantId:  in.VariantId,
		Color:      in.Color,
		IncomingId: in.IncomingId,
	}
	if in.OrderStatus != "" {
		status, err := models.ParseOrderStatus(in.OrderStatus)
		if err != nil {
			return out, invalidArg(err)
		}
		out.OrderStatus = status
	}
	return out, nil
}

type newIncomingInput struct {
	VehicleId    string  `json:"vehicleId"`
	VariantId    string  `json:"variantId"`
	Color        string  `json:"color"`
	Stock        int     `json:"stock"`
	ExpectedDate timeArg `json:"expectedDate"`
	Status       string  `json:"status"`
	Payment      string  `json:"payment"`
}

func (in newIncomingInput) toModel() (models.NewIncomingAllocation, error) {
	out := models.NewIncomingAllocation{
		VehicleId:    in.VehicleId,
		VariantId:    in.VariantId,
		Color:        in.Color,
		Stock:        in.Stock,
		ExpectedDate: in.ExpectedDate.Time,
	}
	var err error
	if in.Status != "" {
		if out.Status, err = models.ParseIncomingStatus(in.Status); err != nil {
			return out, invalidArg(err)
		}
	}
	if in.Payment != "" {
		if out.Payment, err = models.ParsePaymentStatus(in.Payment); err != nil {
			return out, invalidArg(err)
		}
	}
	return out, nil
}

type incomingChangesInput struct {
	Color        *string  `json:"color"`
	Stock        *int     `json:"stock"`
	ExpectedDate *timeArg `json:"expectedDate"`
	Status       *string  `json:"status"`
	Payment      *string  `json:"payment"`
}

func (in incomingChangesInput) toModel() (models.IncomingUpdate, error) {
	out := models.IncomingUpdate{
		Color:        in.Color,
		Stock:        in.Stock,
		ExpectedDate: in.ExpectedDate.ptr(),
	}
	if in.Status != nil {
		status, err := models.ParseIncomingStatus(*in.Status)
		if err != nil {
			return out, invalidArg(err)
		}
		out.Status = &status
	}
	if in.Payment != nil {
		payment, err := models.ParsePaymentStatus(*in.Payment)
		if err != nil {
			return out, invalidArg(err)
		}
		out.Payment = &payment
	}
	return out, nil
}

type incomingFilterInput struct {
	BranchId  string `json:"branchId"`
	VehicleId string `json:"vehicleId"`
	VariantId string `json:"variantId"`
	Color     string `json:"color"`
	Status    string `json:"status"`
}

func (in incomingFilterInput) toModel() (models.IncomingFilter, error) {
	out := models.IncomingFilter{
		BranchId:  in.BranchId,
		VehicleId: in.VehicleId,
		VariantId: in.VariantId,
		Color:     in.Color,
	}
	if in.Status != "" {
		status, err := models.ParseIncomingStatus(in.Status)
		if err != nil {
			return out, invalidArg(err)
		}
		out.Status = status
	}
	return out, nil
}

func invalidArg(err error) error {
	return models.WrapStockError(models.ErrKindInvalidInput, err, "%s", err.Error())
}

// decodeArg copies one coerced argument into T. Explicit nulls are dropped first so they
// read the same as an omitted field.
func decodeArg[T any](args map[string]any, name string) (T, error) {
	var out T
	raw, ok := args[name]
	if !ok || raw == nil {
		return out, nil
	}
	data, err := json.Marshal(dropNulls(raw))
	if err != nil {
		return out, invalidArg(err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, models.WrapStockError(models.ErrKindInvalidInput, err, "invalid %s", name)
	}
	return out, nil
}

func dropNulls(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if val == nil {
				continue
			}
			out[k] = dropNulls(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = dropNulls(val)
		}
		return out
	default:
		return v
	}
}
