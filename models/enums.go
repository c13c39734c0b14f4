package models

import (
	"encoding/json"
	"errors"
	"strings"
)

func unmarshalEnum[T ~string](data []byte, values map[string]T, name string) (T, error) {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return "", errors.New(name + " must be string")
	}
	v, ok := values[strings.TrimSpace(str)]
	if !ok {
		return "", errors.New("invalid " + name)
	}
	return v, nil
}

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusDispatched OrderStatus = "Dispatched"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

// "Rejected" is what the sales desk sends for a cancelled order.
var orderStatuses = map[string]OrderStatus{
	"Pending":    OrderStatusPending,
	"Dispatched": OrderStatusDispatched,
	"Delivered":  OrderStatusDelivered,
	"Cancelled":  OrderStatusCancelled,
	"Rejected":   OrderStatusCancelled,
}

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusDispatched, OrderStatusCancelled},
	OrderStatusDispatched: {OrderStatusDelivered, OrderStatusCancelled},
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	v, ok := orderStatuses[strings.TrimSpace(s)]
	if !ok {
		return "", errors.New("invalid order status")
	}
	return v, nil
}

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, orderStatuses, "order status")
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusDispatched, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// IsSettled reports whether allocation bookkeeping is closed for the order.
func (s OrderStatus) IsSettled() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type FinanceStatus string

const (
	FinanceStatusPending   FinanceStatus = "Pending"
	FinanceStatusCompleted FinanceStatus = "Completed"
	FinanceStatusDeclined  FinanceStatus = "Declined"
)

var financeStatuses = map[string]FinanceStatus{
	"Pending":   FinanceStatusPending,
	"Completed": FinanceStatusCompleted,
	"Declined":  FinanceStatusDeclined,
}

var financeStatusTransitions = map[FinanceStatus][]FinanceStatus{
	FinanceStatusPending: {FinanceStatusCompleted, FinanceStatusDeclined},
}

func ParseFinanceStatus(s string) (FinanceStatus, error) {
	v, ok := financeStatuses[strings.TrimSpace(s)]
	if !ok {
		return "", errors.New("invalid finance status")
	}
	return v, nil
}

func (s *FinanceStatus) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, financeStatuses, "finance status")
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s FinanceStatus) CanTransitionTo(next FinanceStatus) bool {
	for _, allowed := range financeStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type IncomingStatus string

const (
	IncomingStatusRequested IncomingStatus = "Requested"
	IncomingStatusApproved  IncomingStatus = "Approved"
	IncomingStatusCompleted IncomingStatus = "Completed"
	IncomingStatusRejected  IncomingStatus = "Rejected"
)

var incomingStatuses = map[string]IncomingStatus{
	"Requested": IncomingStatusRequested,
	"Approved":  IncomingStatusApproved,
	"Completed": IncomingStatusCompleted,
	"Rejected":  IncomingStatusRejected,
}

var incomingStatusTransitions = map[IncomingStatus][]IncomingStatus{
	// a paid record may be received without a separate approval step
	IncomingStatusRequested: {IncomingStatusApproved, IncomingStatusCompleted, IncomingStatusRejected},
	IncomingStatusApproved:  {IncomingStatusCompleted, IncomingStatusRejected},
}

func ParseIncomingStatus(s string) (IncomingStatus, error) {
	v, ok := incomingStatuses[strings.TrimSpace(s)]
	if !ok {
		return "", errors.New("invalid incoming status")
	}
	return v, nil
}

func (s *IncomingStatus) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, incomingStatuses, "incoming status")
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s IncomingStatus) IsTerminal() bool {
	return s == IncomingStatusCompleted || s == IncomingStatusRejected
}

func (s IncomingStatus) CanTransitionTo(next IncomingStatus) bool {
	for _, allowed := range incomingStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "Pending"
	PaymentStatusCompleted PaymentStatus = "Completed"
)

var paymentStatuses = map[string]PaymentStatus{
	"Pending":   PaymentStatusPending,
	"Completed": PaymentStatusCompleted,
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	v, ok := paymentStatuses[strings.TrimSpace(s)]
	if !ok {
		return "", errors.New("invalid payment status")
	}
	return v, nil
}

func (s *PaymentStatus) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, paymentStatuses, "payment status")
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type AllocationSource string

const (
	AllocationSourceNone    AllocationSource = ""
	AllocationSourceVehicle AllocationSource = "vehicle"
	AllocationSourceMixed   AllocationSource = "mixed"
	AllocationSourceMddp    AllocationSource = "mddp"
)

// SourceOf names the pool(s) a vehicle / incoming split was drawn from.
func SourceOf(vehicleQty, incomingQty int) AllocationSource {
	switch {
	case vehicleQty > 0 && incomingQty > 0:
		return AllocationSourceMixed
	case vehicleQty > 0:
		return AllocationSourceVehicle
	case incomingQty > 0:
		return AllocationSourceMddp
	default:
		return AllocationSourceNone
	}
}

type FinanceType string

const (
	FinanceTypeCash     FinanceType = "Cash"
	FinanceTypeFinance  FinanceType = "Finance"
	FinanceTypeExchange FinanceType = "Exchange"
)

var financeTypes = map[string]FinanceType{
	"Cash":     FinanceTypeCash,
	"Finance":  FinanceTypeFinance,
	"Exchange": FinanceTypeExchange,
}

func (s *FinanceType) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, financeTypes, "finance type")
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type OutboxPublishStatus string

const (
	OutboxPublishStatusPending    OutboxPublishStatus = "PENDING"
	OutboxPublishStatusProcessing OutboxPublishStatus = "PROCESSING"
	OutboxPublishStatusSent       OutboxPublishStatus = "SENT"
	OutboxPublishStatusFailed     OutboxPublishStatus = "FAILED"
	OutboxPublishStatusDead       OutboxPublishStatus = "DEAD"
)
