package models

// StockCounter is the on-hand / blocked pair shared by ledger entries and incoming records.
// 0 <= BlockedCount <= Stock must hold after every committed write.
type StockCounter struct {
	Stock        int `gorm:"not null;default:0;check:stock >= 0" json:"stock"`
	BlockedCount int `gorm:"not null;default:0;check:blocked_count >= 0 AND blocked_count <= stock" json:"blocked_count"`
}

func (c *StockCounter) Available() int {
	return c.Stock - c.BlockedCount
}

// Block reserves n units. Reversible through Release.
func (c *StockCounter) Block(n int) error {
	if n < 0 {
		return NewStockError(ErrKindInvalidInput, "cannot block a negative quantity (%d)", n)
	}
	if c.Available() < n {
		return NewStockError(ErrKindInsufficientStock, "requested %d, available %d", n, c.Available())
	}
	c.BlockedCount += n
	return nil
}

// Release un-blocks up to n units and returns how many were actually released.
// Never drives BlockedCount below zero.
func (c *StockCounter) Release(n int) int {
	if n <= 0 {
		return 0
	}
	released := min(c.BlockedCount, n)
	c.BlockedCount -= released
	return released
}

// Deduct permanently removes n unblocked units.
func (c *StockCounter) Deduct(n int) error {
	if n < 0 {
		return NewStockError(ErrKindInvalidInput, "cannot deduct a negative quantity (%d)", n)
	}
	if c.Available() < n {
		return NewStockError(ErrKindInsufficientStock, "requested %d, available %d", n, c.Available())
	}
	c.Stock -= n
	return nil
}

// Consume turns n blocked units into a delivery: stock and blocked both drop by n.
func (c *StockCounter) Consume(n int) error {
	if n < 0 {
		return NewStockError(ErrKindInvalidInput, "cannot consume a negative quantity (%d)", n)
	}
	if c.Stock < n {
		return NewStockError(ErrKindInsufficientStock, "cannot consume %d, stock is %d", n, c.Stock)
	}
	c.Stock -= n
	c.BlockedCount -= min(c.BlockedCount, n)
	return nil
}

// Absorb adds another counter's quantities onto this one (incoming arrival).
func (c *StockCounter) Absorb(other StockCounter) {
	c.Stock += other.Stock
	c.BlockedCount += other.BlockedCount
}

func (c StockCounter) Validate() error {
	if c.Stock < 0 {
		return NewStockError(ErrKindInvariantViolation, "stock is negative (%d)", c.Stock)
	}
	if c.BlockedCount < 0 {
		return NewStockError(ErrKindInvariantViolation, "blocked count is negative (%d)", c.BlockedCount)
	}
	if c.BlockedCount > c.Stock {
		return NewStockError(ErrKindInvariantViolation, "blocked count %d exceeds stock %d", c.BlockedCount, c.Stock)
	}
	return nil
}
