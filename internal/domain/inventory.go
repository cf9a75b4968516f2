package domain

import "math"

// Inventory is the locally tracked holdings of one market: share quantity and
// total cost paid per outcome side. Quantities and costs are never negative.
type Inventory struct {
	UpQty    float64
	DownQty  float64
	UpCost   float64
	DownCost float64
}

// Paired returns the quantity held with offsetting exposure on both sides.
func (inv Inventory) Paired() float64 {
	return math.Min(inv.UpQty, inv.DownQty)
}

// Unpaired returns the quantity held with no offsetting opposite-side exposure.
func (inv Inventory) Unpaired() float64 {
	return math.Abs(inv.UpQty - inv.DownQty)
}

// HeavySide returns the side carrying the larger quantity. Ties report up.
func (inv Inventory) HeavySide() Side {
	if inv.DownQty > inv.UpQty {
		return SideDown
	}
	return SideUp
}

// AvgCost returns the average price paid per share on the given side, or 0
// when nothing is held there.
func (inv Inventory) AvgCost(side Side) float64 {
	if side == SideUp {
		if inv.UpQty <= 0 {
			return 0
		}
		return inv.UpCost / inv.UpQty
	}
	if inv.DownQty <= 0 {
		return 0
	}
	return inv.DownCost / inv.DownQty
}

// CombinedCost returns the sum of average prices paid on both sides, or 0 when
// either side is empty. Paired inventory locks profit when this is below 1.00.
func (inv Inventory) CombinedCost() float64 {
	if inv.UpQty <= 0 || inv.DownQty <= 0 {
		return 0
	}
	return inv.AvgCost(SideUp) + inv.AvgCost(SideDown)
}

// LockedProfit estimates the profit already guaranteed by paired inventory at
// the $1.00 settlement value. This is an estimate, never authoritative: the
// engine does not determine the winning side.
func (inv Inventory) LockedProfit() float64 {
	paired := inv.Paired()
	if paired <= 0 {
		return 0
	}
	cc := inv.CombinedCost()
	if cc <= 0 {
		return 0
	}
	return paired * (1.0 - cc)
}

// Qty returns the quantity held on the given side.
func (inv Inventory) Qty(side Side) float64 {
	if side == SideUp {
		return inv.UpQty
	}
	return inv.DownQty
}

// Cost returns the total cost paid on the given side.
func (inv Inventory) Cost(side Side) float64 {
	if side == SideUp {
		return inv.UpCost
	}
	return inv.DownCost
}

// Set overwrites quantity and cost on the given side. Used by reconciliation;
// the authoritative ledger always wins.
func (inv *Inventory) Set(side Side, qty, cost float64) {
	if side == SideUp {
		inv.UpQty, inv.UpCost = qty, cost
		return
	}
	inv.DownQty, inv.DownCost = qty, cost
}

// Add accumulates a fill on the given side.
func (inv *Inventory) Add(side Side, qty, price float64) {
	if side == SideUp {
		inv.UpQty += qty
		inv.UpCost += qty * price
		return
	}
	inv.DownQty += qty
	inv.DownCost += qty * price
}
