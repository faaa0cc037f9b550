package exchange

// Fill reports the immediate execution outcome of an aggressive (IOC or
// market) order. FilledSize is zero when the order expired unfilled.
type Fill struct {
	OrderID    int64
	FilledSize float64
	AvgPrice   float64
}

// Position is a normalized open perpetual position. Szi is signed: negative
// means short. Providers drop venue rows with non-positive entry prices,
// missing sizes, or non-finite numbers before returning.
type Position struct {
	Coin           string
	Szi            float64
	EntryPx        float64
	PositionValue  float64
	UnrealizedPnl  float64
	ReturnOnEquity float64
	Leverage       int
	IsCross        bool
	LiquidationPx  float64
	MarginUsed     float64
}

// Direction reports "long" or "short" from the sign of Szi.
func (p Position) Direction() string {
	if p.Szi < 0 {
		return "short"
	}
	return "long"
}

// Size returns the absolute position size.
func (p Position) Size() float64 {
	if p.Szi < 0 {
		return -p.Szi
	}
	return p.Szi
}

// OpenOrder is a resting order as reported by the venue.
type OpenOrder struct {
	Coin       string
	OrderID    int64
	Side       string // "buy" | "sell"
	LimitPx    float64
	Size       float64
	OrigSize   float64
	Timestamp  int64 // epoch ms
	IsTrigger  bool
	TriggerPx  float64
	ReduceOnly bool
}

// Venue-native order lifecycle states surfaced by HistoricalOrders and
// OrderStatus. Providers default missing statuses to StatusOpen.
const (
	StatusOpen           = "open"
	StatusFilled         = "filled"
	StatusTriggered      = "triggered"
	StatusCanceled       = "canceled"
	StatusMarginCanceled = "marginCanceled"
	StatusRejected       = "rejected"
)

// OrderStatus is the venue's view of one order's lifecycle.
type OrderStatus struct {
	OrderID   int64
	Coin      string
	Side      string
	Status    string
	LimitPx   float64
	Size      float64
	OrigSize  float64
	Timestamp int64 // epoch ms
}

// AccountState summarizes the perps clearinghouse view of the account.
type AccountState struct {
	AccountValue    float64
	TotalMarginUsed float64
	TotalNtlPos     float64
	Withdrawable    float64
	Positions       []Position
}

// SpotBalance is one spot-wallet balance row. Hold is the portion pledged
// as perps collateral and already reflected in the perps account value.
type SpotBalance struct {
	Coin  string
	Total float64
	Hold  float64
}

// Free returns the spendable part of the balance, floored at zero.
func (b SpotBalance) Free() float64 {
	free := b.Total - b.Hold
	if free < 0 {
		return 0
	}
	return free
}
