package domain

// StopType selects which trailing-stop algorithm a Locker runs.
type StopType string

const (
	StopTypePercent StopType = "percent"
	StopTypeATR     StopType = "atr"
)

// LockerStatus is the Active/Disabled/Finished state machine shared by both
// stop variants.
type LockerStatus string

const (
	LockerActive   LockerStatus = "active"
	LockerDisabled LockerStatus = "disabled"
	LockerFinished LockerStatus = "finished"
)

// TransactType records whether a Locker is currently trailing a live order
// (pre-fill) or a filled position (post-fill).
type TransactType string

const (
	TransactOrder    TransactType = "order"
	TransactPosition TransactType = "position"
)

// LockerRow is the flattened, storage-shaped view of either stop variant,
// used when reading/writing the `locker` table. PercentStop and ATRStop each
// know how to project themselves into and rehydrate from this shape.
type LockerRow struct {
	LocalID       string
	Strategy      string
	Symbol        string
	StopType      StopType
	Status        LockerStatus
	TransactType  TransactType
	Direction     Direction
	EntryPrice    float64
	Watermark     float64
	StopPrice     float64
	Zone          int
	Multiplier    float64
	DailyATR      float64
}
