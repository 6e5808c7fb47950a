// Package store is the projection store: the single read model behind
// queries/reports, plus the checkpoint/dedup and lease tables the
// Ingestor and singleton workers coordinate through. Adapted from the
// teacher's internal/db (gorm + MySQL, string-encoded big.Int columns).
package store

import "time"

// FundProjection is the singleton fund-state row (spec.md §3).
type FundProjection struct {
	ID                      uint      `gorm:"primaryKey;autoIncrement"`
	TotalAssets             string    `gorm:"type:varchar(78);not null"`
	L1Cash                  string    `gorm:"type:varchar(78);not null"`
	L1Yield                 string    `gorm:"type:varchar(78);not null"`
	L2                      string    `gorm:"type:varchar(78);not null"`
	L3                      string    `gorm:"type:varchar(78);not null"`
	TotalRedemptionLiability string   `gorm:"type:varchar(78);not null"`
	TotalLockedShares       string    `gorm:"type:varchar(78);not null"`
	WithdrawableFees        string    `gorm:"type:varchar(78);not null"`
	SharePrice              string    `gorm:"type:varchar(78);not null"`
	EmergencyMode           bool      `gorm:"not null"`
	LastBlock               uint64    `gorm:"not null"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime"`
}

func (FundProjection) TableName() string { return "fund_projection" }

// RedemptionRequest mirrors spec.md §3's RedemptionRequest.
type RedemptionRequest struct {
	RequestID        uint64     `gorm:"primaryKey"` // chain-assigned
	Owner            string     `gorm:"index;not null"`
	Receiver         string     `gorm:"not null"`
	Shares           string     `gorm:"type:varchar(78);not null"`
	GrossAmount      string     `gorm:"type:varchar(78);not null"`
	LockedNav        string     `gorm:"type:varchar(78);not null"`
	EstimatedFee     string     `gorm:"type:varchar(78);not null"`
	RequestTime      time.Time  `gorm:"not null"`
	SettlementTime   time.Time  `gorm:"not null"`
	Channel          string     `gorm:"type:varchar(16);not null"` // STANDARD | EMERGENCY | SCHEDULED
	RequiresApproval bool       `gorm:"not null"`
	WindowID         *uint64
	VoucherTokenID   *string    `gorm:"type:varchar(78)"`
	Status           string     `gorm:"type:varchar(20);index;not null"`
	SettledAmount    *string    `gorm:"type:varchar(78)"`
	SettledFee       *string    `gorm:"type:varchar(78)"`
	ApprovalTicketID *uint64    `gorm:"index"`
	CreatedAt        time.Time  `gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime"`
}

func (RedemptionRequest) TableName() string { return "redemption_requests" }

// ApprovalTicket mirrors spec.md §3's ApprovalTicket.
type ApprovalTicket struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement"`
	Type              string    `gorm:"type:varchar(32);not null"`
	ReferenceType     string    `gorm:"type:varchar(32);not null"`
	ReferenceID       uint64    `gorm:"index;not null"`
	Requester         string    `gorm:"not null"`
	RequestData       string    `gorm:"type:json;not null"` // serialized match-condition inputs
	RuleSnapshot      string    `gorm:"type:json;not null"`
	RequiredApprovals int       `gorm:"not null"`
	CurrentApprovals  int       `gorm:"not null;default:0"`
	CurrentRejections int       `gorm:"not null;default:0"`
	SLAWarningAt      time.Time `gorm:"not null"`
	SLADeadlineAt     time.Time `gorm:"not null;index"`
	EscalationAt      time.Time `gorm:"not null"`
	EscalatedAt       *time.Time
	EscalatedTo       *string
	Status            string    `gorm:"type:varchar(24);index;not null"`
	ResolvedBy        *string
	ResolvedAt        *time.Time
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

func (ApprovalTicket) TableName() string { return "approval_tickets" }

// ApprovalRecord is one append-only action against a ticket.
type ApprovalRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	TicketID  uint64    `gorm:"index;not null"`
	Approver  string    `gorm:"not null"`
	Action    string    `gorm:"type:varchar(16);not null"` // APPROVE | REJECT
	Reason    string    `gorm:"type:text"`
	Timestamp time.Time `gorm:"not null"`
}

func (ApprovalRecord) TableName() string { return "approval_records" }

// RebalancePlan mirrors spec.md §3's RebalancePlan.
type RebalancePlan struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement"`
	Trigger           string    `gorm:"type:varchar(32);not null"`
	PreState          string    `gorm:"type:json;not null"`
	TargetState       string    `gorm:"type:json;not null"`
	EstimatedGasCost  string    `gorm:"type:varchar(78);not null"`
	EstimatedSlippage int64     `gorm:"not null"` // bps
	TotalAmount       string    `gorm:"type:varchar(78);not null"`
	RequiresApproval  bool      `gorm:"not null"`
	ApprovalTicketID  *uint64   `gorm:"index"`
	Status            string    `gorm:"type:varchar(20);index;not null"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

func (RebalancePlan) TableName() string { return "rebalance_plans" }

// RebalanceAction is one ordered action within a plan.
type RebalanceAction struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	PlanID       uint64 `gorm:"index;not null"`
	Seq          int    `gorm:"not null"` // position within the plan, stable ordering at equal priority
	Priority     int    `gorm:"not null;index"`
	Kind         string `gorm:"type:varchar(16);not null"` // TRANSFER | PURCHASE | REDEEM | WATERFALL
	FromTier     string `gorm:"type:varchar(8)"`
	ToTier       string `gorm:"type:varchar(8)"`
	Asset        string `gorm:"type:varchar(64)"`
	Amount       string `gorm:"type:varchar(78);not null"`
	Method       string `gorm:"type:varchar(32)"`
	MaxSlippage  int64  // bps
	MaxTier      string `gorm:"type:varchar(8)"`
}

func (RebalanceAction) TableName() string { return "rebalance_actions" }

// RebalanceActionResult records the outcome of executing one action.
type RebalanceActionResult struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	PlanID       uint64    `gorm:"index;not null"`
	ActionSeq    int       `gorm:"not null"`
	Status       string    `gorm:"type:varchar(16);not null"` // SUCCESS | FAILED | SKIPPED
	TxHash       string    `gorm:"type:varchar(80)"`
	Error        string    `gorm:"type:text"`
	ExecutedAt   time.Time `gorm:"not null"`
}

func (RebalanceActionResult) TableName() string { return "rebalance_action_results" }

// RiskSnapshot is one per-minute indicator record (spec.md §3/§4.6).
type RiskSnapshot struct {
	ID                    uint64    `gorm:"primaryKey;autoIncrement"`
	Timestamp             time.Time `gorm:"index;not null"`
	L1Ratio               int64     `gorm:"not null"` // bps
	L1L2Ratio             int64     `gorm:"not null"`
	RedemptionCoverage    int64     `gorm:"not null"`
	LiquidityGap7d        string    `gorm:"type:varchar(78);not null"`
	NavVolatility24h      int64     `gorm:"not null"`
	AssetPriceDeviation   int64     `gorm:"not null"`
	OracleStaleness       int64     `gorm:"not null"` // seconds
	ConcentrationSingle   int64     `gorm:"not null"`
	ConcentrationTop3     int64     `gorm:"not null"`
	ConcentrationCounter  int64     `gorm:"not null"`
	DailyRedemptionRate   int64     `gorm:"not null"`
	PendingApprovalRatio  int64     `gorm:"not null"`
	RedemptionVelocity7d  int64     `gorm:"not null"`
	RiskLevel             string    `gorm:"type:varchar(16);index;not null"`
	Score                 int       `gorm:"not null"`
}

func (RiskSnapshot) TableName() string { return "risk_snapshots" }

// RiskEvent is a discrete risk occurrence (alerts, incidents).
type RiskEvent struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	Kind       string    `gorm:"type:varchar(32);not null"`
	Severity   string    `gorm:"type:varchar(16);not null"`
	IncidentID *string   `gorm:"index"`
	Detail     string    `gorm:"type:json"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index"`
}

func (RiskEvent) TableName() string { return "risk_events" }

// AuditLog is an append-only trail of state-changing operations.
type AuditLog struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Actor     string    `gorm:"not null"`
	Action    string    `gorm:"type:varchar(64);not null"`
	Target    string    `gorm:"type:varchar(128);not null"`
	Detail    string    `gorm:"type:json"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// EventProcessed is the durable, transactional second line of defense
// against replay, keyed by (tx_hash, log_index) and written in the same
// transaction as the handler's projection writes (spec.md §4.3).
type EventProcessed struct {
	TxHash    string    `gorm:"primaryKey;type:varchar(80)"`
	LogIndex  uint      `gorm:"primaryKey"`
	EventName string    `gorm:"type:varchar(64);not null"`
	Contract  string    `gorm:"type:varchar(64);not null"`
	BlockNum  uint64    `gorm:"not null"`
	ProcessedAt time.Time `gorm:"autoCreateTime"`
}

func (EventProcessed) TableName() string { return "event_processed" }

// Checkpoint is the last-confirmed block per watched contract, owned
// exclusively by the Ingestor.
type Checkpoint struct {
	Contract           string    `gorm:"primaryKey;type:varchar(64)"`
	LastConfirmedBlock uint64    `gorm:"not null"`
	LastConfirmedHash  string    `gorm:"type:varchar(80)"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

func (Checkpoint) TableName() string { return "checkpoints" }

// DedupMarker is the fast-path key/value dedup entry with a 7-day TTL
// (spec.md §3); EventProcessed is the durable source of truth this
// complements.
type DedupMarker struct {
	TxHash    string    `gorm:"primaryKey;type:varchar(80)"`
	LogIndex  uint      `gorm:"primaryKey"`
	ExpiresAt time.Time `gorm:"index;not null"`
}

func (DedupMarker) TableName() string { return "dedup_markers" }

// Lease backs the distributed leases singleton services renew every
// 15s with a 30s TTL (spec.md §5).
type Lease struct {
	Key        string    `gorm:"primaryKey;type:varchar(128)"`
	HolderID   string    `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null"`
	FencingSeq uint64    `gorm:"not null;default:0"`
}

func (Lease) TableName() string { return "leases" }
