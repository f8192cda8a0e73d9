package wallet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"referralhub/services/reward"

	"gorm.io/datatypes"
)

type Tipo string

const (
	TipoEntrada Tipo = "entrada"
	TipoSaida   Tipo = "saida"
)

type Status string

const (
	StatusPendente   Status = "pendente"
	StatusConfirmado Status = "confirmado"
	StatusCancelado  Status = "cancelado"
)

var transitions = map[Status][]Status{
	StatusPendente: {StatusConfirmado, StatusCancelado},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Source string

const (
	SourceReward Source = "reward"
	SourceEntry  Source = "entry"
)

// Entry is a direct payment record. Entries of one (client, indicator)
// pair form a sha256 chain through PreviousHash; status is outside the hash
// so confirming an entry never breaks the chain.
type Entry struct {
	ID            string         `gorm:"column:id;primaryKey" json:"id"`
	ClientID      string         `gorm:"column:client_id;not null;uniqueIndex:idx_wallet_reference,priority:1" json:"clientId"`
	IndicatorID   *string        `gorm:"column:indicator_id;index" json:"indicatorId,omitempty"`
	TransactionID string         `gorm:"column:transaction_id" json:"transactionId"`
	ReferenceID   string         `gorm:"column:reference_id;not null;uniqueIndex:idx_wallet_reference,priority:2" json:"referenceId"`
	Tipo          Tipo           `gorm:"column:tipo;type:varchar(10);not null" json:"tipo"`
	Valor         int64          `gorm:"column:valor;not null" json:"valor"`
	Status        Status         `gorm:"column:status;type:varchar(20);not null;default:'pendente'" json:"status"`
	Data          time.Time      `gorm:"column:data;index" json:"data"`
	Descricao     string         `gorm:"column:descricao" json:"descricao"`
	PreviousHash  string         `gorm:"column:previous_hash" json:"-"`
	Hash          string         `gorm:"column:hash" json:"-"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"column:updated_at" json:"updatedAt"`
}

func (Entry) TableName() string { return "wallet_entries" }

func (e *Entry) HashFields() map[string]string {
	indicator := ""
	if e.IndicatorID != nil {
		indicator = *e.IndicatorID
	}
	return map[string]string{
		"id":             e.ID,
		"client_id":      e.ClientID,
		"indicator_id":   indicator,
		"tipo":           string(e.Tipo),
		"valor":          fmt.Sprintf("%d", e.Valor),
		"transaction_id": e.TransactionID,
		"reference_id":   e.ReferenceID,
		"descricao":      e.Descricao,
		"data":           e.Data.UTC().Format(time.RFC3339Nano),
		"previous_hash":  e.PreviousHash,
	}
}

func (e *Entry) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// GenerateTransactionID returns YYYYMMDD-XXXXXX with a random hex suffix.
func GenerateTransactionID(now time.Time) (string, error) {
	r := make([]byte, 3)
	if _, err := rand.Read(r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(r))), nil
}

// Transaction is the statement line. It is derived from either a reward
// instance or an entry and never stored.
type Transaction struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"clientId"`
	IndicatorID *string   `json:"indicatorId,omitempty"`
	Source      Source    `json:"source"`
	Tipo        Tipo      `json:"tipo"`
	Valor       int64     `json:"valor"`
	Status      Status    `json:"status"`
	Data        time.Time `json:"data"`
	Descricao   string    `json:"descricao"`
}

// Signed is the amount with the sign its tipo gives it.
func (t Transaction) Signed() int64 {
	if t.Tipo == TipoSaida {
		return -t.Valor
	}
	return t.Valor
}

// newer reports whether a sorts before b in a statement.
func newer(a, b Transaction) bool {
	if !a.Data.Equal(b.Data) {
		return a.Data.After(b.Data)
	}
	return a.ID > b.ID
}

func statusOfReward(s reward.Status) Status {
	switch s {
	case reward.StatusAprovada, reward.StatusPaga:
		return StatusConfirmado
	case reward.StatusCancelada:
		return StatusCancelado
	default:
		return StatusPendente
	}
}

// rewardStatuses is the inverse of statusOfReward.
func rewardStatuses(s Status) []any {
	switch s {
	case StatusConfirmado:
		return []any{reward.StatusAprovada, reward.StatusPaga}
	case StatusCancelado:
		return []any{reward.StatusCancelada}
	default:
		return []any{reward.StatusPendente}
	}
}

func fromReward(r *reward.Reward) Transaction {
	desc := r.Description
	if desc == "" {
		desc = fmt.Sprintf("Recompensa %s", r.Type)
		if r.CampaignName != "" {
			desc += " - " + r.CampaignName
		}
	}
	return Transaction{
		ID:          r.ID,
		ClientID:    r.ClientID,
		IndicatorID: r.IndicatorID,
		Source:      SourceReward,
		Tipo:        TipoEntrada,
		Valor:       r.Value,
		Status:      statusOfReward(r.Status),
		Data:        r.CreatedAt,
		Descricao:   desc,
	}
}

func fromEntry(e *Entry) Transaction {
	return Transaction{
		ID:          e.ID,
		ClientID:    e.ClientID,
		IndicatorID: e.IndicatorID,
		Source:      SourceEntry,
		Tipo:        e.Tipo,
		Valor:       e.Valor,
		Status:      e.Status,
		Data:        e.Data,
		Descricao:   e.Descricao,
	}
}

// Scope selects one indicator's wallet, or the whole client when
// IndicatorID is empty.
type Scope struct {
	ClientID    string `form:"-"`
	IndicatorID string `form:"indicatorId"`
}

type StatementQuery struct {
	Scope
	Status Status     `form:"status" validate:"omitempty,oneof=pendente confirmado cancelado"`
	Tipo   Tipo       `form:"tipo" validate:"omitempty,oneof=entrada saida"`
	From   *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To     *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Cursor string     `form:"cursor"`
	Limit  int        `form:"limit"`
}

type AddEntryRequest struct {
	ClientID    string         `json:"-" validate:"required"`
	IndicatorID string         `json:"indicatorId"`
	ReferenceID string         `json:"referenceId" validate:"required,max=128"`
	Tipo        Tipo           `json:"tipo" validate:"required,oneof=entrada saida"`
	Valor       int64          `json:"valor" validate:"gt=0"`
	Status      Status         `json:"status" validate:"omitempty,oneof=pendente confirmado"`
	Descricao   string         `json:"descricao" validate:"max=1000"`
	Data        *time.Time     `json:"data"`
	Metadata    map[string]any `json:"metadata"`
}

type StatusChange struct {
	Status Status `json:"status" validate:"required,oneof=pendente confirmado cancelado"`
}
