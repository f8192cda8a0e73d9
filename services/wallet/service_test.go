package wallet

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"referralhub/pkg/config"
	"referralhub/pkg/errutil"
	"referralhub/services/campaign"
	"referralhub/services/reward"
	"referralhub/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db   *gorm.DB
	node *snowflake.Node
	svc  *Service
}

func newFixture(t *testing.T, models ...any) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, append([]any{&reward.Reward{}, &Entry{}}, models...)...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Wallet.StatementBatchSize = 2

	return &fixture{db: db, node: node, svc: NewService(ServiceParams{DB: db, Node: node, Config: cfg})}
}

func (f *fixture) rewardAt(t *testing.T, clientID, indicatorID string, value int64, status reward.Status, at time.Time) *reward.Reward {
	t.Helper()
	referralID := f.node.Generate().String()
	campaignID := "cmp-1"
	event := campaign.EventOnReferral
	r := &reward.Reward{
		ID:          f.node.Generate().String(),
		ClientID:    clientID,
		Type:        reward.TypePix,
		Value:       value,
		CampaignID:  &campaignID,
		Status:      status,
		ReferralID:  &referralID,
		IndicatorID: &indicatorID,
		EventType:   &event,
		CreatedAt:   at,
	}
	require.NoError(t, f.db.Create(r).Error)
	return r
}

func (f *fixture) entryAt(t *testing.T, clientID, indicatorID string, tipo Tipo, valor int64, status Status, at time.Time) *Entry {
	t.Helper()
	e, created, err := f.svc.AddEntry(context.Background(), AddEntryRequest{
		ClientID:    clientID,
		IndicatorID: indicatorID,
		ReferenceID: "ref-" + f.node.Generate().String(),
		Tipo:        tipo,
		Valor:       valor,
		Status:      status,
		Descricao:   fmt.Sprintf("%s %d", tipo, valor),
		Data:        &at,
	})
	require.NoError(t, err)
	require.True(t, created)
	return e
}

func collect(t *testing.T, f *fixture, q StatementQuery) []string {
	t.Helper()
	var ids []string
	for tx, err := range f.svc.Statement(context.Background(), q) {
		require.NoError(t, err)
		ids = append(ids, tx.ID)
	}
	return ids
}

func TestBalanceIgnoresPendingAndCancelledInAnyOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	type op func(clientID string)
	ops := []op{
		func(c string) { f.rewardAt(t, c, "ind-1", 10, reward.StatusPendente, base) },
		func(c string) { f.rewardAt(t, c, "ind-1", 20, reward.StatusAprovada, base) },
		func(c string) { f.rewardAt(t, c, "ind-1", 30, reward.StatusPaga, base) },
		func(c string) { f.rewardAt(t, c, "ind-1", 40, reward.StatusCancelada, base) },
		func(c string) { f.entryAt(t, c, "ind-1", TipoSaida, 15, StatusConfirmado, base) },
		func(c string) { f.entryAt(t, c, "ind-1", TipoSaida, 99, StatusPendente, base) },
		func(c string) { f.entryAt(t, c, "ind-1", TipoEntrada, 5, StatusConfirmado, base) },
	}

	for i := range ops {
		ops[i]("forward")
	}
	for i := len(ops) - 1; i >= 0; i-- {
		ops[i]("backward")
	}

	for _, clientID := range []string{"forward", "backward"} {
		saldo, err := f.svc.GetBalance(ctx, Scope{ClientID: clientID, IndicatorID: "ind-1"})
		require.NoError(t, err)
		require.Equal(t, int64(20+30-15+5), saldo, clientID)
	}
}

func TestBalanceScope(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.rewardAt(t, "client-a", "ind-1", 10, reward.StatusAprovada, base)
	f.rewardAt(t, "client-a", "ind-2", 7, reward.StatusPaga, base)
	f.entryAt(t, "client-a", "", TipoEntrada, 100, StatusConfirmado, base)
	f.rewardAt(t, "client-b", "ind-9", 1000, reward.StatusPaga, base)

	// templates carry no referral and never count
	tpl := &reward.Reward{ID: f.node.Generate().String(), ClientID: "client-a", Type: reward.TypePix, Value: 500, Status: reward.StatusAprovada}
	require.NoError(t, f.db.Create(tpl).Error)

	saldo, err := f.svc.GetBalance(ctx, Scope{ClientID: "client-a", IndicatorID: "ind-1"})
	require.NoError(t, err)
	require.Equal(t, int64(10), saldo)

	saldo, err = f.svc.GetBalance(ctx, Scope{ClientID: "client-a"})
	require.NoError(t, err)
	require.Equal(t, int64(117), saldo)

	_, err = f.svc.GetBalance(ctx, Scope{})
	require.True(t, errutil.Is(err, errutil.StatusMissingContext))
}

func TestStatementMergesNewestFirstAndRestarts(t *testing.T) {
	f := newFixture(t)

	r1 := f.rewardAt(t, "client-a", "ind-1", 10, reward.StatusPendente, base.Add(1*time.Hour))
	e1 := f.entryAt(t, "client-a", "ind-1", TipoSaida, 5, StatusConfirmado, base.Add(2*time.Hour))
	r2 := f.rewardAt(t, "client-a", "ind-1", 10, reward.StatusPaga, base.Add(3*time.Hour))
	r3 := f.rewardAt(t, "client-a", "ind-1", 10, reward.StatusCancelada, base.Add(4*time.Hour))
	e2 := f.entryAt(t, "client-a", "ind-1", TipoEntrada, 8, StatusPendente, base.Add(5*time.Hour))
	e3 := f.entryAt(t, "client-a", "ind-1", TipoEntrada, 9, StatusConfirmado, base.Add(6*time.Hour))
	f.rewardAt(t, "client-a", "ind-2", 10, reward.StatusPaga, base.Add(7*time.Hour))

	q := StatementQuery{Scope: Scope{ClientID: "client-a", IndicatorID: "ind-1"}}
	want := []string{e3.ID, e2.ID, r3.ID, r2.ID, e1.ID, r1.ID}

	require.Equal(t, want, collect(t, f, q))
	require.Equal(t, want, collect(t, f, q))

	var first []Transaction
	for tx, err := range f.svc.Statement(context.Background(), q) {
		require.NoError(t, err)
		first = append(first, tx)
		if len(first) == 2 {
			break
		}
	}
	require.Len(t, first, 2)
	require.Equal(t, SourceEntry, first[0].Source)
	require.Equal(t, int64(-5), Transaction{Tipo: TipoSaida, Valor: 5}.Signed())

	all := collect(t, f, StatementQuery{Scope: Scope{ClientID: "client-a"}})
	require.Len(t, all, 7)
}

func TestStatementFilters(t *testing.T) {
	f := newFixture(t)

	r1 := f.rewardAt(t, "client-a", "ind-1", 10, reward.StatusAprovada, base.Add(1*time.Hour))
	f.rewardAt(t, "client-a", "ind-1", 10, reward.StatusPendente, base.Add(2*time.Hour))
	e1 := f.entryAt(t, "client-a", "ind-1", TipoSaida, 5, StatusConfirmado, base.Add(3*time.Hour))
	e2 := f.entryAt(t, "client-a", "ind-1", TipoSaida, 6, StatusPendente, base.Add(4*time.Hour))

	scope := Scope{ClientID: "client-a", IndicatorID: "ind-1"}

	require.Equal(t, []string{e1.ID, r1.ID}, collect(t, f, StatementQuery{Scope: scope, Status: StatusConfirmado}))
	require.Equal(t, []string{e2.ID, e1.ID}, collect(t, f, StatementQuery{Scope: scope, Tipo: TipoSaida}))

	from := base.Add(90 * time.Minute)
	to := base.Add(3 * time.Hour)
	require.Len(t, collect(t, f, StatementQuery{Scope: scope, From: &from, To: &to}), 2)

	for _, err := range f.svc.Statement(context.Background(), StatementQuery{Scope: scope, Status: "paga"}) {
		require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
	}
}

func TestPageWalksCursor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		if i%2 == 0 {
			f.rewardAt(t, "client-a", "ind-1", int64(i), reward.StatusPaga, base.Add(time.Duration(i)*time.Minute))
		} else {
			f.entryAt(t, "client-a", "ind-1", TipoEntrada, int64(i), StatusConfirmado, base.Add(time.Duration(i)*time.Minute))
		}
	}

	q := StatementQuery{Scope: Scope{ClientID: "client-a"}, Limit: 2}
	var seen []int64
	for page := 0; page < 5; page++ {
		items, info, err := f.svc.Page(ctx, q)
		require.NoError(t, err)
		for _, it := range items {
			seen = append(seen, it.Valor)
		}
		if !info.HasMore {
			break
		}
		q.Cursor = info.NextCursor
	}
	require.Equal(t, []int64{4, 3, 2, 1, 0}, seen)

	_, _, err := f.svc.Page(ctx, StatementQuery{Scope: Scope{ClientID: "client-a"}, Cursor: "%%%"})
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))
}

func TestAddEntryIsIdempotentAndChained(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := AddEntryRequest{ClientID: "client-a", IndicatorID: "ind-1", ReferenceID: "pix-001", Tipo: TipoSaida, Valor: 50, Metadata: map[string]any{"gateway": "pix"}}
	first, created, err := f.svc.AddEntry(ctx, req)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, StatusPendente, first.Status)
	require.Regexp(t, regexp.MustCompile(`^\d{8}-[0-9A-F]{6}$`), first.TransactionID)
	require.Empty(t, first.PreviousHash)

	again, created, err := f.svc.AddEntry(ctx, req)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	second := f.entryAt(t, "client-a", "ind-1", TipoEntrada, 10, StatusConfirmado, base)
	require.Equal(t, first.Hash, second.PreviousHash)

	n, err := f.svc.VerifyChain(ctx, Scope{ClientID: "client-a", IndicatorID: "ind-1"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// confirming does not touch the chain
	_, err = f.svc.UpdateEntryStatus(ctx, "client-a", first.ID, StatusChange{Status: StatusConfirmado})
	require.NoError(t, err)
	_, err = f.svc.VerifyChain(ctx, Scope{ClientID: "client-a", IndicatorID: "ind-1"})
	require.NoError(t, err)

	require.NoError(t, f.db.Model(&Entry{}).Where("id = ?", first.ID).Update("valor", 5).Error)
	_, err = f.svc.VerifyChain(ctx, Scope{ClientID: "client-a", IndicatorID: "ind-1"})
	require.True(t, errutil.Is(err, errutil.StatusConflict))

	_, _, err = f.svc.AddEntry(ctx, AddEntryRequest{ClientID: "client-a", ReferenceID: "x", Tipo: "troca", Valor: 1})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestUpdateEntryStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e := f.entryAt(t, "client-a", "ind-1", TipoEntrada, 10, StatusPendente, base)

	out, err := f.svc.UpdateEntryStatus(ctx, "client-a", e.ID, StatusChange{Status: StatusConfirmado})
	require.NoError(t, err)
	require.Equal(t, StatusConfirmado, out.Status)

	_, err = f.svc.UpdateEntryStatus(ctx, "client-a", e.ID, StatusChange{Status: StatusCancelado})
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))

	_, err = f.svc.UpdateEntryStatus(ctx, "client-b", e.ID, StatusChange{Status: StatusCancelado})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	require.True(t, CanTransition(StatusPendente, StatusCancelado))
	require.False(t, CanTransition(StatusCancelado, StatusConfirmado))
	require.False(t, CanTransition(StatusConfirmado, StatusPendente))
}
