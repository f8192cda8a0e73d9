package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"time"

	"referralhub/pkg/config"
	"referralhub/pkg/db/option"
	"referralhub/pkg/db/pagination"
	"referralhub/pkg/errutil"
	"referralhub/pkg/repository"
	"referralhub/pkg/sequence"
	"referralhub/pkg/validation"
	"referralhub/services/reward"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultBatchSize = 100

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	cfg  *config.Config
	seq  sequence.Generator

	entry  repository.Repository[Entry]
	reward repository.Repository[reward.Reward]
	now    func() time.Time
}

type ServiceParams struct {
	fx.In

	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Seq    sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		cfg:    p.Config,
		seq:    p.Seq,
		entry:  repository.ProvideStore[Entry](p.DB),
		reward: repository.ProvideStore[reward.Reward](p.DB),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func logFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx).SpanContext()
	return []zap.Field{
		zap.String("trace_id", span.TraceID().String()),
		zap.String("span_id", span.SpanID().String()),
	}
}

func (s *Service) batchSize() int {
	if s.cfg != nil && s.cfg.Wallet.StatementBatchSize > 0 {
		return s.cfg.Wallet.StatementBatchSize
	}
	return defaultBatchSize
}

// scoped narrows a query to the scope. An empty IndicatorID keeps every
// indicator plus client-level rows.
func scoped(q *gorm.DB, scope Scope) *gorm.DB {
	q = q.Where("client_id = ?", scope.ClientID)
	if scope.IndicatorID != "" {
		q = q.Where("indicator_id = ?", scope.IndicatorID)
	}
	return q
}

// GetBalance sums confirmed entrada minus confirmed saida over reward
// instances and entries. Pending and cancelled rows count for nothing.
func (s *Service) GetBalance(ctx context.Context, scope Scope) (int64, error) {
	fields := logFields(ctx)
	if scope.ClientID == "" {
		return 0, errutil.MissingContext("client is required", nil)
	}

	var fromRewards int64
	err := scoped(s.db.WithContext(ctx).Model(&reward.Reward{}), scope).
		Where("referral_id IS NOT NULL").
		Where("status IN ?", []reward.Status{reward.StatusAprovada, reward.StatusPaga}).
		Select("COALESCE(SUM(value), 0)").
		Scan(&fromRewards).Error
	if err != nil {
		zap.L().With(fields...).Error("failed to sum rewards", zap.Error(err))
		return 0, errutil.Internal("failed to compute balance", err)
	}

	var fromEntries int64
	err = scoped(s.db.WithContext(ctx).Model(&Entry{}), scope).
		Where("status = ?", StatusConfirmado).
		Select("COALESCE(SUM(CASE WHEN tipo = ? THEN valor ELSE -valor END), 0)", TipoEntrada).
		Scan(&fromEntries).Error
	if err != nil {
		zap.L().With(fields...).Error("failed to sum wallet entries", zap.Error(err))
		return 0, errutil.Internal("failed to compute balance", err)
	}

	return fromRewards + fromEntries, nil
}

// feed pages one statement source by keyset.
type feed struct {
	fetch func(ctx context.Context, after *pagination.Cursor, limit int) ([]Transaction, error)
	after *pagination.Cursor
	buf   []Transaction
	limit int
	done  bool
}

func (f *feed) fill(ctx context.Context) error {
	if len(f.buf) > 0 || f.done {
		return nil
	}
	rows, err := f.fetch(ctx, f.after, f.limit)
	if err != nil {
		return err
	}
	if len(rows) < f.limit {
		f.done = true
	}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		c := pagination.NewCursor(last.Data, last.ID)
		f.after = &c
	}
	f.buf = rows
	return nil
}

// Statement streams the scope's transactions newest first, merging reward
// instances with entries. Nothing is read until the sequence is ranged and
// each range starts over from the query's cursor.
func (s *Service) Statement(ctx context.Context, q StatementQuery) iter.Seq2[Transaction, error] {
	return func(yield func(Transaction, error) bool) {
		if err := validation.Struct(q); err != nil {
			yield(Transaction{}, err)
			return
		}

		var start *pagination.Cursor
		if q.Cursor != "" {
			c, err := pagination.DecodeCursor(q.Cursor)
			if err != nil {
				yield(Transaction{}, errutil.BadRequest("invalid cursor", err))
				return
			}
			start = c
		}

		batch := s.batchSize()
		feeds := []*feed{
			{fetch: s.entryFetcher(q), after: start, limit: batch},
		}
		// rewards only ever credit
		if q.Tipo != TipoSaida {
			feeds = append(feeds, &feed{fetch: s.rewardFetcher(q), after: start, limit: batch})
		}

		for {
			var next *feed
			for _, f := range feeds {
				if err := f.fill(ctx); err != nil {
					zap.L().With(logFields(ctx)...).Error("failed to read statement", zap.Error(err))
					yield(Transaction{}, errutil.Internal("failed to read statement", err))
					return
				}
				if len(f.buf) == 0 {
					continue
				}
				if next == nil || newer(f.buf[0], next.buf[0]) {
					next = f
				}
			}
			if next == nil {
				return
			}

			tx := next.buf[0]
			next.buf = next.buf[1:]
			if !yield(tx, nil) {
				return
			}
		}
	}
}

func dateRange(column string, q StatementQuery) []option.Condition {
	var conds []option.Condition
	if q.From != nil {
		conds = append(conds, option.Condition{Field: column, Operator: option.GTE, Value: q.From.UTC()})
	}
	if q.To != nil {
		conds = append(conds, option.Condition{Field: column, Operator: option.LTE, Value: q.To.UTC()})
	}
	return conds
}

func (s *Service) rewardFetcher(q StatementQuery) func(context.Context, *pagination.Cursor, int) ([]Transaction, error) {
	return func(ctx context.Context, after *pagination.Cursor, limit int) ([]Transaction, error) {
		query := &reward.Reward{ClientID: q.ClientID}
		if q.IndicatorID != "" {
			query.IndicatorID = &q.IndicatorID
		}

		conds := append(dateRange("created_at", q), option.Condition{Field: "referral_id", Operator: option.NOTNULL})
		if q.Status != "" {
			conds = append(conds, option.Condition{Field: "status", Operator: option.IN, Value: rewardStatuses(q.Status)})
		}

		rows, err := s.reward.Find(ctx, query, option.ApplyOperator(conds...), option.ApplyKeyset("created_at", after, limit))
		if err != nil {
			return nil, err
		}
		out := make([]Transaction, 0, len(rows))
		for _, r := range rows {
			out = append(out, fromReward(r))
		}
		return out, nil
	}
}

func (s *Service) entryFetcher(q StatementQuery) func(context.Context, *pagination.Cursor, int) ([]Transaction, error) {
	return func(ctx context.Context, after *pagination.Cursor, limit int) ([]Transaction, error) {
		query := &Entry{ClientID: q.ClientID, Status: q.Status, Tipo: q.Tipo}
		if q.IndicatorID != "" {
			query.IndicatorID = &q.IndicatorID
		}

		rows, err := s.entry.Find(ctx, query, option.ApplyOperator(dateRange("data", q)...), option.ApplyKeyset("data", after, limit))
		if err != nil {
			return nil, err
		}
		out := make([]Transaction, 0, len(rows))
		for _, e := range rows {
			out = append(out, fromEntry(e))
		}
		return out, nil
	}
}

// Page reads one HTTP page off Statement.
func (s *Service) Page(ctx context.Context, q StatementQuery) ([]Transaction, pagination.PageInfo, error) {
	limit := pagination.Pagination{Limit: q.Limit}.Normalized()

	rows := make([]*Transaction, 0, limit+1)
	for tx, err := range s.Statement(ctx, q) {
		if err != nil {
			return nil, pagination.PageInfo{}, err
		}
		rows = append(rows, &tx)
		if len(rows) > limit {
			break
		}
	}

	page, info := pagination.Paginate(rows, limit, func(t *Transaction) pagination.Cursor {
		return pagination.NewCursor(t.Data, t.ID)
	})

	out := make([]Transaction, 0, len(page))
	for _, t := range page {
		out = append(out, *t)
	}
	return out, info, nil
}

// AddEntry records a direct payment. Replaying a reference id returns the
// stored entry with created false.
func (s *Service) AddEntry(ctx context.Context, req AddEntryRequest) (*Entry, bool, error) {
	fields := logFields(ctx)

	if err := validation.Struct(req); err != nil {
		return nil, false, err
	}

	if exist, err := s.entry.FindOne(ctx, &Entry{ClientID: req.ClientID, ReferenceID: req.ReferenceID}); err != nil {
		zap.L().With(fields...).Error("failed to check reference_id", zap.Error(err))
		return nil, false, errutil.Internal("failed to add entry", err)
	} else if exist != nil {
		zap.L().With(fields...).Info("reference_id already recorded", zap.String("reference_id", req.ReferenceID))
		return exist, false, nil
	}

	e := &Entry{
		ID:          s.node.Generate().String(),
		ClientID:    req.ClientID,
		ReferenceID: req.ReferenceID,
		Tipo:        req.Tipo,
		Valor:       req.Valor,
		Status:      req.Status,
		Descricao:   req.Descricao,
		Data:        s.now().Truncate(time.Microsecond),
	}
	if e.Status == "" {
		e.Status = StatusPendente
	}
	if req.IndicatorID != "" {
		e.IndicatorID = &req.IndicatorID
	}
	if req.Data != nil {
		e.Data = req.Data.UTC().Truncate(time.Microsecond)
	}
	if len(req.Metadata) > 0 {
		b, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, false, errutil.BadRequest("invalid metadata", err)
		}
		e.Metadata = datatypes.JSON(b)
	}

	txnID, err := s.transactionID(ctx, req.ClientID)
	if err != nil {
		zap.L().With(fields...).Error("failed to generate transaction id", zap.Error(err))
		return nil, false, errutil.Internal("failed to add entry", err)
	}
	e.TransactionID = txnID

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		last, err := s.lastEntry(ctx, tx, e.ClientID, e.IndicatorID)
		if err != nil {
			return err
		}
		if last != nil {
			e.PreviousHash = last.Hash
		}
		e.Hash = e.GenerateHash()

		return s.entry.WithTrx(tx).Create(ctx, e)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		exist, ferr := s.entry.FindOne(ctx, &Entry{ClientID: req.ClientID, ReferenceID: req.ReferenceID})
		if ferr != nil || exist == nil {
			return nil, false, errutil.Internal("failed to add entry", errors.Join(err, ferr))
		}
		return exist, false, nil
	}
	if err != nil {
		zap.L().With(fields...).Error("failed to add wallet entry", zap.Error(err))
		return nil, false, errutil.Internal("failed to add entry", err)
	}

	zap.L().With(fields...).Info("wallet entry added",
		zap.String("entry_id", e.ID),
		zap.String("client_id", e.ClientID),
		zap.String("tipo", string(e.Tipo)),
		zap.Int64("valor", e.Valor),
	)
	return e, true, nil
}

func (s *Service) transactionID(ctx context.Context, clientID string) (string, error) {
	if s.seq != nil {
		id, err := s.seq.NextTransactionCode(ctx, clientID)
		if err == nil {
			return id, nil
		}
		zap.L().With(logFields(ctx)...).Warn("sequence unavailable, using random transaction id", zap.Error(err))
	}
	return GenerateTransactionID(s.now())
}

// lastEntry is the chain head for (client, indicator).
func (s *Service) lastEntry(ctx context.Context, tx *gorm.DB, clientID string, indicatorID *string) (*Entry, error) {
	q := tx.WithContext(ctx).Model(&Entry{}).Where("client_id = ?", clientID)
	if indicatorID != nil {
		q = q.Where("indicator_id = ?", *indicatorID)
	} else {
		q = q.Where("indicator_id IS NULL")
	}

	var out []Entry
	if err := q.Order("created_at desc").Order("id desc").Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (s *Service) GetEntry(ctx context.Context, clientID, id string) (*Entry, error) {
	e, err := s.entry.FindOne(ctx, &Entry{ID: id, ClientID: clientID})
	if err != nil {
		return nil, errutil.Internal("failed to load entry", err)
	}
	if e == nil {
		return nil, errutil.NotFound("wallet entry not found", nil)
	}
	return e, nil
}

// UpdateEntryStatus settles a pending entry. Confirmed and cancelled
// entries are final.
func (s *Service) UpdateEntryStatus(ctx context.Context, clientID, id string, change StatusChange) (*Entry, error) {
	fields := logFields(ctx)

	if err := validation.Struct(change); err != nil {
		return nil, err
	}

	e, err := s.GetEntry(ctx, clientID, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(e.Status, change.Status) {
		return nil, errutil.InvalidTransition("wallet entry cannot move from "+string(e.Status)+" to "+string(change.Status), nil)
	}

	res := s.db.WithContext(ctx).Model(&Entry{}).
		Where("id = ? AND client_id = ? AND status = ?", e.ID, e.ClientID, e.Status).
		Update("status", change.Status)
	if res.Error != nil {
		zap.L().With(fields...).Error("failed to update wallet entry", zap.Error(res.Error))
		return nil, errutil.Internal("failed to update entry", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errutil.InvalidTransition("wallet entry status changed concurrently", nil)
	}

	zap.L().With(fields...).Info("wallet entry status changed",
		zap.String("entry_id", e.ID), zap.String("from", string(e.Status)), zap.String("to", string(change.Status)))
	e.Status = change.Status
	return e, nil
}

// VerifyChain walks the scope's entries oldest first and fails on the
// first entry whose hash or link does not match.
func (s *Service) VerifyChain(ctx context.Context, scope Scope) (int, error) {
	q := s.db.WithContext(ctx).Model(&Entry{}).Where("client_id = ?", scope.ClientID)
	if scope.IndicatorID != "" {
		q = q.Where("indicator_id = ?", scope.IndicatorID)
	} else {
		q = q.Where("indicator_id IS NULL")
	}

	var entries []Entry
	if err := q.Order("created_at asc").Order("id asc").Find(&entries).Error; err != nil {
		return 0, errutil.Internal("failed to read wallet entries", err)
	}

	prev := ""
	for i := range entries {
		e := &entries[i]
		if e.PreviousHash != prev || e.GenerateHash() != e.Hash {
			zap.L().With(logFields(ctx)...).Error("wallet chain mismatch",
				zap.String("client_id", scope.ClientID), zap.String("entry_id", e.ID))
			return i, errutil.Conflict("wallet chain broken at entry "+e.ID, nil)
		}
		prev = e.Hash
	}
	return len(entries), nil
}

// Chains lists every (client, indicator) pair that has entries.
func (s *Service) Chains(ctx context.Context) ([]Scope, error) {
	var rows []struct {
		ClientID    string
		IndicatorID *string
	}
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Distinct("client_id", "indicator_id").
		Order("client_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errutil.Internal("failed to list wallet chains", err)
	}

	out := make([]Scope, 0, len(rows))
	for _, r := range rows {
		scope := Scope{ClientID: r.ClientID}
		if r.IndicatorID != nil {
			scope.IndicatorID = *r.IndicatorID
		}
		out = append(out, scope)
	}
	return out, nil
}
