package option

import (
	"strings"

	"referralhub/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a query before it is executed by a repository.
type QueryOption func(*gorm.DB) *gorm.DB

const defaultSortBy = "created_at"

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	// Allow lists the columns callers may sort by. Empty means only the default column.
	Allow map[string]bool
}

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		field := s.SortBy
		if field == "" || !s.Allow[field] {
			field = defaultSortBy
		}

		return db.Order(clause.OrderByColumn{
			Column: clause.Column{Name: field},
			Desc:   strings.EqualFold(s.OrderBy, "desc"),
		})
	}
}

type Operator string

const (
	EQ      Operator = "eq"
	NEQ     Operator = "neq"
	GT      Operator = "gt"
	GTE     Operator = "gte"
	LT      Operator = "lt"
	LTE     Operator = "lte"
	IN      Operator = "in"
	LIKE    Operator = "like"
	ISNULL  Operator = "is_null"
	NOTNULL Operator = "not_null"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			col := clause.Column{Name: c.Field}
			switch c.Operator {
			case EQ:
				db = db.Where(clause.Eq{Column: col, Value: c.Value})
			case NEQ:
				db = db.Where(clause.Neq{Column: col, Value: c.Value})
			case GT:
				db = db.Where(clause.Gt{Column: col, Value: c.Value})
			case GTE:
				db = db.Where(clause.Gte{Column: col, Value: c.Value})
			case LT:
				db = db.Where(clause.Lt{Column: col, Value: c.Value})
			case LTE:
				db = db.Where(clause.Lte{Column: col, Value: c.Value})
			case IN:
				if values, ok := c.Value.([]any); ok {
					db = db.Where(clause.IN{Column: col, Values: values})
				} else {
					db = db.Where(clause.IN{Column: col, Values: []any{c.Value}})
				}
			case LIKE:
				db = db.Where(clause.Like{Column: col, Value: c.Value})
			case ISNULL:
				db = db.Where(clause.Eq{Column: col, Value: nil})
			case NOTNULL:
				db = db.Where(clause.Neq{Column: col, Value: nil})
			}
		}
		return db
	}
}

// ApplyPagination applies a (created_at, id) keyset in descending order and
// fetches one extra row so callers can tell whether another page exists.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		var after *pagination.Cursor
		if p.Cursor != "" {
			cursor, err := pagination.DecodeCursor(p.Cursor)
			if err != nil {
				_ = db.AddError(err)
				return db
			}
			after = cursor
		}
		return ApplyKeyset(defaultSortBy, after, p.Normalized()+1)(db)
	}
}

// ApplyKeyset orders by (column, id) descending and, given a cursor, starts
// strictly after it. The cursor's CreatedAt holds the column value.
func ApplyKeyset(column string, after *pagination.Cursor, limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		col := clause.Column{Name: column}
		if after != nil {
			if at, ok := after.Time(); ok {
				db = db.Where(clause.Or(
					clause.Lt{Column: col, Value: at},
					clause.And(clause.Eq{Column: col, Value: at}, clause.Lt{Column: clause.Column{Name: "id"}, Value: after.ID}),
				))
			}
		}

		return db.
			Order(clause.OrderByColumn{Column: col, Desc: true}).
			Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: true}).
			Limit(limit)
	}
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// LockingUpdate is usable both as a QueryOption and as a gorm scope.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
