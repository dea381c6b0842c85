package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"crudsql/internal/dbexec"
	"crudsql/internal/errs"
	"crudsql/internal/planner"
	"crudsql/internal/sqlutil"
)

// ErrVersionConflict is returned when an optimistic version check fails.
var ErrVersionConflict = errors.New("crudsql: version conflict")

// inTx runs fn inside a transaction scoped to one logical operation.
func (s *Service) inTx(ctx context.Context, fn func(exec dbexec.QueryExecutor) error) error {
	if s.db == nil {
		return sql.ErrConnDone
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(dbexec.NewTxExecutor(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "entity", s.entity.Name, "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// columnValues maps a record's field names to column/value pairs, rejecting
// unknown fields and the relations that cannot be written directly.
func (s *Service) columnValues(rec Record) (map[string]any, error) {
	out := make(map[string]any, len(rec))
	for name, value := range rec {
		field, ok := s.entity.Field(name)
		if !ok {
			return nil, errs.Validation(name, "unknown field")
		}
		out[sqlutil.QuoteIdentifier(field.ColumnName())] = value
	}
	return out, nil
}

// Create inserts a record and returns the stored row. An auto-increment
// primary key left unset is filled from the insert result.
func (s *Service) Create(ctx context.Context, rec Record) (Record, error) {
	values, err := s.columnValues(rec)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errs.Validation(s.entity.Name, "empty record")
	}
	if s.entity.VersionField != "" {
		if _, set := rec[s.entity.VersionField]; !set {
			col, _ := s.entity.Column(s.entity.VersionField)
			values[sqlutil.QuoteIdentifier(col)] = 1
		}
	}

	var created Record
	err = s.inTx(ctx, func(exec dbexec.QueryExecutor) error {
		builder := sq.Insert(sqlutil.QuoteIdentifier(s.entity.Table))
		cols := make([]string, 0, len(values))
		vals := make([]any, 0, len(values))
		for _, col := range sortedMapKeys(values) {
			cols = append(cols, col)
			vals = append(vals, values[col])
		}
		raw, args, err := builder.Columns(cols...).Values(vals...).PlaceholderFormat(sq.Question).ToSql()
		if err != nil {
			return err
		}
		result, err := exec.ExecContext(ctx, raw, args...)
		if err != nil {
			return err
		}

		id, ok := rec[s.entity.PrimaryKey]
		if !ok {
			lastID, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("resolving inserted id: %w", err)
			}
			id = lastID
		}
		created, err = s.findOne(ctx, exec, id, FindOneOptions{OrFail: true})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Update patches a record by primary key inside a transaction. The current
// row is read under FOR UPDATE; when the entity declares a version field the
// patch's version (if supplied) must match the stored one, and the stored
// version is incremented either way.
func (s *Service) Update(ctx context.Context, id any, patch Record) (Record, error) {
	var updated Record
	err := s.inTx(ctx, func(exec dbexec.QueryExecutor) error {
		current, err := s.findOne(ctx, exec, id, FindOneOptions{OrFail: true, Lock: planner.LockForUpdate})
		if err != nil {
			return err
		}

		work := make(Record, len(patch))
		for k, v := range patch {
			if k == s.entity.PrimaryKey {
				continue
			}
			work[k] = v
		}
		if s.entity.VersionField != "" {
			stored, _ := current[s.entity.VersionField].(int64)
			if supplied, set := patch[s.entity.VersionField]; set {
				if !versionMatches(supplied, stored) {
					return fmt.Errorf("%w: %s has version %d", ErrVersionConflict, s.entity.Name, stored)
				}
			}
			work[s.entity.VersionField] = stored + 1
		}
		if len(work) == 0 {
			updated = current
			return nil
		}

		values, err := s.columnValues(work)
		if err != nil {
			return err
		}
		builder := sq.Update(sqlutil.QuoteIdentifier(s.entity.Table)).
			Where(sq.Eq{sqlutil.QuoteIdentifier(s.entity.PrimaryKeyColumn()): id})
		for _, col := range sortedMapKeys(values) {
			builder = builder.Set(col, values[col])
		}
		raw, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
		if err != nil {
			return err
		}
		if _, err := exec.ExecContext(ctx, raw, args...); err != nil {
			return err
		}
		updated, err = s.findOne(ctx, exec, id, FindOneOptions{OrFail: true})
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Remove deletes a record by primary key. Entities with a soft-delete field
// are marked deleted unless hard is set; zero affected rows is a not-found.
func (s *Service) Remove(ctx context.Context, id any, hard bool) error {
	return s.inTx(ctx, func(exec dbexec.QueryExecutor) error {
		var raw string
		var args []any
		var err error
		if s.entity.SoftDeleteField != "" && !hard {
			col, _ := s.entity.Column(s.entity.SoftDeleteField)
			raw, args, err = sq.Update(sqlutil.QuoteIdentifier(s.entity.Table)).
				Set(sqlutil.QuoteIdentifier(col), time.Now().UTC()).
				Where(sq.Eq{sqlutil.QuoteIdentifier(s.entity.PrimaryKeyColumn()): id}).
				Where(sq.Eq{sqlutil.QuoteIdentifier(col): nil}).
				PlaceholderFormat(sq.Question).ToSql()
		} else {
			raw, args, err = sq.Delete(sqlutil.QuoteIdentifier(s.entity.Table)).
				Where(sq.Eq{sqlutil.QuoteIdentifier(s.entity.PrimaryKeyColumn()): id}).
				PlaceholderFormat(sq.Question).ToSql()
		}
		if err != nil {
			return err
		}
		result, err := exec.ExecContext(ctx, raw, args...)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return errs.NotFound(s.entity.Name, id)
		}
		return nil
	})
}

// Recover clears the soft-delete mark of a record.
func (s *Service) Recover(ctx context.Context, id any) (Record, error) {
	if s.entity.SoftDeleteField == "" {
		return nil, errs.Validation(s.entity.Name, "entity has no soft-delete field")
	}
	var recovered Record
	err := s.inTx(ctx, func(exec dbexec.QueryExecutor) error {
		col, _ := s.entity.Column(s.entity.SoftDeleteField)
		raw, args, err := sq.Update(sqlutil.QuoteIdentifier(s.entity.Table)).
			Set(sqlutil.QuoteIdentifier(col), nil).
			Where(sq.Eq{sqlutil.QuoteIdentifier(s.entity.PrimaryKeyColumn()): id}).
			PlaceholderFormat(sq.Question).ToSql()
		if err != nil {
			return err
		}
		result, err := exec.ExecContext(ctx, raw, args...)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return errs.NotFound(s.entity.Name, id)
		}
		recovered, err = s.findOne(ctx, exec, id, FindOneOptions{OrFail: true})
		return err
	})
	if err != nil {
		return nil, err
	}
	return recovered, nil
}

func versionMatches(supplied any, stored int64) bool {
	switch v := supplied.(type) {
	case int64:
		return v == stored
	case int:
		return int64(v) == stored
	case float64:
		return int64(v) == stored
	default:
		return false
	}
}

func sortedMapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
