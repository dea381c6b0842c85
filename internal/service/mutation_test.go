package service

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"crudsql/internal/errs"
)

const documentSelect = "SELECT `documents`.`id` AS `id`, `documents`.`title` AS `title`, " +
	"`documents`.`version` AS `version`, `documents`.`deleted_at` AS `deletedAt` FROM `documents`"

const documentByID = documentSelect + " WHERE (`documents`.`id` = ? AND `documents`.`deleted_at` IS NULL)"

func documentRow(id int64, title string, version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "title", "version", "deletedAt"}).
		AddRow(id, title, version, nil)
}

func TestCreate(t *testing.T) {
	svc, mock := newTestService(t, "Product")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `products` (`name`,`price`) VALUES (?,?)")).
		WithArgs("widget", 9.5).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery(regexp.QuoteMeta(productSelect+" WHERE `products`.`id` = ?")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "supplierId"}).
			AddRow(7, "widget", 9.5, nil))
	mock.ExpectCommit()

	created, err := svc.Create(context.Background(), Record{"name": "widget", "price": 9.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created["id"] != int64(7) || created["name"] != "widget" {
		t.Fatalf("unexpected created record: %v", created)
	}
	expectDone(t, mock)
}

func TestCreate_SetsInitialVersion(t *testing.T) {
	svc, mock := newTestService(t, "Document")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `documents` (`title`,`version`) VALUES (?,?)")).
		WithArgs("draft", 1).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectQuery(regexp.QuoteMeta(documentByID)).
		WithArgs(int64(3)).
		WillReturnRows(documentRow(3, "draft", 1))
	mock.ExpectCommit()

	created, err := svc.Create(context.Background(), Record{"title": "draft"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created["version"] != int64(1) {
		t.Fatalf("unexpected version: %v", created["version"])
	}
	expectDone(t, mock)
}

func TestCreate_UnknownField(t *testing.T) {
	svc, mock := newTestService(t, "Product")

	_, err := svc.Create(context.Background(), Record{"bogus": 1})
	if err == nil || !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	expectDone(t, mock)
}

func TestCreate_EmptyRecord(t *testing.T) {
	svc, mock := newTestService(t, "Product")

	_, err := svc.Create(context.Background(), Record{})
	if err == nil || !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	expectDone(t, mock)
}

func TestUpdate_IncrementsVersion(t *testing.T) {
	svc, mock := newTestService(t, "Document")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(documentByID + " FOR UPDATE")).
		WithArgs(1).
		WillReturnRows(documentRow(1, "draft", 2))
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE `documents` SET `title` = ?, `version` = ? WHERE `documents`.`id` = ?")).
		WithArgs("final", int64(3), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(documentByID)).
		WithArgs(1).
		WillReturnRows(documentRow(1, "final", 3))
	mock.ExpectCommit()

	updated, err := svc.Update(context.Background(), 1, Record{"title": "final", "version": 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated["version"] != int64(3) || updated["title"] != "final" {
		t.Fatalf("unexpected updated record: %v", updated)
	}
	expectDone(t, mock)
}

func TestUpdate_VersionConflict(t *testing.T) {
	svc, mock := newTestService(t, "Document")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(documentByID + " FOR UPDATE")).
		WithArgs(1).
		WillReturnRows(documentRow(1, "draft", 5))
	mock.ExpectRollback()

	_, err := svc.Update(context.Background(), 1, Record{"title": "stale", "version": 4})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	expectDone(t, mock)
}

func TestUpdate_MissingRecord(t *testing.T) {
	svc, mock := newTestService(t, "Document")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(documentByID + " FOR UPDATE")).
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "version", "deletedAt"}))
	mock.ExpectRollback()

	_, err := svc.Update(context.Background(), 9, Record{"title": "x"})
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	expectDone(t, mock)
}

func TestUpdate_EmptyPatchReturnsCurrent(t *testing.T) {
	svc, mock := newTestService(t, "Product")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(productSelect + " WHERE `products`.`id` = ? FOR UPDATE")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "supplierId"}).
			AddRow(1, "widget", 9.5, nil))
	mock.ExpectCommit()

	updated, err := svc.Update(context.Background(), 1, Record{"id": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated["name"] != "widget" {
		t.Fatalf("unexpected record: %v", updated)
	}
	expectDone(t, mock)
}

func TestRemove_SoftDelete(t *testing.T) {
	svc, mock := newTestService(t, "Document")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE `documents` SET `deleted_at` = ? WHERE `documents`.`id` = ? AND `documents`.`deleted_at` IS NULL")).
		WithArgs(sqlmock.AnyArg(), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := svc.Remove(context.Background(), 1, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectDone(t, mock)
}

func TestRemove_Hard(t *testing.T) {
	svc, mock := newTestService(t, "Document")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `documents` WHERE `documents`.`id` = ?")).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := svc.Remove(context.Background(), 1, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectDone(t, mock)
}

func TestRemove_NotFound(t *testing.T) {
	svc, mock := newTestService(t, "Product")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `products` WHERE `products`.`id` = ?")).
		WithArgs(9).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := svc.Remove(context.Background(), 9, false)
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	expectDone(t, mock)
}

func TestRecover(t *testing.T) {
	svc, mock := newTestService(t, "Document")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `documents` SET `deleted_at` = ? WHERE `documents`.`id` = ?")).
		WithArgs(nil, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(documentByID)).
		WithArgs(1).
		WillReturnRows(documentRow(1, "draft", 1))
	mock.ExpectCommit()

	recovered, err := svc.Recover(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recovered["id"] != int64(1) {
		t.Fatalf("unexpected record: %v", recovered)
	}
	expectDone(t, mock)
}

func TestRecover_NoSoftDeleteField(t *testing.T) {
	svc, mock := newTestService(t, "Product")

	_, err := svc.Recover(context.Background(), 1)
	if err == nil || !errs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	expectDone(t, mock)
}

func TestVersionMatches(t *testing.T) {
	cases := []struct {
		supplied any
		stored   int64
		want     bool
	}{
		{int64(3), 3, true},
		{3, 3, true},
		{float64(3), 3, true},
		{int64(2), 3, false},
		{"3", 3, false},
		{nil, 3, false},
	}
	for _, tc := range cases {
		if got := versionMatches(tc.supplied, tc.stored); got != tc.want {
			t.Errorf("versionMatches(%v, %d) = %v, want %v", tc.supplied, tc.stored, got, tc.want)
		}
	}
}
