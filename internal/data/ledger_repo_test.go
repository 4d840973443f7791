package data

import (
	"errors"
	"testing"
	"time"

	"aigc-service/internal/data/model"

	aigcErrors "aigc-service/internal/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	return gdb, mock
}

func accountRows(accountID string, balance int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"account_id", "balance", "created_at", "updated_at"}).
		AddRow(accountID, balance, time.Now(), time.Now())
}

func TestApplyLedger_Charge(t *testing.T) {
	gdb, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `account` WHERE account_id = (.+) FOR UPDATE").
		WillReturnRows(accountRows("acc1", 1000))
	mock.ExpectExec("UPDATE `account` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `ledger_entry`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var entry *model.LedgerEntry
	err := gdb.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = applyLedger(tx, "acc1", model.LedgerCategoryJobCharge, -400, "job1", "")
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, int64(1000), entry.BalanceBefore)
	assert.Equal(t, int64(600), entry.BalanceAfter)
	assert.Equal(t, int64(400), entry.Amount)
	assert.Equal(t, "job1", entry.JobID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyLedger_InsufficientBalance(t *testing.T) {
	gdb, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `account` WHERE account_id = (.+) FOR UPDATE").
		WillReturnRows(accountRows("acc1", 100))
	mock.ExpectRollback()

	err := gdb.Transaction(func(tx *gorm.DB) error {
		_, err := applyLedger(tx, "acc1", model.LedgerCategoryJobCharge, -400, "job1", "")
		return err
	})

	assert.True(t, errors.Is(err, aigcErrors.ErrInsufficientBalance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyLedger_CreditAutoCreatesAccount(t *testing.T) {
	gdb, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `account` WHERE account_id = (.+) FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "balance"}))
	mock.ExpectExec("INSERT INTO `account`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE `account` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `ledger_entry`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var entry *model.LedgerEntry
	err := gdb.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = applyLedger(tx, "acc-new", model.LedgerCategoryOrderSettlement, 500, "", "order1")
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.BalanceBefore)
	assert.Equal(t, int64(500), entry.BalanceAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyLedger_DebitNeverCreatesAccount(t *testing.T) {
	gdb, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `account` WHERE account_id = (.+) FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "balance"}))
	mock.ExpectRollback()

	err := gdb.Transaction(func(tx *gorm.DB) error {
		_, err := applyLedger(tx, "acc-missing", model.LedgerCategoryJobCharge, -100, "job1", "")
		return err
	})

	assert.True(t, errors.Is(err, aigcErrors.ErrInsufficientBalance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func chargeEntryRows(jobID string, amount int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"ledger_entry_id", "account_id", "category", "amount",
		"balance_before", "balance_after", "job_id", "order_id", "created_at",
	}).AddRow("entry1", "acc1", model.LedgerCategoryJobCharge, amount, 1000, 1000-amount, jobID, "", time.Now())
}

func TestRefundJob_PartialRefund(t *testing.T) {
	gdb, mock := newMockDB(t)

	// 原始扣费 400 分 / 4 单元，实际完成 3，应退 1 单元 = 100
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `ledger_entry` WHERE job_id = (.+) AND category = (.+)").
		WillReturnRows(chargeEntryRows("job1", 400))
	mock.ExpectQuery("SELECT (.+) FROM `account` WHERE account_id = (.+) FOR UPDATE").
		WillReturnRows(accountRows("acc1", 600))
	mock.ExpectExec("UPDATE `account` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `ledger_entry`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := gdb.Transaction(func(tx *gorm.DB) error {
		return refundJob(tx, "job1", "acc1", 4, 3)
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundJob_FullFailureRefundsChargeVerbatim(t *testing.T) {
	gdb, mock := newMockDB(t)

	// 整数单价会有取整损失，全部失败按原扣费金额退回
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `ledger_entry` WHERE job_id = (.+) AND category = (.+)").
		WillReturnRows(chargeEntryRows("job1", 399))
	mock.ExpectQuery("SELECT (.+) FROM `account` WHERE account_id = (.+) FOR UPDATE").
		WillReturnRows(accountRows("acc1", 601))
	mock.ExpectExec("UPDATE `account` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `ledger_entry`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := gdb.Transaction(func(tx *gorm.DB) error {
		return refundJob(tx, "job1", "acc1", 4, 0)
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundJob_NoRefundWhenComplete(t *testing.T) {
	gdb, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := gdb.Transaction(func(tx *gorm.DB) error {
		return refundJob(tx, "job1", "acc1", 4, 4)
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundJob_MissingChargeEntry(t *testing.T) {
	gdb, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM `ledger_entry` WHERE job_id = (.+) AND category = (.+)").
		WillReturnRows(sqlmock.NewRows([]string{"ledger_entry_id"}))
	mock.ExpectRollback()

	err := gdb.Transaction(func(tx *gorm.DB) error {
		return refundJob(tx, "job1", "acc1", 4, 2)
	})

	assert.True(t, errors.Is(err, aigcErrors.ErrChargeEntryMissing))
	assert.NoError(t, mock.ExpectationsWereMet())
}
