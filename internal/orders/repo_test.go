package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/suite"
)

const repoOrderID = "11111111-1111-1111-1111-111111111111"

type RepoTestSuite struct {
	suite.Suite
	ctx  context.Context
	mock pgxmock.PgxPoolIface
	repo *Repo
}

func (s *RepoTestSuite) SetupSuite() {
	s.ctx = context.Background()
}

func (s *RepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	s.Require().NoError(err)
	s.mock = mock
	s.repo = &Repo{DB: mock}
}

func (s *RepoTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	s.mock.Close()
}

func (s *RepoTestSuite) TestMarkPaidConsumesPromotionInSameTx() {
	paidAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	seven := int64(7)

	s.mock.ExpectBeginTx(pgx.TxOptions{})
	s.mock.ExpectQuery(`SET payment_status = 'PAID'`).
		WithArgs(repoOrderID, "R1", paidAt).
		WillReturnRows(pgxmock.NewRows([]string{"promotion_id", "status"}).AddRow(&seven, StatusConfirmed))
	s.mock.ExpectExec(`UPDATE promotions SET usage_count = usage_count \+ 1`).
		WithArgs(seven).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	s.mock.ExpectCommit()
	s.mock.ExpectRollback()

	applied, status, err := s.repo.MarkPaid(s.ctx, repoOrderID, "R1", paidAt)
	s.Require().NoError(err)
	s.True(applied)
	s.Equal(StatusConfirmed, status)
}

func (s *RepoTestSuite) TestMarkPaidWithoutPromotion() {
	s.mock.ExpectBeginTx(pgx.TxOptions{})
	s.mock.ExpectQuery(`SET payment_status = 'PAID'`).
		WithArgs(repoOrderID, "R1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"promotion_id", "status"}).AddRow((*int64)(nil), StatusCancelled))
	s.mock.ExpectCommit()
	s.mock.ExpectRollback()

	applied, status, err := s.repo.MarkPaid(s.ctx, repoOrderID, "R1", time.Now())
	s.Require().NoError(err)
	s.True(applied)
	s.Equal(StatusCancelled, status, "a cancelled order keeps its fulfilment status")
}

func (s *RepoTestSuite) TestMarkPaidLosesRace() {
	s.mock.ExpectBeginTx(pgx.TxOptions{})
	s.mock.ExpectQuery(`SET payment_status = 'PAID'`).
		WithArgs(repoOrderID, "R1", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	s.mock.ExpectRollback()

	applied, status, err := s.repo.MarkPaid(s.ctx, repoOrderID, "R1", time.Now())
	s.Require().NoError(err)
	s.False(applied)
	s.Empty(status)
}

func (s *RepoTestSuite) TestMarkPaidPromotionFailureRollsBack() {
	seven := int64(7)
	s.mock.ExpectBeginTx(pgx.TxOptions{})
	s.mock.ExpectQuery(`SET payment_status = 'PAID'`).
		WithArgs(repoOrderID, "R1", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"promotion_id", "status"}).AddRow(&seven, StatusConfirmed))
	s.mock.ExpectExec(`UPDATE promotions`).
		WithArgs(seven).
		WillReturnError(errors.New("deadlock detected"))
	s.mock.ExpectRollback()

	applied, _, err := s.repo.MarkPaid(s.ctx, repoOrderID, "R1", time.Now())
	s.Require().Error(err)
	s.False(applied)
	s.Contains(err.Error(), "consume promotion 7")
}

func (s *RepoTestSuite) TestMarkFailed() {
	s.mock.ExpectQuery(`SET payment_status = 'FAILED'`).
		WithArgs(repoOrderID, "R1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(StatusPending))

	applied, status, err := s.repo.MarkFailed(s.ctx, repoOrderID, "R1")
	s.Require().NoError(err)
	s.True(applied)
	s.Equal(StatusPending, status)

	s.mock.ExpectQuery(`SET payment_status = 'FAILED'`).
		WithArgs(repoOrderID, "R1").
		WillReturnError(pgx.ErrNoRows)

	applied, _, err = s.repo.MarkFailed(s.ctx, repoOrderID, "R1")
	s.Require().NoError(err)
	s.False(applied, "already settled")
}

func (s *RepoTestSuite) TestAttachPaymentReference() {
	s.mock.ExpectExec(`SET payment_reference`).
		WithArgs(repoOrderID, "", "R2", "paystack", "https://pay.example/R2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	s.NoError(s.repo.AttachPaymentReference(s.ctx, repoOrderID, "", "R2", "paystack", "https://pay.example/R2"))

	s.mock.ExpectExec(`SET payment_reference`).
		WithArgs(repoOrderID, "R1", "R3", "paystack", "https://pay.example/R3").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err := s.repo.AttachPaymentReference(s.ctx, repoOrderID, "R1", "R3", "paystack", "https://pay.example/R3")
	s.ErrorIs(err, ErrReferenceConflict)
}

func (s *RepoTestSuite) TestAdvanceStatus() {
	// disallowed transitions never reach the database
	err := s.repo.AdvanceStatus(s.ctx, repoOrderID, StatusConfirmed, StatusDelivered)
	s.ErrorIs(err, ErrInvalidTransition)

	s.mock.ExpectExec(`UPDATE orders SET status`).
		WithArgs(repoOrderID, StatusPending, StatusConfirmed).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = s.repo.AdvanceStatus(s.ctx, repoOrderID, StatusPending, StatusConfirmed)
	s.ErrorIs(err, ErrStatusConflict)

	s.mock.ExpectExec(`UPDATE orders SET status`).
		WithArgs(repoOrderID, StatusConfirmed, StatusProcessing).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	s.NoError(s.repo.AdvanceStatus(s.ctx, repoOrderID, StatusConfirmed, StatusProcessing))
}

func (s *RepoTestSuite) TestCreateRetriesOrderNumberCollision() {
	created := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	collision := &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key"}

	s.mock.ExpectBeginTx(pgx.TxOptions{})
	s.mock.ExpectQuery(`INSERT INTO orders\(`).WillReturnError(collision)
	s.mock.ExpectRollback()

	s.mock.ExpectBeginTx(pgx.TxOptions{})
	s.mock.ExpectQuery(`INSERT INTO orders\(`).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, created))
	s.mock.ExpectQuery(`INSERT INTO order_items`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	s.mock.ExpectQuery(`INSERT INTO order_items`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))
	s.mock.ExpectCommit()
	s.mock.ExpectRollback()

	o, existed, err := s.repo.Create(s.ctx, sampleOrder())
	s.Require().NoError(err)
	s.False(existed)
	s.NotEmpty(o.ID)
	s.Regexp(`^ORD-\d{8}-[0-9A-F]{8}$`, o.OrderNumber)
	s.Equal(StatusPending, o.Status)
	s.Equal(PaymentPending, o.PaymentStatus)
	s.Equal(created, o.CreatedAt)
	s.Equal([]int64{1, 2}, []int64{o.Items[0].ID, o.Items[1].ID})
}

func (s *RepoTestSuite) TestCreateGivesUpAfterRepeatedCollisions() {
	collision := &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key"}
	for i := 0; i < maxNumberAttempts; i++ {
		s.mock.ExpectBeginTx(pgx.TxOptions{})
		s.mock.ExpectQuery(`INSERT INTO orders\(`).WillReturnError(collision)
		s.mock.ExpectRollback()
	}

	_, _, err := s.repo.Create(s.ctx, sampleOrder())
	var pgErr *pgconn.PgError
	s.Require().ErrorAs(err, &pgErr)
	s.Equal("orders_order_number_key", pgErr.ConstraintName)
}

func (s *RepoTestSuite) TestCreateRejectsInconsistentTotals() {
	o := sampleOrder()
	o.Total = dec("1")

	_, _, err := s.repo.Create(s.ctx, o)
	s.ErrorIs(err, ErrTotalsMismatch)
}

func TestRepoTestSuite(t *testing.T) {
	suite.Run(t, new(RepoTestSuite))
}
