package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"ticketintel/internal/config"
	"ticketintel/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	// 事务与普通查询共用同一连接，避免 SQLite 锁冲突
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewGormStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return store
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testEngineConfig() config.EngineConfig {
	return config.GetDefaultConfig().Engine
}

func seedTickets(t *testing.T, store *GormStore, tickets []models.Ticket) {
	t.Helper()
	if err := store.DB().CreateInBatches(&tickets, 50).Error; err != nil {
		t.Fatalf("failed to seed tickets: %v", err)
	}
}

func seedDefaultVocabulary(t *testing.T, store *GormStore) {
	t.Helper()
	if _, err := store.ImportCatalog(context.Background(), DefaultCatalog()); err != nil {
		t.Fatalf("failed to import vocabulary: %v", err)
	}
}

func strPtr(s string) *string { return &s }

func uintPtr(v uint) *uint { return &v }

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

// failingSource 对指定工单的写入返回依赖不可用
type failingSource struct {
	TicketSource
	failOn uint
}

func (f *failingSource) fail(ticketID uint, op string) error {
	if ticketID == f.failOn {
		return NewDependencyUnavailable(op, errors.New("connection reset by peer"))
	}
	return nil
}

func (f *failingSource) ApplySuggestionPlan(ctx context.Context, plan SuggestionPlan) error {
	if err := f.fail(plan.TicketID, "apply suggestions"); err != nil {
		return err
	}
	return f.TicketSource.ApplySuggestionPlan(ctx, plan)
}

func (f *failingSource) AssignTicket(ctx context.Context, ticketID, technicianID uint) error {
	if err := f.fail(ticketID, "assign ticket"); err != nil {
		return err
	}
	return f.TicketSource.AssignTicket(ctx, ticketID, technicianID)
}

func (f *failingSource) SaveAlert(ctx context.Context, alert *models.SLAAlert) error {
	if err := f.fail(alert.TicketID, "save alert"); err != nil {
		return err
	}
	return f.TicketSource.SaveAlert(ctx, alert)
}

func (f *failingSource) Transaction(ctx context.Context, fn func(tx TicketSource) error) error {
	return f.TicketSource.Transaction(ctx, func(tx TicketSource) error {
		return fn(&failingSource{TicketSource: tx, failOn: f.failOn})
	})
}

// recordingNotifier 记录收到的告警
type recordingNotifier struct {
	calls  int
	alerts []AlertSnapshot
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, alerts []AlertSnapshot) error {
	r.calls++
	r.alerts = append(r.alerts, alerts...)
	return r.err
}
