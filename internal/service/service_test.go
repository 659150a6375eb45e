package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"stockbridge/internal/erp"
	"stockbridge/internal/model"
	"stockbridge/internal/repository"
	"stockbridge/pkg/logger"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	logger.InitLogger("test")
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "bridge.db")), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

type fixture struct {
	db     *gorm.DB
	docs   *repository.DocumentRepository
	queue  *repository.QueueRepository
	audits *repository.AuditRepository
	orders *repository.PurchaseOrderRepository
	inbox  *repository.InboxRepository
	cursor *repository.CursorRepository
}

func newFixture(t *testing.T) *fixture {
	db := newTestDB(t)
	return &fixture{
		db:     db,
		docs:   repository.NewDocumentRepository(db),
		queue:  repository.NewQueueRepository(db),
		audits: repository.NewAuditRepository(db),
		orders: repository.NewPurchaseOrderRepository(db),
		inbox:  repository.NewInboxRepository(db),
		cursor: repository.NewCursorRepository(db),
	}
}

// enqueue stores doc with a PENDING queue item.
func (f *fixture) enqueue(t *testing.T, doc *model.Document) *model.QueueItem {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.docs.Create(ctx, doc))
	item := &model.QueueItem{DocumentID: doc.ID, DocType: doc.DocType, Status: model.QueuePending}
	require.NoError(t, f.queue.Create(ctx, item))
	return item
}

func (f *fixture) item(t *testing.T, id int64) *model.QueueItem {
	t.Helper()
	item, err := f.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return item
}

// fakePoster fails the calls listed in failOn (1-based) and counts the
// documents the ERP would have created.
type fakePoster struct {
	mu       sync.Mutex
	failOn   map[int]error
	calls    int
	created  int
	paths    []string
	payloads []any
}

func (p *fakePoster) Post(ctx context.Context, path string, payload any) (*erp.PostResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.paths = append(p.paths, path)
	p.payloads = append(p.payloads, payload)
	if err, ok := p.failOn[p.calls]; ok {
		return nil, err
	}
	p.created++
	entry, num := int64(7000+p.created), int64(100+p.created)
	return &erp.PostResult{DocEntry: &entry, DocNum: &num, Raw: []byte(`{"DocEntry":1}`)}, nil
}
