package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

type fakePool struct {
	txs []*fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

type fakeTx struct {
	pgx.Tx
	committed bool
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error { return nil }

type memStore struct {
	objects map[string][]byte
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Upload(_ context.Context, key, _ string, r io.Reader, _ int64) error {
	if m.failPut {
		return errors.New("bucket unavailable")
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = b
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memStore) DownloadURL(_ context.Context, key string) (string, error) {
	return "https://files.test/" + key, nil
}

type memRepo struct {
	targets   map[string]Target
	docs      []Document
	insertErr error
}

func (m *memRepo) LoadTarget(_ context.Context, _ pgx.Tx, id string) (Target, error) {
	t, ok := m.targets[id]
	if !ok {
		return Target{}, fmt.Errorf("%w: work order %s", ErrNotFound, id)
	}
	return t, nil
}

func (m *memRepo) Insert(_ context.Context, _ pgx.Tx, doc Document) (Document, error) {
	if m.insertErr != nil {
		return Document{}, m.insertErr
	}
	doc.ID = fmt.Sprintf("doc-%d", len(m.docs)+1)
	doc.CreatedAt = time.Date(2026, 2, 1, 0, 0, len(m.docs), 0, time.UTC)
	m.docs = append(m.docs, doc)
	return doc, nil
}

func (m *memRepo) ListByRequest(_ context.Context, _ pgx.Tx, requestID, kind string) ([]Document, error) {
	out := []Document{}
	for i := len(m.docs) - 1; i >= 0; i-- {
		if m.docs[i].MaintenanceRequestID == requestID && m.docs[i].Kind == kind {
			out = append(out, m.docs[i])
		}
	}
	return out, nil
}

func newFixture() (*Service, *memRepo, *memStore, *fakePool) {
	repo := &memRepo{targets: map[string]Target{
		"wo-active": {WorkOrderID: "wo-active", MaintenanceRequestID: "mr-1", Status: "IN_PROGRESS", AssignedVendorID: "v1"},
		"wo-open":   {WorkOrderID: "wo-open", MaintenanceRequestID: "mr-2", Status: "OPEN"},
	}}
	store := newMemStore()
	pool := &fakePool{}
	return NewService(pool, repo, store, 1024, nil), repo, store, pool
}

func pdf(body string) AttachParams {
	return AttachParams{
		WorkOrderID: "wo-active",
		VendorID:    "v1",
		FileName:    "invoice.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(body)),
		Body:        strings.NewReader(body),
	}
}

func TestAttachInvoice(t *testing.T) {
	svc, repo, store, pool := newFixture()

	doc, err := svc.AttachInvoice(context.Background(), pdf("%PDF-1.7 invoice"))
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if doc.Kind != KindInvoice || doc.MaintenanceRequestID != "mr-1" || doc.UploadedBy != "v1" {
		t.Errorf("document = %+v", doc)
	}
	if !strings.HasPrefix(doc.ObjectKey, "invoices/mr-1/") || !strings.HasSuffix(doc.ObjectKey, "_invoice.pdf") {
		t.Errorf("object key = %s", doc.ObjectKey)
	}
	if !bytes.Equal(store.objects[doc.ObjectKey], []byte("%PDF-1.7 invoice")) {
		t.Errorf("stored object mismatch")
	}
	if len(repo.docs) != 1 || !pool.txs[0].committed {
		t.Errorf("expected one committed document row")
	}
}

func TestAttachInvoice_Rules(t *testing.T) {
	svc, repo, store, _ := newFixture()
	ctx := context.Background()

	wrongVendor := pdf("x")
	wrongVendor.VendorID = "v2"
	if _, err := svc.AttachInvoice(ctx, wrongVendor); !errors.Is(err, ErrNotAssigned) {
		t.Errorf("expected ErrNotAssigned, got %v", err)
	}

	notStarted := pdf("x")
	notStarted.WorkOrderID = "wo-open"
	if _, err := svc.AttachInvoice(ctx, notStarted); !errors.Is(err, ErrWrongStatus) {
		t.Errorf("expected ErrWrongStatus, got %v", err)
	}

	missing := pdf("x")
	missing.WorkOrderID = "wo-missing"
	if _, err := svc.AttachInvoice(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	exe := pdf("x")
	exe.ContentType = "application/x-msdownload"
	if _, err := svc.AttachInvoice(ctx, exe); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("expected ErrInvalidFile for content type, got %v", err)
	}

	renamed := pdf("x")
	renamed.FileName = "invoice.exe"
	if _, err := svc.AttachInvoice(ctx, renamed); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("expected ErrInvalidFile for extension, got %v", err)
	}

	mismatched := pdf("x")
	mismatched.FileName = "scan.png"
	if _, err := svc.AttachInvoice(ctx, mismatched); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("expected ErrInvalidFile for extension not matching content type, got %v", err)
	}

	big := pdf(strings.Repeat("a", 2048))
	if _, err := svc.AttachInvoice(ctx, big); !errors.Is(err, ErrInvalidFile) {
		t.Errorf("expected ErrInvalidFile for size, got %v", err)
	}

	if len(repo.docs) != 0 || len(store.objects) != 0 {
		t.Errorf("rejected uploads left state behind")
	}
}

func TestAttachInvoice_ExtensionCaseAndAliases(t *testing.T) {
	svc, _, _, _ := newFixture()
	ctx := context.Background()

	for _, tc := range []struct{ name, contentType string }{
		{"INVOICE.PDF", "application/pdf"},
		{"photo.jpeg", "image/jpeg"},
		{"photo.JPG", "image/jpeg"},
		{`C:\scans\receipt.png`, "image/png"},
	} {
		p := pdf("x")
		p.FileName = tc.name
		p.ContentType = tc.contentType
		if _, err := svc.AttachInvoice(ctx, p); err != nil {
			t.Errorf("%s (%s): %v", tc.name, tc.contentType, err)
		}
	}
}

func TestAttachInvoice_InsertFailureRemovesObject(t *testing.T) {
	svc, repo, store, pool := newFixture()
	repo.insertErr = errors.New("db down")

	if _, err := svc.AttachInvoice(context.Background(), pdf("x")); err == nil {
		t.Fatalf("expected error")
	}
	if len(store.objects) != 0 {
		t.Errorf("orphaned object left in store")
	}
	if pool.txs[0].committed {
		t.Errorf("expected no commit")
	}
}

func TestAttachInvoice_UploadFailure(t *testing.T) {
	svc, repo, store, _ := newFixture()
	store.failPut = true

	if _, err := svc.AttachInvoice(context.Background(), pdf("x")); err == nil {
		t.Fatalf("expected error")
	}
	if len(repo.docs) != 0 {
		t.Errorf("document row written without object")
	}
}

func TestListInvoices(t *testing.T) {
	svc, _, _, _ := newFixture()
	ctx := context.Background()

	first, err := svc.AttachInvoice(ctx, pdf("one"))
	if err != nil {
		t.Fatalf("attach first: %v", err)
	}
	second, err := svc.AttachInvoice(ctx, pdf("two"))
	if err != nil {
		t.Fatalf("attach second: %v", err)
	}

	docs, err := svc.ListInvoices(ctx, "mr-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != second.ID || docs[1].ID != first.ID {
		t.Fatalf("docs = %+v", docs)
	}
	if docs[0].DownloadURL == "" {
		t.Errorf("expected download url")
	}

	empty, err := svc.ListInvoices(ctx, "mr-none")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list, got %v, %v", empty, err)
	}
}
