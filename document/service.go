// Package document stores vendor invoices for maintenance requests. Files go
// to object storage; the documents table keeps the metadata.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"repairflow/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound    = errors.New("document: not found")
	ErrNotAssigned = errors.New("document: vendor does not hold the work order")
	// ErrWrongStatus is returned when the work order has not been started.
	ErrWrongStatus = errors.New("document: work order is not in progress or completed")
	ErrInvalidFile = errors.New("document: invalid file")
)

const KindInvoice = "INVOICE"

// allowedTypes maps each accepted content type to the file extensions that
// may carry it. Both the declared type and the name's extension must match.
var allowedTypes = map[string][]string{
	"application/pdf": {".pdf"},
	"image/jpeg":      {".jpg", ".jpeg"},
	"image/png":       {".png"},
}

// Document is an uploaded invoice.
type Document struct {
	ID                   string    `json:"id"`
	MaintenanceRequestID string    `json:"maintenanceRequestId"`
	WorkOrderID          *string   `json:"workOrderId,omitempty"`
	Kind                 string    `json:"kind"`
	ObjectKey            string    `json:"objectKey"`
	FileName             string    `json:"fileName"`
	ContentType          string    `json:"contentType"`
	SizeBytes            int64     `json:"sizeBytes"`
	UploadedBy           string    `json:"uploadedBy"`
	CreatedAt            time.Time `json:"createdAt"`
	DownloadURL          string    `json:"downloadUrl,omitempty"`
}

type AttachParams struct {
	WorkOrderID string
	VendorID    string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Target is the work order an invoice is attached to.
type Target struct {
	WorkOrderID          string
	MaintenanceRequestID string
	Status               string
	AssignedVendorID     string
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Repository interface {
	LoadTarget(ctx context.Context, tx pgx.Tx, workOrderID string) (Target, error)
	Insert(ctx context.Context, tx pgx.Tx, doc Document) (Document, error)
	ListByRequest(ctx context.Context, tx pgx.Tx, maintenanceRequestID, kind string) ([]Document, error)
}

type Service struct {
	pool    TxBeginner
	repo    Repository
	store   ObjectStore
	log     *logger.Logger
	maxSize int64
}

func NewService(pool TxBeginner, repo Repository, store ObjectStore, maxSize int64, log *logger.Logger) *Service {
	if repo == nil {
		repo = NewStore()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Service{pool: pool, repo: repo, store: store, log: log, maxSize: maxSize}
}

// AttachInvoice uploads an invoice from the vendor holding the work order.
// The amount of record for payouts stays the cost estimation.
func (s *Service) AttachInvoice(ctx context.Context, params AttachParams) (Document, error) {
	if err := s.validate(params); err != nil {
		return Document{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	target, err := s.repo.LoadTarget(ctx, tx, params.WorkOrderID)
	if err != nil {
		return Document{}, err
	}
	if target.Status != "IN_PROGRESS" && target.Status != "COMPLETED" {
		return Document{}, fmt.Errorf("%w: work order %s is %s", ErrWrongStatus, target.WorkOrderID, target.Status)
	}
	if target.AssignedVendorID != params.VendorID {
		return Document{}, fmt.Errorf("%w: vendor %s, work order %s", ErrNotAssigned, params.VendorID, target.WorkOrderID)
	}

	key := objectKey(target.MaintenanceRequestID, params.FileName)
	if err := s.store.Upload(ctx, key, params.ContentType, params.Body, params.Size); err != nil {
		return Document{}, err
	}

	woID := target.WorkOrderID
	doc, err := s.repo.Insert(ctx, tx, Document{
		MaintenanceRequestID: target.MaintenanceRequestID,
		WorkOrderID:          &woID,
		Kind:                 KindInvoice,
		ObjectKey:            key,
		FileName:             path.Base(params.FileName),
		ContentType:          params.ContentType,
		SizeBytes:            params.Size,
		UploadedBy:           params.VendorID,
	})
	if err == nil {
		err = tx.Commit(ctx)
		if err != nil {
			err = fmt.Errorf("document: commit invoice: %w", err)
		}
	}
	if err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			s.log.WithContext(ctx).CollaboratorFailure("object_store", "delete_orphan", delErr)
		}
		return Document{}, err
	}

	s.log.WithContext(ctx).Info("invoice attached", "document_id", doc.ID, "work_order_id", woID, "object_key", key)
	return doc, nil
}

func (s *Service) validate(params AttachParams) error {
	if params.WorkOrderID == "" || params.VendorID == "" {
		return fmt.Errorf("%w: missing work order or vendor id", ErrInvalidFile)
	}
	if strings.TrimSpace(params.FileName) == "" || params.Body == nil {
		return fmt.Errorf("%w: missing file", ErrInvalidFile)
	}
	exts, ok := allowedTypes[params.ContentType]
	if !ok {
		return fmt.Errorf("%w: content type %q not allowed", ErrInvalidFile, params.ContentType)
	}
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(params.FileName, "\\", "/")))
	if !slices.Contains(exts, ext) {
		return fmt.Errorf("%w: extension %q does not match %s", ErrInvalidFile, ext, params.ContentType)
	}
	if params.Size <= 0 || (s.maxSize > 0 && params.Size > s.maxSize) {
		return fmt.Errorf("%w: size %d outside 1..%d bytes", ErrInvalidFile, params.Size, s.maxSize)
	}
	return nil
}

// ListInvoices returns invoices for a maintenance request, newest first, each
// with a short-lived download link.
func (s *Service) ListInvoices(ctx context.Context, maintenanceRequestID string) ([]Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("document: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	docs, err := s.repo.ListByRequest(ctx, tx, maintenanceRequestID, KindInvoice)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		link, err := s.store.DownloadURL(ctx, docs[i].ObjectKey)
		if err != nil {
			s.log.WithContext(ctx).CollaboratorFailure("object_store", "presign", err)
			continue
		}
		docs[i].DownloadURL = link
	}
	return docs, nil
}

func objectKey(maintenanceRequestID, fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	return path.Join("invoices", maintenanceRequestID, uuid.NewString()+"_"+base)
}
