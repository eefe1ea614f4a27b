package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func (r *Store) LoadTarget(ctx context.Context, tx pgx.Tx, workOrderID string) (Target, error) {
	const q = `
SELECT wo.id::text, wo.maintenance_request_id::text, wo.status::text, COALESCE(a.vendor_id::text, '')
FROM work_orders wo
LEFT JOIN work_order_assignments a ON a.work_order_id = wo.id AND a.active
WHERE wo.id = $1
FOR SHARE OF wo
`
	var t Target
	err := tx.QueryRow(ctx, q, workOrderID).Scan(&t.WorkOrderID, &t.MaintenanceRequestID, &t.Status, &t.AssignedVendorID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.Is(err, pgx.ErrNoRows) || (errors.As(err, &pgErr) && pgErr.Code == "22P02") {
			return Target{}, fmt.Errorf("%w: work order %s", ErrNotFound, workOrderID)
		}
		return Target{}, fmt.Errorf("document: load work order: %w", err)
	}
	return t, nil
}

const documentColumns = `id::text, maintenance_request_id::text, work_order_id::text, kind, object_key, file_name,
content_type, size_bytes, uploaded_by::text, created_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.MaintenanceRequestID, &d.WorkOrderID, &d.Kind, &d.ObjectKey, &d.FileName,
		&d.ContentType, &d.SizeBytes, &d.UploadedBy, &d.CreatedAt)
	return d, err
}

func (r *Store) Insert(ctx context.Context, tx pgx.Tx, doc Document) (Document, error) {
	query := `
INSERT INTO documents (maintenance_request_id, work_order_id, kind, object_key, file_name, content_type, size_bytes, uploaded_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + documentColumns

	out, err := scanDocument(tx.QueryRow(ctx, query, doc.MaintenanceRequestID, doc.WorkOrderID, doc.Kind,
		doc.ObjectKey, doc.FileName, doc.ContentType, doc.SizeBytes, doc.UploadedBy))
	if err != nil {
		return Document{}, fmt.Errorf("document: insert: %w", err)
	}
	return out, nil
}

func (r *Store) ListByRequest(ctx context.Context, tx pgx.Tx, maintenanceRequestID, kind string) ([]Document, error) {
	query := `SELECT ` + documentColumns + `
FROM documents
WHERE maintenance_request_id = $1 AND kind = $2
ORDER BY created_at DESC, id`

	rows, err := tx.Query(ctx, query, maintenanceRequestID, kind)
	if err != nil {
		return nil, fmt.Errorf("document: list: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0, 4)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("document: scan: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "22P02" {
			return []Document{}, nil
		}
		return nil, fmt.Errorf("document: iterate: %w", err)
	}
	return docs, nil
}
