package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taxline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertClient(ctx context.Context, c domain.Client) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO clients(id,name,email,created_at) VALUES (?,?,?,?)`,
		c.ID, c.Name, nullable(c.Email), c.CreatedAt)
	return err
}

func (r Repo) GetClient(ctx context.Context, id string) (domain.Client, error) {
	var c domain.Client
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(email,''),created_at FROM clients WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(email,''),created_at FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) SingleClient(ctx context.Context) (domain.Client, error) {
	clients, err := r.ListClients(ctx)
	if err != nil {
		return domain.Client{}, err
	}
	if len(clients) == 0 {
		return domain.Client{}, ErrNotFound
	}
	if len(clients) > 1 {
		return domain.Client{}, fmt.Errorf("multiple clients exist; specify --client")
	}
	return clients[0], nil
}

const agreementCols = `id,client_id,status,COALESCE(description,''),contract_document_id,envelope_id,created_at,updated_at`

func scanAgreement(scan func(dest ...any) error) (domain.Agreement, error) {
	var a domain.Agreement
	var contractDoc, envelope sql.NullString
	err := scan(&a.ID, &a.ClientID, &a.Status, &a.Description, &contractDoc, &envelope, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if contractDoc.Valid {
		a.ContractDocumentID = &contractDoc.String
	}
	if envelope.Valid {
		a.EnvelopeID = &envelope.String
	}
	return a, err
}

func (r Repo) InsertAgreementTx(ctx context.Context, tx *sql.Tx, a domain.Agreement) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agreements(id,client_id,status,description,contract_document_id,envelope_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.ClientID, a.Status, nullable(a.Description), a.ContractDocumentID, a.EnvelopeID, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAgreement(ctx context.Context, id string) (domain.Agreement, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+agreementCols+` FROM agreements WHERE id=?`, id)
	return scanAgreement(row.Scan)
}

// ListAgreements returns a client's agreements, most recently created first.
func (r Repo) ListAgreements(ctx context.Context, clientID string) ([]domain.Agreement, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+agreementCols+` FROM agreements WHERE client_id=? ORDER BY created_at DESC, id DESC`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAgreementTx(ctx context.Context, tx *sql.Tx, a domain.Agreement) error {
	res, err := tx.ExecContext(ctx, `UPDATE agreements SET status=?,description=?,contract_document_id=?,envelope_id=?,updated_at=? WHERE id=?`,
		a.Status, nullable(a.Description), a.ContractDocumentID, a.EnvelopeID, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertTodoTx(ctx context.Context, tx *sql.Tx, t domain.Todo) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO todos(id,agreement_id,title,category,status,document_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.AgreementID, t.Title, nullable(t.Category), t.Status, t.DocumentID, t.CreatedAt)
	return err
}

func (r Repo) GetTodo(ctx context.Context, id string) (domain.Todo, error) {
	var t domain.Todo
	var category sql.NullString
	var docID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,agreement_id,title,category,status,document_id,created_at FROM todos WHERE id=?`, id).
		Scan(&t.ID, &t.AgreementID, &t.Title, &category, &t.Status, &docID, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if category.Valid {
		t.Category = category.String
	}
	if docID.Valid {
		t.DocumentID = &docID.String
	}
	return t, err
}

func (r Repo) ListTodos(ctx context.Context, agreementID string) ([]domain.Todo, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,agreement_id,title,category,status,document_id,created_at FROM todos WHERE agreement_id=? ORDER BY created_at, id`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Todo
	for rows.Next() {
		var t domain.Todo
		var category, docID sql.NullString
		if err := rows.Scan(&t.ID, &t.AgreementID, &t.Title, &category, &t.Status, &docID, &t.CreatedAt); err != nil {
			return nil, err
		}
		if category.Valid {
			t.Category = category.String
		}
		if docID.Valid {
			t.DocumentID = &docID.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTodoTx(ctx context.Context, tx *sql.Tx, t domain.Todo) error {
	res, err := tx.ExecContext(ctx, `UPDATE todos SET title=?,category=?,status=?,document_id=? WHERE id=?`,
		t.Title, nullable(t.Category), t.Status, t.DocumentID, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const documentCols = `id,agreement_id,COALESCE(name,''),upload_status,acceptance_status,created_at,updated_at`

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO documents(id,agreement_id,name,upload_status,acceptance_status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		d.ID, d.AgreementID, nullable(d.Name), d.UploadStatus, d.AcceptanceStatus, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	var d domain.Document
	err := r.DB.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id=?`, id).
		Scan(&d.ID, &d.AgreementID, &d.Name, &d.UploadStatus, &d.AcceptanceStatus, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) ListDocuments(ctx context.Context, agreementID string) ([]domain.Document, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+documentCols+` FROM documents WHERE agreement_id=? ORDER BY created_at, id`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.AgreementID, &d.Name, &d.UploadStatus, &d.AcceptanceStatus, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpdateDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	res, err := tx.ExecContext(ctx, `UPDATE documents SET name=?,upload_status=?,acceptance_status=?,updated_at=? WHERE id=?`,
		nullable(d.Name), d.UploadStatus, d.AcceptanceStatus, d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const chargeCols = `id,agreement_id,status,amount,currency,COALESCE(description,''),payment_link,created_at`

func (r Repo) InsertChargeTx(ctx context.Context, tx *sql.Tx, c domain.Charge) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO charges(id,agreement_id,status,amount,currency,description,payment_link,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.AgreementID, c.Status, c.Amount, c.Currency, nullable(c.Description), c.PaymentLink, c.CreatedAt)
	return err
}

func scanCharge(scan func(dest ...any) error) (domain.Charge, error) {
	var c domain.Charge
	var link sql.NullString
	err := scan(&c.ID, &c.AgreementID, &c.Status, &c.Amount, &c.Currency, &c.Description, &link, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if link.Valid {
		c.PaymentLink = &link.String
	}
	return c, err
}

func (r Repo) GetCharge(ctx context.Context, id string) (domain.Charge, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+chargeCols+` FROM charges WHERE id=?`, id)
	return scanCharge(row.Scan)
}

func (r Repo) ListCharges(ctx context.Context, agreementID string) ([]domain.Charge, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+chargeCols+` FROM charges WHERE agreement_id=? ORDER BY created_at, id`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Charge
	for rows.Next() {
		c, err := scanCharge(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateChargeTx(ctx context.Context, tx *sql.Tx, c domain.Charge) error {
	res, err := tx.ExecContext(ctx, `UPDATE charges SET status=?,payment_link=? WHERE id=?`, c.Status, c.PaymentLink, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertComplianceLinkTx(ctx context.Context, tx *sql.Tx, l domain.ComplianceLink) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO compliance_links(client_id,reviewer_id,name,created_at) VALUES (?,?,?,?)
ON CONFLICT(client_id,reviewer_id) DO UPDATE SET name=excluded.name`,
		l.ClientID, l.ReviewerID, nullable(l.Name), l.CreatedAt)
	return err
}

func (r Repo) ListComplianceLinks(ctx context.Context, clientID string) ([]domain.ComplianceLink, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT client_id,reviewer_id,COALESCE(name,''),created_at FROM compliance_links WHERE client_id=? ORDER BY created_at`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ComplianceLink
	for rows.Next() {
		var l domain.ComplianceLink
		if err := rows.Scan(&l.ClientID, &l.ReviewerID, &l.Name, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// EventsAfter returns up to limit events with id greater than cursor,
// optionally scoped to one agreement.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, agreementID string) ([]domain.Event, error) {
	clauses := []string{"id > ?"}
	args := []any{cursor}
	if agreementID != "" {
		clauses = append(clauses, "agreement_id=?")
		args = append(args, agreementID)
	}
	query := `SELECT id,ts,type,COALESCE(agreement_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.AgreementID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the highest event id, or 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
