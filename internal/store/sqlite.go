package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.io/infrasutra/mailcat/internal/filter"
	"github.io/infrasutra/mailcat/internal/opt"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrRevisionConflict reports that another writer already holds the
	// requested revision number for the template.
	ErrRevisionConflict = errors.New("store: revision number already taken")
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS mail (
            id TEXT PRIMARY KEY,
            from_email TEXT NOT NULL,
            subject TEXT NOT NULL,
            body TEXT NOT NULL,
            has_cc INTEGER NOT NULL DEFAULT 0,
            has_bcc INTEGER NOT NULL DEFAULT 0,
            created_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS mail_recipients (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            mail_id TEXT NOT NULL,
            email TEXT NOT NULL,
            type TEXT NOT NULL,
            position INTEGER NOT NULL,
            FOREIGN KEY(mail_id) REFERENCES mail(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS templates (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS template_revisions (
            id TEXT PRIMARY KEY,
            template_id TEXT NOT NULL,
            revision_number INTEGER NOT NULL CHECK (revision_number > 0),
            subject_template TEXT NOT NULL,
            body_template TEXT NOT NULL,
            default_from TEXT,
            default_to TEXT,
            default_cc TEXT,
            default_bcc TEXT,
            created_at INTEGER NOT NULL,
            FOREIGN KEY(template_id) REFERENCES templates(id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_mail_recipients_email ON mail_recipients(email, type, mail_id);`,
		`CREATE INDEX IF NOT EXISTS idx_mail_recipients_mail ON mail_recipients(mail_id);`,
		`CREATE INDEX IF NOT EXISTS idx_mail_from_created ON mail(from_email, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_mail_created_id ON mail(created_at, id);`,
		`CREATE INDEX IF NOT EXISTS idx_templates_created_id ON templates(created_at, id);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_revisions_template_number ON template_revisions(template_id, revision_number);`,
		`CREATE INDEX IF NOT EXISTS idx_revisions_template_created ON template_revisions(template_id, created_at);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) InsertMail(ctx context.Context, mail Mail) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO mail
        (id, from_email, subject, body, has_cc, has_bcc, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?);`,
		mail.ID,
		mail.From,
		mail.Subject,
		mail.Body,
		mail.CcRecipients.Present(),
		mail.BccRecipients.Present(),
		unixNano(mail.Date),
	)
	if err != nil {
		return fmt.Errorf("insert mail: %w", err)
	}

	groups := []struct {
		rtype  string
		emails []string
	}{
		{recipientTo, mail.ToRecipients},
		{recipientCc, mail.CcRecipients.OrElse(nil)},
		{recipientBcc, mail.BccRecipients.OrElse(nil)},
	}
	for _, group := range groups {
		for position, email := range group.emails {
			_, err = tx.ExecContext(ctx, `INSERT INTO mail_recipients (mail_id, email, type, position)
                VALUES (?, ?, ?, ?);`, mail.ID, email, group.rtype, position)
			if err != nil {
				return fmt.Errorf("insert recipient: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mail: %w", err)
	}
	return nil
}

func (s *Store) FindMail(ctx context.Context, q filter.Query) ([]Mail, error) {
	c, err := compile(q, mailTable)
	if err != nil {
		return nil, err
	}
	query := `SELECT m.id, m.from_email, m.subject, m.body, m.has_cc, m.has_bcc, m.created_at
        FROM mail m` + c.where + c.orderBy + " LIMIT ? OFFSET ?"
	args := append(c.args, q.Limit, q.Skip)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find mail: %w", err)
	}
	defer rows.Close()

	mails := []Mail{}
	var ids []string
	var hasCc, hasBcc []bool
	for rows.Next() {
		var mail Mail
		var cc, bcc bool
		var createdAt int64
		if err := rows.Scan(
			&mail.ID,
			&mail.From,
			&mail.Subject,
			&mail.Body,
			&cc,
			&bcc,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan mail: %w", err)
		}
		mail.Date = fromUnixNano(createdAt)
		mails = append(mails, mail)
		ids = append(ids, mail.ID)
		hasCc = append(hasCc, cc)
		hasBcc = append(hasBcc, bcc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find mail: %w", err)
	}
	if len(ids) == 0 {
		return mails, nil
	}

	recipients, err := s.listRecipients(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range mails {
		groups := recipients[mails[i].ID]
		mails[i].ToRecipients = nonNil(groups[recipientTo])
		if hasCc[i] {
			mails[i].CcRecipients = opt.Some(nonNil(groups[recipientCc]))
		}
		if hasBcc[i] {
			mails[i].BccRecipients = opt.Some(nonNil(groups[recipientBcc]))
		}
	}
	return mails, nil
}

func (s *Store) listRecipients(ctx context.Context, mailIDs []string) (map[string]map[string][]string, error) {
	placeholders := strings.Repeat("?,", len(mailIDs))
	placeholders = strings.TrimSuffix(placeholders, ",")
	query := fmt.Sprintf(`SELECT mail_id, email, type FROM mail_recipients
        WHERE mail_id IN (%s) ORDER BY mail_id, type, position;`, placeholders)

	args := make([]any, len(mailIDs))
	for i, id := range mailIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	result := make(map[string]map[string][]string)
	for rows.Next() {
		var mailID string
		var email string
		var rtype string
		if err := rows.Scan(&mailID, &email, &rtype); err != nil {
			return nil, fmt.Errorf("list recipients: %w", err)
		}
		if _, ok := result[mailID]; !ok {
			result[mailID] = map[string][]string{}
		}
		result[mailID][rtype] = append(result[mailID][rtype], email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return result, nil
}

func (s *Store) InsertTemplate(ctx context.Context, template Template) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO templates (id, name, description, created_at)
        VALUES (?, ?, ?, ?);`,
		template.ID, template.Name, template.Description, unixNano(template.CreatedDate))
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

const templateColumns = `t.id, t.name, t.description, t.created_at`

func (s *Store) FindTemplates(ctx context.Context, q filter.Query) ([]Template, error) {
	c, err := compile(q, templateTable)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + templateColumns + ` FROM templates t` + c.where + c.orderBy + " LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(c.args, q.Limit, q.Skip)...)
	if err != nil {
		return nil, fmt.Errorf("find templates: %w", err)
	}
	defer rows.Close()

	templates := []Template{}
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, template)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find templates: %w", err)
	}
	return templates, nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates t WHERE t.id = ?;`, id)
	template, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, ErrNotFound
	}
	return template, err
}

// UpdateTemplate applies patch and returns the updated row from the same
// statement.
func (s *Store) UpdateTemplate(ctx context.Context, id string, patch TemplatePatch) (Template, error) {
	var sets []string
	var args []any
	if name, ok := patch.Name.Get(); ok {
		sets = append(sets, "name = ?")
		args = append(args, name)
	}
	if description, ok := patch.Description.Get(); ok {
		sets = append(sets, "description = ?")
		args = append(args, description)
	}
	if len(sets) == 0 {
		return Template{}, errors.New("update template: empty patch")
	}
	args = append(args, id)

	row := s.db.QueryRowContext(ctx, `UPDATE templates SET `+strings.Join(sets, ", ")+`
        WHERE id = ?
        RETURNING id, name, description, created_at;`, args...)
	template, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, ErrNotFound
	}
	return template, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (Template, error) {
	var template Template
	var createdAt int64
	if err := row.Scan(&template.ID, &template.Name, &template.Description, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Template{}, sql.ErrNoRows
		}
		return Template{}, fmt.Errorf("scan template: %w", err)
	}
	template.CreatedDate = fromUnixNano(createdAt)
	return template, nil
}

// InsertTemplateRevision stores a revision. It returns ErrRevisionConflict
// when the (template, revision number) pair already exists.
func (s *Store) InsertTemplateRevision(ctx context.Context, revision TemplateRevision) error {
	defaultTo, err := encodeList(revision.DefaultToRecipients)
	if err != nil {
		return err
	}
	defaultCc, err := encodeList(revision.DefaultCcRecipients)
	if err != nil {
		return err
	}
	defaultBcc, err := encodeList(revision.DefaultBccRecipients)
	if err != nil {
		return err
	}
	var defaultFrom any
	if from, ok := revision.DefaultFrom.Get(); ok {
		defaultFrom = from
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO template_revisions
        (id, template_id, revision_number, subject_template, body_template,
         default_from, default_to, default_cc, default_bcc, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		revision.ID,
		revision.TemplateReference,
		revision.RevisionNumber,
		revision.SubjectTemplate,
		revision.BodyTemplate,
		defaultFrom,
		defaultTo,
		defaultCc,
		defaultBcc,
		unixNano(revision.CreatedDate),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRevisionConflict
		}
		return fmt.Errorf("insert template revision: %w", err)
	}
	return nil
}

const revisionColumns = `tr.id, tr.template_id, tr.revision_number, tr.subject_template, tr.body_template,
        tr.default_from, tr.default_to, tr.default_cc, tr.default_bcc, tr.created_at`

func (s *Store) FindTemplateRevisions(ctx context.Context, q filter.Query) ([]TemplateRevision, error) {
	c, err := compile(q, revisionTable)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + revisionColumns + ` FROM template_revisions tr` + c.where + c.orderBy + " LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(c.args, q.Limit, q.Skip)...)
	if err != nil {
		return nil, fmt.Errorf("find template revisions: %w", err)
	}
	defer rows.Close()

	revisions := []TemplateRevision{}
	for rows.Next() {
		revision, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, revision)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find template revisions: %w", err)
	}
	return revisions, nil
}

// GetTemplateRevision returns ErrNotFound when the revision does not exist
// or belongs to another template.
func (s *Store) GetTemplateRevision(ctx context.Context, templateID, revisionID string) (TemplateRevision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+revisionColumns+`
        FROM template_revisions tr WHERE tr.id = ? AND tr.template_id = ?;`, revisionID, templateID)
	revision, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TemplateRevision{}, ErrNotFound
	}
	return revision, err
}

func scanRevision(row scanner) (TemplateRevision, error) {
	var revision TemplateRevision
	var defaultFrom, defaultTo, defaultCc, defaultBcc sql.NullString
	var createdAt int64
	if err := row.Scan(
		&revision.ID,
		&revision.TemplateReference,
		&revision.RevisionNumber,
		&revision.SubjectTemplate,
		&revision.BodyTemplate,
		&defaultFrom,
		&defaultTo,
		&defaultCc,
		&defaultBcc,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TemplateRevision{}, sql.ErrNoRows
		}
		return TemplateRevision{}, fmt.Errorf("scan template revision: %w", err)
	}
	revision.CreatedDate = fromUnixNano(createdAt)
	if defaultFrom.Valid {
		revision.DefaultFrom = opt.Some(defaultFrom.String)
	}
	var err error
	if revision.DefaultToRecipients, err = decodeList(defaultTo); err != nil {
		return TemplateRevision{}, err
	}
	if revision.DefaultCcRecipients, err = decodeList(defaultCc); err != nil {
		return TemplateRevision{}, err
	}
	if revision.DefaultBccRecipients, err = decodeList(defaultBcc); err != nil {
		return TemplateRevision{}, err
	}
	return revision, nil
}

// encodeList stores absent lists as NULL and present ones as a JSON array.
func encodeList(list opt.Optional[[]string]) (any, error) {
	emails, ok := list.Get()
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(nonNil(emails))
	if err != nil {
		return nil, fmt.Errorf("encode recipients: %w", err)
	}
	return string(data), nil
}

func decodeList(value sql.NullString) (opt.Optional[[]string], error) {
	if !value.Valid {
		return opt.None[[]string](), nil
	}
	emails := []string{}
	if err := json.Unmarshal([]byte(value.String), &emails); err != nil {
		return opt.None[[]string](), fmt.Errorf("decode recipients: %w", err)
	}
	return opt.Some(emails), nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE")
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
