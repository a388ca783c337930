package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/facturacion-cfdi/internal/application/timbrado"
	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
)

var _ timbrado.Journal = (*StampJournalRepo)(nil)

// Schema tablas de la bitácora. stamp_journal es de solo inserción; cfdi_document_state
// guarda el último estado por documento para la consulta rápida.
const Schema = `
CREATE TABLE IF NOT EXISTS stamp_journal (
    id           UUID PRIMARY KEY,
    seq          BIGSERIAL,
    document_key TEXT        NOT NULL,
    uuid         TEXT,
    emitter_rfc  TEXT        NOT NULL,
    receiver_rfc TEXT,
    total        NUMERIC(18,2),
    from_state   TEXT,
    to_state     TEXT        NOT NULL,
    method       TEXT,
    code         TEXT,
    message      TEXT,
    recorded_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS stamp_journal_document_idx ON stamp_journal (document_key);
CREATE INDEX IF NOT EXISTS stamp_journal_uuid_idx ON stamp_journal (uuid) WHERE uuid IS NOT NULL;

CREATE TABLE IF NOT EXISTS cfdi_document_state (
    document_key TEXT PRIMARY KEY,
    uuid         TEXT,
    state        TEXT        NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS cfdi_document_state_uuid_idx ON cfdi_document_state (uuid) WHERE uuid IS NOT NULL;
`

// EnsureSchema crea las tablas si no existen.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("crear esquema de bitácora: %w", err)
	}
	return nil
}

// StampJournalRepo implementación de timbrado.Journal.
type StampJournalRepo struct {
	q  Querier
	tx *TxRunner
}

// NewStampJournalRepository construye el adaptador sobre el pool.
func NewStampJournalRepository(pool *pgxpool.Pool) *StampJournalRepo {
	return &StampJournalRepo{q: pool, tx: NewTxRunner(pool)}
}

// Record inserta la transición y actualiza el último estado en la misma transacción.
// Reinsertar el mismo ID no es error ni vuelve a mover el estado.
func (r *StampJournalRepo) Record(ctx context.Context, e timbrado.JournalEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return r.tx.Run(ctx, func(q Querier) error {
		insert := `
			INSERT INTO stamp_journal (id, document_key, uuid, emitter_rfc, receiver_rfc, total,
			                           from_state, to_state, method, code, message, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO NOTHING`
		tag, err := q.Exec(ctx, insert,
			e.ID, e.DocumentKey, nullIfEmpty(strings.ToUpper(e.UUID)), e.EmitterRFC, nullIfEmpty(e.ReceiverRFC), e.Total,
			nullIfEmpty(string(e.From)), string(e.To), nullIfEmpty(e.Method), nullIfEmpty(e.Code), nullIfEmpty(e.Message), e.At,
		)
		if err != nil {
			return fmt.Errorf("insert stamp_journal: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		upsert := `
			INSERT INTO cfdi_document_state (document_key, uuid, state, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (document_key) DO UPDATE
			SET state      = EXCLUDED.state,
			    uuid       = COALESCE(EXCLUDED.uuid, cfdi_document_state.uuid),
			    updated_at = EXCLUDED.updated_at`
		if _, err := q.Exec(ctx, upsert, e.DocumentKey, nullIfEmpty(strings.ToUpper(e.UUID)), string(e.To), e.At); err != nil {
			return fmt.Errorf("upsert cfdi_document_state: %w", err)
		}
		return nil
	})
}

// Last busca el documento por digest o por UUID y devuelve su transición más reciente.
func (r *StampJournalRepo) Last(ctx context.Context, key string) (timbrado.JournalEntry, bool, error) {
	query := `
		SELECT j.id, j.document_key, COALESCE(s.uuid, ''), j.emitter_rfc, COALESCE(j.receiver_rfc, ''),
		       COALESCE(j.total, 0), COALESCE(j.from_state, ''), j.to_state, COALESCE(j.method, ''),
		       COALESCE(j.code, ''), COALESCE(j.message, ''), j.recorded_at
		FROM cfdi_document_state s
		JOIN stamp_journal j ON j.document_key = s.document_key
		WHERE s.document_key = $1 OR s.uuid = UPPER($1)
		ORDER BY s.updated_at DESC, j.seq DESC
		LIMIT 1`
	var e timbrado.JournalEntry
	var from, to string
	err := r.q.QueryRow(ctx, query, key).Scan(&e.ID, &e.DocumentKey, &e.UUID, &e.EmitterRFC, &e.ReceiverRFC,
		&e.Total, &from, &to, &e.Method, &e.Code, &e.Message, &e.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return timbrado.JournalEntry{}, false, nil
	}
	if err != nil {
		return timbrado.JournalEntry{}, false, fmt.Errorf("consultar estado de %s: %w", key, err)
	}
	e.From = cfdi.State(from)
	e.To = cfdi.State(to)
	return e, true, nil
}

// Pending documentos cuyo último estado quedó en Pending o CancelPending: la lista
// que un proceso de conciliación revisa contra el estatus del SAT.
func (r *StampJournalRepo) Pending(ctx context.Context, limit int) ([]timbrado.JournalEntry, error) {
	query := `
		SELECT DISTINCT ON (j.document_key)
		       j.id, j.document_key, COALESCE(j.uuid, ''), j.emitter_rfc, COALESCE(j.receiver_rfc, ''),
		       COALESCE(j.total, 0), j.to_state, j.recorded_at
		FROM stamp_journal j
		JOIN cfdi_document_state s ON s.document_key = j.document_key
		WHERE s.state IN ($1, $2)
		ORDER BY j.document_key, j.seq DESC
		LIMIT $3`
	rows, err := r.q.Query(ctx, query, string(cfdi.StatePending), string(cfdi.StateCancelPending), limit)
	if err != nil {
		return nil, fmt.Errorf("listar pendientes: %w", err)
	}
	defer rows.Close()

	var out []timbrado.JournalEntry
	for rows.Next() {
		var e timbrado.JournalEntry
		var to string
		if err := rows.Scan(&e.ID, &e.DocumentKey, &e.UUID, &e.EmitterRFC, &e.ReceiverRFC, &e.Total, &to, &e.At); err != nil {
			return nil, fmt.Errorf("scan pendiente: %w", err)
		}
		e.To = cfdi.State(to)
		out = append(out, e)
	}
	return out, rows.Err()
}
